package envutil

import "os"

// Get retrieves an environment variable with automatic ACS_ prefix fallback.
// It checks for the environment variable in this order:
// 1. Exact key as provided
// 2. Key with ACS_ prefix
// 3. Returns fallback if neither exists
//
// This supports both container-style (ACS_ prefixed) and local dev (unprefixed) configurations.
func Get(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	if len(key) < 4 || key[:4] != "ACS_" {
		if value, exists := os.LookupEnv("ACS_" + key); exists {
			return value
		}
	}

	return fallback
}
