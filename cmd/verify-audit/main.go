// Command verify-audit re-hashes the audit log of a tenant database and
// reports rows that were edited or deleted after the fact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/db"
	"github.com/JoshuaRamirez/ACS-sub000/engine"
	"github.com/JoshuaRamirez/ACS-sub000/internal/config"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to the YAML configuration file")
	timeout := flag.Duration("timeout", 5*time.Minute, "verification time budget")
	flag.Parse()

	if err := run(*configFile, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "verify-audit: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, timeout time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		LogDir:           cfg.Logging.LogDir,
		AlsoLogToConsole: true,
		TenantID:         cfg.Tenant.ID,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = slogging.Get().Close() }()

	gormDB, err := db.NewGormDB(db.GormConfig{
		Type:              db.DatabaseType(cfg.Database.Type),
		PostgresHost:      cfg.Database.Postgres.Host,
		PostgresPort:      cfg.Database.Postgres.Port,
		PostgresUser:      cfg.Database.Postgres.User,
		PostgresPassword:  cfg.Database.Postgres.Password,
		PostgresDatabase:  cfg.Database.Postgres.Database,
		PostgresSSLMode:   cfg.Database.Postgres.SSLMode,
		MySQLHost:         cfg.Database.MySQL.Host,
		MySQLPort:         cfg.Database.MySQL.Port,
		MySQLUser:         cfg.Database.MySQL.User,
		MySQLPassword:     cfg.Database.MySQL.Password,
		MySQLDatabase:     cfg.Database.MySQL.Database,
		SQLServerHost:     cfg.Database.SQLServer.Host,
		SQLServerPort:     cfg.Database.SQLServer.Port,
		SQLServerUser:     cfg.Database.SQLServer.User,
		SQLServerPassword: cfg.Database.SQLServer.Password,
		SQLServerDatabase: cfg.Database.SQLServer.Database,
		SQLitePath:        cfg.Database.SQLite.Path,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() { _ = gormDB.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := engine.VerifyAuditChain(ctx, gormDB.DB())
	if err != nil {
		return err
	}

	fmt.Printf("checked %d audit rows\n", report.RowsChecked)
	if report.OK() {
		fmt.Println("audit log verified clean")
		return nil
	}

	for _, finding := range report.Findings {
		fmt.Printf("row %d: %s\n", finding.ID, finding.Reason)
	}
	return fmt.Errorf("%d integrity findings", len(report.Findings))
}
