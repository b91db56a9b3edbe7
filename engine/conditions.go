package engine

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// EvalContext carries the request-time facts conditions are evaluated against
type EvalContext struct {
	// Now is the evaluation instant; the zero value means time.Now().UTC()
	Now time.Time
	// ClientIP is the caller address for IP range conditions
	ClientIP string
	// ContextRoles are role names asserted by the caller's session
	ContextRoles []string
	// Attributes are free-form key/value pairs for custom conditions
	Attributes map[string]string
}

func (c EvalContext) now() time.Time {
	if c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}

// ConditionResult explains a single condition outcome
type ConditionResult struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Explanation string `json:"explanation"`
}

// Condition is a predicate that must hold after base permission resolution
// grants access. A single failing condition demotes GRANTED to DENIED.
type Condition interface {
	Evaluate(ctx EvalContext) ConditionResult
}

// TimeOfDayCondition passes when the evaluation hour falls in [StartHour, EndHour)
type TimeOfDayCondition struct {
	StartHour int
	EndHour   int
}

// Evaluate implements Condition
func (c TimeOfDayCondition) Evaluate(ctx EvalContext) ConditionResult {
	hour := ctx.now().Hour()
	passed := hour >= c.StartHour && hour < c.EndHour
	result := ConditionResult{
		Description: fmt.Sprintf("hour >= %d AND hour < %d", c.StartHour, c.EndHour),
		Passed:      passed,
	}
	if !passed {
		result.Explanation = fmt.Sprintf("current hour %d is outside [%d, %d)", hour, c.StartHour, c.EndHour)
	}
	return result
}

// DayOfWeekCondition passes when the evaluation day is one of Days
type DayOfWeekCondition struct {
	Days []time.Weekday
}

// Evaluate implements Condition
func (c DayOfWeekCondition) Evaluate(ctx EvalContext) ConditionResult {
	day := ctx.now().Weekday()
	names := make([]string, 0, len(c.Days))
	passed := false
	for _, d := range c.Days {
		names = append(names, d.String())
		if d == day {
			passed = true
		}
	}
	result := ConditionResult{
		Description: "day of week in {" + strings.Join(names, ", ") + "}",
		Passed:      passed,
	}
	if !passed {
		result.Explanation = fmt.Sprintf("current day %s is not allowed", day)
	}
	return result
}

// IPRangeCondition passes when the client IP falls inside the CIDR block
type IPRangeCondition struct {
	CIDR string
}

// Evaluate implements Condition
func (c IPRangeCondition) Evaluate(ctx EvalContext) ConditionResult {
	result := ConditionResult{
		Description: "client ip in " + c.CIDR,
	}

	_, network, err := net.ParseCIDR(c.CIDR)
	if err != nil {
		result.Explanation = fmt.Sprintf("invalid CIDR %q: %v", c.CIDR, err)
		return result
	}

	ip := net.ParseIP(ctx.ClientIP)
	if ip == nil {
		result.Explanation = fmt.Sprintf("client ip %q is not a valid address", ctx.ClientIP)
		return result
	}

	if !network.Contains(ip) {
		result.Explanation = fmt.Sprintf("client ip %s is outside %s", ip, c.CIDR)
		return result
	}

	result.Passed = true
	return result
}

// RoleInContextCondition passes when the session asserts the named role
type RoleInContextCondition struct {
	Role string
}

// Evaluate implements Condition
func (c RoleInContextCondition) Evaluate(ctx EvalContext) ConditionResult {
	result := ConditionResult{
		Description: "context role " + c.Role,
	}
	for _, r := range ctx.ContextRoles {
		if r == c.Role {
			result.Passed = true
			return result
		}
	}
	result.Explanation = fmt.Sprintf("role %q is not present in the caller context", c.Role)
	return result
}

// AttributeCondition compares a context attribute against a value.
// Numeric comparisons are attempted first and fall back to string ordering.
type AttributeCondition struct {
	Key      string
	Operator string // eq, ne, gt, ge, lt, le, contains
	Value    string
}

// Evaluate implements Condition
func (c AttributeCondition) Evaluate(ctx EvalContext) ConditionResult {
	result := ConditionResult{
		Description: fmt.Sprintf("%s %s %s", c.Key, c.Operator, c.Value),
	}

	actual, ok := ctx.Attributes[c.Key]
	if !ok {
		result.Explanation = fmt.Sprintf("attribute %q is not present", c.Key)
		return result
	}

	passed, err := compareValues(actual, c.Operator, c.Value)
	if err != nil {
		result.Explanation = err.Error()
		return result
	}

	result.Passed = passed
	if !passed {
		result.Explanation = fmt.Sprintf("attribute %q=%q does not satisfy %s %q", c.Key, actual, c.Operator, c.Value)
	}
	return result
}

func compareValues(actual, operator, expected string) (bool, error) {
	switch operator {
	case "eq":
		return actual == expected, nil
	case "ne":
		return actual != expected, nil
	case "contains":
		return strings.Contains(actual, expected), nil
	case "gt", "ge", "lt", "le":
		cmp := compareOrdered(actual, expected)
		switch operator {
		case "gt":
			return cmp > 0, nil
		case "ge":
			return cmp >= 0, nil
		case "lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("unknown condition operator %q", operator)
	}
}

func compareOrdered(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
