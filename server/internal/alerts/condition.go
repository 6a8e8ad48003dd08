package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btscan/btscan/server/internal/store"
)

// condition is a parsed "field op value" rule expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

// parseCondition parses a rule condition against an agent's sweep counters.
//
// Supported expressions (field operator value):
//
//	count > 500
//	after_cleanup == 0
//	removed >= 20
//	added > 50
//	records > 10000
func parseCondition(cond string) (condition, error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	c := condition{field: parts[0], op: parts[1]}
	if _, ok := numericField(c.field, store.AgentStats{}); !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", cond, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", cond, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: %w", cond, err)
	}
	c.threshold = v
	return c, nil
}

// eval returns whether the condition holds for st and the value it tested.
func (c condition) eval(st store.AgentStats) (bool, float64) {
	v, _ := numericField(c.field, st)
	return compareFloat(v, c.op, c.threshold), v
}

// numericField maps a field name to its value in the agent stats.
func numericField(field string, st store.AgentStats) (float64, bool) {
	switch field {
	case "count":
		return float64(st.Count), true
	case "after_cleanup":
		return float64(st.AfterCleanup), true
	case "removed":
		return float64(st.Removed), true
	case "added":
		return float64(st.Added), true
	case "records":
		return float64(st.Records), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
