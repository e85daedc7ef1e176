package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Category partitions endpoints into independently budgeted groups. Each
// identity carries one counter per category, so exhausting the auth budget
// does not consume the general API budget.
type Category string

const (
	CategoryAPI   Category = "api"
	CategoryAuth  Category = "auth"
	CategoryAI    Category = "ai"
	CategoryAdmin Category = "admin"
)

// Valid reports whether the category is one of the known groups.
func (c Category) Valid() bool {
	switch c {
	case CategoryAPI, CategoryAuth, CategoryAI, CategoryAdmin:
		return true
	}
	return false
}

// Policy is the budget for one category: at most Budget requests per Window.
// A non-zero BlockFor extends the penalty past the window once the budget is
// exhausted.
type Policy struct {
	Budget   int
	Window   time.Duration
	BlockFor time.Duration
}

// DefaultPolicies returns the per-category budgets. Credential endpoints get
// the tightest budget and the longest block since they are the brute-force
// surface.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryAPI:   {Budget: 100, Window: time.Minute},
		CategoryAuth:  {Budget: 10, Window: time.Minute, BlockFor: 5 * time.Minute},
		CategoryAI:    {Budget: 20, Window: time.Minute, BlockFor: time.Minute},
		CategoryAdmin: {Budget: 30, Window: time.Minute, BlockFor: 2 * time.Minute},
	}
}

// FailMode controls what happens when the counter store is unreachable.
// There is deliberately no default: the operator must choose between
// availability (open) and protection (closed).
type FailMode int

const (
	FailModeUnset FailMode = iota
	FailOpen
	FailClosed
)

// ParseFailMode parses the operator-facing setting.
func ParseFailMode(raw string) (FailMode, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailModeUnset, fmt.Errorf("rate limit fail mode must be %q or %q, got %q", "open", "closed", raw)
	}
}

func (m FailMode) String() string {
	switch m {
	case FailOpen:
		return "open"
	case FailClosed:
		return "closed"
	default:
		return "unset"
	}
}
