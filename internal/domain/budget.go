package domain

import "fmt"

const unknownBudgetType = "unknown"

// BudgetType represents the kind of draft budget limit that can be exceeded.
// Using typed constants provides compile-time safety and enables exhaustive
// switch statements for budget violation handling.
type BudgetType uint8

const (
	// BudgetContinuations limits continuation turns for one generation.
	BudgetContinuations BudgetType = iota

	// BudgetRepairRounds limits fallback repair rounds for one extraction.
	BudgetRepairRounds

	// BudgetCalls limits gateway calls across one report run.
	BudgetCalls

	// BudgetTime limits a single work unit's wall-clock execution.
	BudgetTime
)

// String returns the string representation of a BudgetType.
func (b BudgetType) String() string {
	switch b {
	case BudgetContinuations:
		return "continuations"
	case BudgetRepairRounds:
		return "repair_rounds"
	case BudgetCalls:
		return "calls"
	case BudgetTime:
		return "time"
	default:
		return unknownBudgetType
	}
}

const (
	defaultMaxContinuations = 4
	defaultMaxRepairRounds  = 1
	defaultMaxGatewayCalls  = 40
	defaultUnitTimeoutSecs  = 180
)

// DraftBudget defines caller-supplied limits for one logical drafting call.
// Exhausting a budget terminates only that logical operation; nothing in the
// drafting core is fatal to the hosting process.
type DraftBudget struct {
	// MaxContinuations bounds continuation turns per generation. Zero
	// applies the default.
	MaxContinuations int `json:"max_continuations" validate:"min=0"`

	// MaxRepairRounds bounds fallback conversion rounds per extraction.
	MaxRepairRounds int `json:"max_repair_rounds" validate:"min=0"`

	// MaxGatewayCalls bounds total model invocations for one report run
	// (minimum 1).
	MaxGatewayCalls int64 `json:"max_gateway_calls" validate:"required,min=1"`

	// UnitTimeoutSecs wraps one work unit's entire execution, including all
	// of its continuations (minimum 1).
	UnitTimeoutSecs int64 `json:"unit_timeout_secs" validate:"required,min=1"`
}

// DefaultDraftBudget returns the standing limits used when a request does
// not set its own:
//   - MaxContinuations: 4
//   - MaxRepairRounds: 1
//   - MaxGatewayCalls: 40
//   - UnitTimeoutSecs: 180 (3 minutes per unit)
func DefaultDraftBudget() DraftBudget {
	return DraftBudget{
		MaxContinuations: defaultMaxContinuations,
		MaxRepairRounds:  defaultMaxRepairRounds,
		MaxGatewayCalls:  defaultMaxGatewayCalls,
		UnitTimeoutSecs:  defaultUnitTimeoutSecs,
	}
}

// Validate checks if the budget meets all requirements.
// Returns nil if valid, or a validation error describing the first violation.
func (b *DraftBudget) Validate() error { return validate.Struct(b) }

// BudgetExceededError indicates that an operation would exceed a draft budget.
// It reports which limit was hit and the usage at the time of the violation.
type BudgetExceededError struct {
	// Type indicates which budget limit was exceeded.
	Type BudgetType

	// Limit is the configured budget limit.
	Limit int64

	// Used is the usage recorded when the violation was detected.
	Used int64
}

// Error returns a formatted message describing the budget violation.
func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("draft budget exceeded for %s: limit=%d, used=%d", e.Type, e.Limit, e.Used)
}

// NewBudgetExceededError creates a budget exceeded error with usage context.
func NewBudgetExceededError(budgetType BudgetType, limit, used int64) BudgetExceededError {
	return BudgetExceededError{Type: budgetType, Limit: limit, Used: used}
}
