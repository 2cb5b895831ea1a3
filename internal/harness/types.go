package harness

import "github.com/roach88/resgraph/internal/ir"

// ResourceSnapshot is the cached state of one resource after a round.
type ResourceSnapshot struct {
	ID       ir.ResourceID `json:"id"`
	Type     string        `json:"type"`
	RefCount int           `json:"refcount"`
	Ready    bool          `json:"ready"`
	Final    bool          `json:"final"`
	Fields   string        `json:"fields"`
	Keys     int           `json:"kv"`
}

// RoundEvent records the outcome of one round.
type RoundEvent struct {
	Round      int    `json:"round"`
	Generation string `json:"generation"`
	Requested  int    `json:"requested"`
	Loaded     int    `json:"loaded"`
	Missing    int    `json:"missing"`

	// Error summarises a failed round. Resources is only recorded for
	// rounds that succeeded.
	Error     string             `json:"error,omitempty"`
	Resources []ResourceSnapshot `json:"resources,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every round matched its expectation and all assertions held.
	Pass bool `json:"pass"`

	// Trace contains one event per round, in order.
	Trace []RoundEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []RoundEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
