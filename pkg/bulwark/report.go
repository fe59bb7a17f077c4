package bulwark

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CrashReport is the durable record of one recovered panic, shaped for
// journaling and later inspection.
type CrashReport struct {
	// ID is a stable unique identifier for this report.
	ID string `json:"id"`
	// Scope names the guarded surface that crashed.
	Scope string `json:"scope"`
	// Message is the human-readable panic description.
	Message string `json:"message"`
	// Category is the coarse classification of the panic value.
	Category Category `json:"category"`
	// Code is the numeric code paired with Category.
	Code int `json:"code"`
	// Stack is the formatted stack of the panicking goroutine.
	Stack string `json:"stack,omitempty"`
	// Labels stores optional engine-provided key/value context.
	Labels map[string]string `json:"labels,omitempty"`
	// CapturedAt is the UTC capture timestamp.
	CapturedAt time.Time `json:"captured_at"`
}

// NewCrashReport builds the report for one recovered panic observed at
// scope. It returns nil when cause is nil; journals reject nil reports
// through Validate.
func NewCrashReport(scope string, cause *PanicError) *CrashReport {
	if cause == nil {
		return nil
	}

	return &CrashReport{
		ID:         uuid.New().String(),
		Scope:      scope,
		Message:    cause.Error(),
		Category:   cause.Category,
		Code:       cause.Code,
		Stack:      string(cause.Stack),
		CapturedAt: time.Now().UTC(),
	}
}

// Validate checks report envelope coherence.
func (r *CrashReport) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil report", ErrInvalidReport)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidReport)
	}
	if r.Scope == "" {
		return fmt.Errorf("%w: missing scope", ErrInvalidReport)
	}
	if r.Message == "" {
		return fmt.Errorf("%w: missing message", ErrInvalidReport)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidReport, r.Category)
	}
	if r.CapturedAt.IsZero() {
		return fmt.Errorf("%w: missing captured_at", ErrInvalidReport)
	}

	return nil
}

// Clone returns a deep copy so journal internals and callers cannot mutate
// each other's view of a stored report.
func (r *CrashReport) Clone() *CrashReport {
	if r == nil {
		return nil
	}

	cloned := *r
	if len(r.Labels) > 0 {
		cloned.Labels = make(map[string]string, len(r.Labels))
		for key, value := range r.Labels {
			cloned.Labels[key] = value
		}
	}

	return &cloned
}
