package bulwark

import (
	"fmt"
	"runtime"

	"bulwark/internal/stacktrace"
)

// Category classifies a recovered panic value into a coarse failure family.
type Category string

const (
	// CategoryRuntime marks panics raised by the runtime itself, such as nil
	// dereferences, out-of-range indexing, or nil map writes.
	CategoryRuntime Category = "runtime"
	// CategoryError marks panics whose value is an ordinary error.
	CategoryError Category = "error"
	// CategoryString marks panics raised with a plain string value.
	CategoryString Category = "string"
	// CategoryNilPanic marks panic(nil) and its runtime wrapper value.
	CategoryNilPanic Category = "nil"
	// CategoryValue marks panics carrying any other value.
	CategoryValue Category = "value"
)

// Code returns the stable numeric code paired with the category, or 0 for
// an unknown category.
func (c Category) Code() int {
	switch c {
	case CategoryRuntime:
		return 1
	case CategoryError:
		return 2
	case CategoryString:
		return 3
	case CategoryNilPanic:
		return 4
	case CategoryValue:
		return 5
	default:
		return 0
	}
}

// Valid reports whether the category is one of the defined families.
func (c Category) Valid() bool {
	return c.Code() != 0
}

// PanicError is the immutable record of one recovered panic. It is created
// only inside a recover scope and owned by the caller once returned; nothing
// mutates it afterwards.
type PanicError struct {
	// Value is the recovered panic value, unmodified.
	Value any
	// Category is the coarse classification of Value.
	Category Category
	// Code is the numeric code paired with Category.
	Code int
	// Message is the human-readable description derived from Value.
	Message string
	// Stack is the panicking goroutine's formatted stack, innermost frame first.
	Stack []byte
}

// NewPanicError builds a PanicError from a recovered panic value, capturing
// the calling goroutine's stack. It serves callers that maintain their own
// recover scopes; Run, RunErr, Try, and Recover construct theirs internally.
func NewPanicError(value any) *PanicError {
	return newPanicError(value, 1)
}

// newPanicError classifies value and captures the stack. skip drops that
// many frames above newPanicError's caller; 0 starts at the caller itself.
func newPanicError(value any, skip int) *PanicError {
	category, message := classify(value)

	return &PanicError{
		Value:    value,
		Category: category,
		Code:     category.Code(),
		Message:  message,
		Stack:    stacktrace.Capture(skip + 1),
	}
}

// Error formats the panic description in the runtime's crash phrasing.
func (e *PanicError) Error() string {
	return "panic: " + e.Message
}

// Unwrap exposes the panic value when it was itself an error, so errors.Is
// and errors.As reach the original cause through the conversion.
func (e *PanicError) Unwrap() error {
	if cause, isError := e.Value.(error); isError {
		return cause
	}

	return nil
}

// classify derives the category and description for a recovered panic value.
// The nil wrapper case precedes the runtime.Error case because the runtime
// delivers panic(nil) as *runtime.PanicNilError, which is itself a
// runtime.Error. Error descriptions go through fmt so a misbehaving Error
// method cannot unwind out of classification.
func classify(value any) (Category, string) {
	switch typed := value.(type) {
	case nil:
		return CategoryNilPanic, "panic called with nil argument"
	case *runtime.PanicNilError:
		return CategoryNilPanic, typed.Error()
	case runtime.Error:
		return CategoryRuntime, fmt.Sprintf("%v", typed)
	case error:
		return CategoryError, fmt.Sprintf("%v", typed)
	case string:
		return CategoryString, typed
	default:
		return CategoryValue, fmt.Sprintf("%v", typed)
	}
}
