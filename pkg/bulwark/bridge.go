package bulwark

// Run invokes fn exactly once, synchronously, on the calling goroutine,
// inside a recover scope established before the call. It returns nil when fn
// completes normally and a *PanicError when fn panics; the panic never
// propagates past Run and is never re-raised. Side effects fn performed
// before panicking are kept; nothing is rolled back or retried.
//
// Run holds no state, so concurrent calls from different goroutines are
// fully independent.
func Run(fn func()) (err error) {
	if fn == nil {
		return ErrNilCallback
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = newPanicError(recovered, 1)
		}
	}()

	fn()

	return nil
}

// RunErr invokes fn exactly once inside a recover scope. An error returned
// by fn passes through unchanged; a panic raised by fn is converted to a
// *PanicError. The two failure channels stay distinct: a *PanicError is
// produced if and only if fn panicked.
func RunErr(fn func() error) (err error) {
	if fn == nil {
		return ErrNilCallback
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = newPanicError(recovered, 1)
		}
	}()

	return fn()
}

// Try reports fn's outcome through a boolean-plus-error pair instead of a
// bare error return, for call sites ported from dual-channel reporting
// styles. Try and Run always agree: ok is true exactly when err is nil.
func Try(fn func()) (ok bool, err error) {
	err = Run(fn)

	return err == nil, err
}

// Recover converts an in-flight panic into a *PanicError written to *errp.
// It must be installed directly as a deferred call:
//
//	func risky() (err error) {
//		defer bulwark.Recover(&err)
//		mayPanic()
//		return nil
//	}
//
// When no panic is active, *errp is left untouched; a recovered panic
// replaces whatever error was already present. A nil errp cannot absorb the
// failure, so the panic is re-raised rather than silently discarded.
func Recover(errp *error) {
	recovered := recover()
	if recovered == nil {
		return
	}
	if errp == nil {
		panic(recovered)
	}

	*errp = newPanicError(recovered, 1)
}
