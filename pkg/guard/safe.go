package guard

import (
	"context"
	"errors"
	"fmt"

	"bulwark/pkg/bulwark"
)

// runGuarded executes fn and converts panics into returned errors tagged
// with scope. It is used at goroutine boundaries so one crashing task cannot
// take down the process; captured panics stay inspectable via errors.As on
// *bulwark.PanicError.
func runGuarded(scope string, fn func() error) error {
	if err := bulwark.RunErr(fn); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// recordCrash builds a crash report for one captured panic and routes it to
// the configured journal and crash handler. Both run guarded so crash
// reporting can never crash the engine itself.
func recordCrash(
	ctx context.Context,
	cfg config,
	scope string,
	labels map[string]string,
	panicErr *bulwark.PanicError,
) {
	report := bulwark.NewCrashReport(scope, panicErr)
	if report == nil {
		return
	}
	report.Labels = labels

	if cfg.journal != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.shutdownTimeout)
		if err := runGuarded("journal record", func() error {
			return cfg.journal.Record(recordCtx, report)
		}); err != nil {
			cfg.onError(recordCtx, scope, err)
		}
		cancel()
	}

	if cfg.onCrash != nil {
		if err := runGuarded("crash handler", func() error {
			cfg.onCrash(ctx, report)
			return nil
		}); err != nil {
			cfg.onError(ctx, scope, err)
		}
	}
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
