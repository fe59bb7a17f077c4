package bulwark

import "context"

// Journal persists crash reports for later inspection. Implementations must
// be safe for concurrent use; engines record from worker goroutines.
type Journal interface {
	// Record stores one crash report after validating it.
	Record(ctx context.Context, report *CrashReport) error
	// Load returns the report with the given id, or ErrReportNotFound.
	Load(ctx context.Context, id string) (*CrashReport, error)
	// List returns stored reports ordered newest first.
	List(ctx context.Context) ([]*CrashReport, error)
	// Close releases journal resources. Close is idempotent; operations on
	// a closed journal fail with ErrJournalClosed.
	Close() error
}

// Pruner is implemented by journals that can discard old reports on demand.
type Pruner interface {
	// Prune keeps the most recent keep reports, discards the rest, and
	// returns how many reports were removed.
	Prune(ctx context.Context, keep int) (int, error)
}
