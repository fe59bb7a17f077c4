package bulwark

import "errors"

var (
	// ErrNilCallback indicates a guarded invocation was given a nil callback.
	ErrNilCallback = errors.New("bulwark: nil callback")
	// ErrInvalidReport indicates that a crash report does not satisfy record invariants.
	ErrInvalidReport = errors.New("bulwark: invalid crash report")
	// ErrReportNotFound indicates a crash report lookup miss.
	ErrReportNotFound = errors.New("bulwark: crash report not found")
	// ErrJournalClosed indicates that a journal no longer accepts operations.
	ErrJournalClosed = errors.New("bulwark: journal closed")
	// ErrTaskDropped indicates a non-blocking backpressure drop.
	ErrTaskDropped = errors.New("bulwark: task dropped due to backpressure")
	// ErrPoolClosed indicates that a pool no longer accepts task submissions.
	ErrPoolClosed = errors.New("bulwark: pool closed")
	// ErrSupervisorRunning indicates a start or registration attempt on a running supervisor.
	ErrSupervisorRunning = errors.New("bulwark: supervisor already running")
	// ErrChildAlreadyRegistered indicates duplicate supervised child registration.
	ErrChildAlreadyRegistered = errors.New("bulwark: child already registered")
)
