package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bulwark/pkg/bulwark"
)

// RestartPolicy selects when a supervised child is restarted after its Run
// returns or panics.
type RestartPolicy string

const (
	// RestartNever runs the child once; any failure is fatal to the supervisor.
	RestartNever RestartPolicy = "never"
	// RestartOnCrash restarts the child only after a captured panic; plain
	// error returns are fatal.
	RestartOnCrash RestartPolicy = "on_crash"
	// RestartAlways restarts the child after any failure, panic or error.
	RestartAlways RestartPolicy = "always"
)

// ChildState describes one supervised child's lifecycle phase.
type ChildState string

const (
	// ChildStatePending means the child is registered but not started.
	ChildStatePending ChildState = "pending"
	// ChildStateRunning means the child Run function is executing.
	ChildStateRunning ChildState = "running"
	// ChildStateBackingOff means the child crashed and awaits its restart delay.
	ChildStateBackingOff ChildState = "backing_off"
	// ChildStateCompleted means the child returned nil or was shut down.
	ChildStateCompleted ChildState = "completed"
	// ChildStateFailed means the child failed without a permitted restart.
	ChildStateFailed ChildState = "failed"
)

// Child declares one long-running unit managed by a Supervisor.
type Child struct {
	// Name is the stable child identifier.
	Name string
	// Run does the work. It should block until done or ctx cancellation.
	// A panic inside Run is captured and journaled.
	Run func(ctx context.Context) error
	// Restart selects the restart policy. Empty means RestartNever.
	Restart RestartPolicy
}

// ChildStatus is a point-in-time snapshot of one supervised child.
type ChildStatus struct {
	// Name is the stable child identifier.
	Name string
	// State is the current lifecycle phase.
	State ChildState
	// Restarts counts consecutive restarts consumed by the child.
	Restarts int
	// LastError is the most recent failure, nil after completion.
	LastError error
}

// Supervisor runs registered children concurrently, captures their panics,
// and restarts them according to their restart policies with exponential
// backoff. A child returning nil is considered completed and never
// restarted.
type Supervisor struct {
	cfg config

	mu       sync.RWMutex
	children map[string]*childRecord
	order    []string

	runMu   sync.Mutex
	running bool
}

type childRecord struct {
	child Child

	mu        sync.Mutex
	state     ChildState
	restarts  int
	lastError error
}

// NewSupervisor creates a supervisor runtime.
func NewSupervisor(options ...Option) *Supervisor {
	cfg := defaultConfig()
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&cfg)
	}

	return &Supervisor{
		cfg:      cfg,
		children: make(map[string]*childRecord),
		order:    make([]string, 0),
	}
}

// Add registers one child. Children cannot be added while the supervisor is
// running.
func (s *Supervisor) Add(child Child) error {
	if child.Name == "" {
		return fmt.Errorf("add child: empty name")
	}
	if child.Run == nil {
		return fmt.Errorf("add child %s: %w", child.Name, bulwark.ErrNilCallback)
	}
	if child.Restart == "" {
		child.Restart = RestartNever
	}
	switch child.Restart {
	case RestartNever, RestartOnCrash, RestartAlways:
	default:
		return fmt.Errorf("add child %s: unsupported restart policy %q", child.Name, child.Restart)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("add child %s: %w", child.Name, bulwark.ErrSupervisorRunning)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.children[child.Name]; exists {
		return fmt.Errorf("add child %s: %w", child.Name, bulwark.ErrChildAlreadyRegistered)
	}
	s.children[child.Name] = &childRecord{child: child, state: ChildStatePending}
	s.order = append(s.order, child.Name)

	return nil
}

// Run starts every registered child and blocks until a fatal child failure
// or ctx cancellation. Cancellation is a clean shutdown and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.startRun(); err != nil {
		return err
	}
	defer s.finishRun()

	records := s.snapshotChildren()
	if len(records) == 0 {
		return fmt.Errorf("supervisor run: no children registered")
	}

	runCtx, runCancel := context.WithCancel(ctx)
	fatal, waitChildren := s.startChildren(runCtx, records)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-fatal:
		runErr = err
	}

	runCancel()
	waitChildren()

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return runErr
}

// Children returns a point-in-time status snapshot of all registered
// children in name order.
func (s *Supervisor) Children() []ChildStatus {
	s.mu.RLock()
	records := make([]*childRecord, 0, len(s.children))
	for _, record := range s.children {
		records = append(records, record)
	}
	s.mu.RUnlock()

	statuses := make([]ChildStatus, 0, len(records))
	for _, record := range records {
		statuses = append(statuses, record.status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})

	return statuses
}

// startRun serializes Run invocations and rejects concurrent starts.
func (s *Supervisor) startRun() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor run: %w", bulwark.ErrSupervisorRunning)
	}
	s.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (s *Supervisor) finishRun() {
	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()
}

// snapshotChildren returns registered children in registration order.
func (s *Supervisor) snapshotChildren() []*childRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*childRecord, 0, len(s.order))
	for _, name := range s.order {
		record, exists := s.children[name]
		if !exists {
			continue
		}
		records = append(records, record)
	}

	return records
}

// startChildren supervises all children concurrently and returns:
// - an error channel delivering the first fatal child failure, and
// - a wait function that blocks for child completion up to shutdown timeout.
func (s *Supervisor) startChildren(ctx context.Context, records []*childRecord) (<-chan error, func()) {
	fatal := make(chan error, 1)
	done := make(chan struct{})
	childWG := &sync.WaitGroup{}

	for _, record := range records {
		record := record
		childWG.Add(1)
		go func() {
			defer childWG.Done()
			if err := s.superviseChild(ctx, record); err != nil {
				select {
				case fatal <- err:
				default:
				}
			}
		}()
	}

	go func() {
		childWG.Wait()
		close(done)
	}()

	wait := func() {
		select {
		case <-done:
		case <-time.After(s.cfg.shutdownTimeout):
		}
	}

	go func() {
		<-done
		select {
		case fatal <- context.Canceled:
		default:
		}
	}()

	return fatal, wait
}

// superviseChild runs one child in a restart loop until it completes, the
// context is canceled, or a failure becomes fatal under its restart policy.
func (s *Supervisor) superviseChild(ctx context.Context, record *childRecord) error {
	child := record.child
	scope := fmt.Sprintf("child %s", child.Name)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.initialInterval
	policy.MaxInterval = s.cfg.maxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	restarts := 0
	for {
		record.setState(ChildStateRunning)
		started := time.Now()
		err := runGuarded(scope, func() error {
			return child.Run(ctx)
		})
		elapsed := time.Since(started)

		if err == nil {
			record.finish(ChildStateCompleted, nil)
			return nil
		}
		if isContextCancellation(err) && ctx.Err() != nil {
			record.finish(ChildStateCompleted, nil)
			return nil
		}

		var panicErr *bulwark.PanicError
		crashed := errors.As(err, &panicErr)
		if crashed {
			recordCrash(ctx, s.cfg, scope, map[string]string{
				"engine":  "supervisor",
				"child":   child.Name,
				"restart": strconv.Itoa(restarts),
			}, panicErr)
		} else {
			s.cfg.onError(ctx, scope, err)
		}

		if !shouldRestart(child.Restart, crashed) {
			record.finish(ChildStateFailed, err)
			return err
		}

		if elapsed >= s.cfg.restartResetAfter {
			restarts = 0
			policy.Reset()
		}
		if restarts >= s.cfg.restartLimit {
			record.finish(ChildStateFailed, err)
			return fmt.Errorf("%s: restart limit %d exhausted: %w", scope, s.cfg.restartLimit, err)
		}

		restarts++
		record.noteRestart(restarts, err)

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			record.finish(ChildStateFailed, err)
			return fmt.Errorf("%s: restart backoff exhausted: %w", scope, err)
		}

		record.setState(ChildStateBackingOff)
		select {
		case <-ctx.Done():
			record.finish(ChildStateCompleted, nil)
			return nil
		case <-time.After(delay):
		}
	}
}

// shouldRestart applies one child restart policy to one failure kind.
func shouldRestart(policy RestartPolicy, crashed bool) bool {
	switch policy {
	case RestartAlways:
		return true
	case RestartOnCrash:
		return crashed
	default:
		return false
	}
}

func (r *childRecord) setState(state ChildState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *childRecord) noteRestart(restarts int, err error) {
	r.mu.Lock()
	r.restarts = restarts
	r.lastError = err
	r.mu.Unlock()
}

func (r *childRecord) finish(state ChildState, err error) {
	r.mu.Lock()
	r.state = state
	r.lastError = err
	r.mu.Unlock()
}

func (r *childRecord) status() ChildStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return ChildStatus{
		Name:      r.child.Name,
		State:     r.state,
		Restarts:  r.restarts,
		LastError: r.lastError,
	}
}
