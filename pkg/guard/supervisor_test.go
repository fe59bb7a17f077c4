package guard

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bulwark/pkg/bulwark"
)

// TestSupervisorAddValidation verifies child registration constraints.
func TestSupervisorAddValidation(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()

	if err := supervisor.Add(Child{Name: "", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatal("expected error for empty child name")
	}

	err := supervisor.Add(Child{Name: "worker"})
	if !errors.Is(err, bulwark.ErrNilCallback) {
		t.Fatalf("nil run error = %v, want %v", err, bulwark.ErrNilCallback)
	}

	err = supervisor.Add(Child{
		Name:    "worker",
		Run:     func(context.Context) error { return nil },
		Restart: "sometimes",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported restart policy") {
		t.Fatalf("policy error = %v, want unsupported restart policy", err)
	}

	if err := supervisor.Add(Child{Name: "worker", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	err = supervisor.Add(Child{Name: "worker", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, bulwark.ErrChildAlreadyRegistered) {
		t.Fatalf("duplicate error = %v, want %v", err, bulwark.ErrChildAlreadyRegistered)
	}
}

func TestSupervisorRunWithoutChildrenFails(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	err := supervisor.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no children registered") {
		t.Fatalf("run error = %v, want no children registered", err)
	}
}

// TestSupervisorRunCompletesWhenChildrenFinish verifies Run returns nil after
// every child completes on its own.
func TestSupervisorRunCompletesWhenChildrenFinish(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	var counter atomic.Int64
	for _, name := range []string{"alpha", "beta"} {
		err := supervisor.Add(Child{
			Name: name,
			Run: func(context.Context) error {
				counter.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("add child %s failed: %v", name, err)
		}
	}

	if err := supervisor.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if counter.Load() != 2 {
		t.Fatalf("counter = %d, want 2", counter.Load())
	}
	for _, status := range supervisor.Children() {
		if status.State != ChildStateCompleted {
			t.Fatalf("child %s state = %s, want %s", status.Name, status.State, ChildStateCompleted)
		}
	}
}

// TestSupervisorCancellationIsCleanShutdown verifies ctx cancellation stops
// children and Run reports no error.
func TestSupervisorCancellationIsCleanShutdown(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	started := make(chan struct{}, 1)
	err := supervisor.Add(Child{
		Name: "blocker",
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child start")
	}
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}
	status := supervisor.Children()[0]
	if status.State != ChildStateCompleted {
		t.Fatalf("child state = %s, want %s", status.State, ChildStateCompleted)
	}
}

// TestSupervisorRestartsCrashingChild verifies the on_crash policy journals
// each panic and brings the child back until it holds.
func TestSupervisorRestartsCrashingChild(t *testing.T) {
	t.Parallel()

	journal := newStubJournal()
	supervisor := NewSupervisor(
		WithJournal(journal),
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond),
	)

	var attempts atomic.Int64
	recovered := make(chan struct{})
	err := supervisor.Add(Child{
		Name:    "flaky",
		Restart: RestartOnCrash,
		Run: func(ctx context.Context) error {
			if attempts.Add(1) <= 2 {
				panic("flaky boom")
			}
			close(recovered)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	select {
	case <-recovered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child to recover")
	}

	statuses := supervisor.Children()
	if len(statuses) != 1 {
		t.Fatalf("children = %d, want 1", len(statuses))
	}
	if statuses[0].Restarts != 2 {
		t.Fatalf("restarts = %d, want 2", statuses[0].Restarts)
	}
	if got := journal.count(); got != 2 {
		t.Fatalf("journaled reports = %d, want 2", got)
	}
	report := journal.last()
	if report.Labels["engine"] != "supervisor" || report.Labels["child"] != "flaky" {
		t.Fatalf("report labels = %v, want engine=supervisor child=flaky", report.Labels)
	}
	if !strings.Contains(report.Scope, "child flaky") {
		t.Fatalf("report scope = %q, want child flaky", report.Scope)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}
}

// TestSupervisorPlainErrorIsFatalUnderOnCrash verifies a plain error return
// is not restarted by the on_crash policy and fails the whole supervisor.
func TestSupervisorPlainErrorIsFatalUnderOnCrash(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	cause := errors.New("db down")
	err := supervisor.Add(Child{
		Name:    "db",
		Restart: RestartOnCrash,
		Run: func(context.Context) error {
			return cause
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}
	err = supervisor.Add(Child{
		Name: "peer",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add peer failed: %v", err)
	}

	runErr := supervisor.Run(context.Background())
	if !errors.Is(runErr, cause) {
		t.Fatalf("run error = %v, want wrapped %v", runErr, cause)
	}

	for _, status := range supervisor.Children() {
		switch status.Name {
		case "db":
			if status.State != ChildStateFailed {
				t.Fatalf("db state = %s, want %s", status.State, ChildStateFailed)
			}
			if status.LastError == nil {
				t.Fatal("db last error is nil, want failure")
			}
		case "peer":
			if status.State != ChildStateCompleted {
				t.Fatalf("peer state = %s, want %s", status.State, ChildStateCompleted)
			}
		}
	}
}

// TestSupervisorAlwaysPolicyRestartsOnError verifies the always policy retries
// plain errors through the error handler without journaling them.
func TestSupervisorAlwaysPolicyRestartsOnError(t *testing.T) {
	t.Parallel()

	journal := newStubJournal()
	failures := make(chan error, 4)
	supervisor := NewSupervisor(
		WithJournal(journal),
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond),
		WithErrorHandler(func(_ context.Context, _ string, err error) {
			select {
			case failures <- err:
			default:
			}
		}),
	)

	var attempts atomic.Int64
	recovered := make(chan struct{})
	err := supervisor.Add(Child{
		Name:    "flaky",
		Restart: RestartAlways,
		Run: func(ctx context.Context) error {
			if attempts.Add(1) <= 2 {
				return errors.New("transient")
			}
			close(recovered)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	select {
	case <-recovered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child to recover")
	}

	for idx := 0; idx < 2; idx++ {
		select {
		case handled := <-failures:
			if !strings.Contains(handled.Error(), "transient") {
				t.Fatalf("handled error = %v, want transient", handled)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for error handler")
		}
	}
	if got := journal.count(); got != 0 {
		t.Fatalf("journaled reports = %d, want 0 for plain errors", got)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}
}

// TestSupervisorRestartLimitExhausted verifies a child that keeps crashing
// eventually fails the supervisor with the limit in the error.
func TestSupervisorRestartLimitExhausted(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor(
		WithRestartLimit(2),
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
	)

	var attempts atomic.Int64
	err := supervisor.Add(Child{
		Name:    "doomed",
		Restart: RestartAlways,
		Run: func(context.Context) error {
			attempts.Add(1)
			panic("always boom")
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}

	runErr := supervisor.Run(context.Background())
	if runErr == nil || !strings.Contains(runErr.Error(), "restart limit 2 exhausted") {
		t.Fatalf("run error = %v, want restart limit 2 exhausted", runErr)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3", attempts.Load())
	}

	status := supervisor.Children()[0]
	if status.State != ChildStateFailed {
		t.Fatalf("child state = %s, want %s", status.State, ChildStateFailed)
	}
	if status.Restarts != 2 {
		t.Fatalf("restarts = %d, want 2", status.Restarts)
	}
}

// TestSupervisorRejectsConcurrentRuns verifies the single-run guard covers
// both Run and Add.
func TestSupervisorRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	started := make(chan struct{}, 1)
	err := supervisor.Add(Child{
		Name: "blocker",
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("add child failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child start")
	}

	if err := supervisor.Run(context.Background()); !errors.Is(err, bulwark.ErrSupervisorRunning) {
		t.Fatalf("second run error = %v, want %v", err, bulwark.ErrSupervisorRunning)
	}
	err = supervisor.Add(Child{Name: "late", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, bulwark.ErrSupervisorRunning) {
		t.Fatalf("add while running error = %v, want %v", err, bulwark.ErrSupervisorRunning)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to return")
	}
}

// TestSupervisorChildrenSnapshot verifies statuses come back name-sorted with
// pending states before the first run.
func TestSupervisorChildrenSnapshot(t *testing.T) {
	t.Parallel()

	supervisor := NewSupervisor()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		err := supervisor.Add(Child{Name: name, Run: func(context.Context) error { return nil }})
		if err != nil {
			t.Fatalf("add child %s failed: %v", name, err)
		}
	}

	statuses := supervisor.Children()
	wantNames := []string{"alpha", "mike", "zulu"}
	if len(statuses) != len(wantNames) {
		t.Fatalf("children = %d, want %d", len(statuses), len(wantNames))
	}
	for idx, want := range wantNames {
		if statuses[idx].Name != want {
			t.Fatalf("child %d name = %s, want %s", idx, statuses[idx].Name, want)
		}
		if statuses[idx].State != ChildStatePending {
			t.Fatalf("child %s state = %s, want %s", want, statuses[idx].State, ChildStatePending)
		}
	}
}
