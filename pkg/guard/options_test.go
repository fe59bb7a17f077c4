package guard

import (
	"log/slog"
	"testing"
	"time"
)

// TestOptionsIgnoreInvalidValues verifies out-of-range option values leave the
// defaults untouched.
func TestOptionsIgnoreInvalidValues(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	for _, option := range []Option{
		WithWorkers(0),
		WithWorkers(-1),
		WithQueueCapacity(0),
		WithTaskTimeout(0),
		WithShutdownTimeout(-time.Second),
		WithBackpressure(""),
		WithLogger(nil),
		WithJournal(nil),
		WithCrashHandler(nil),
		WithErrorHandler(nil),
		WithRestartLimit(0),
		WithRestartResetAfter(0),
		WithRestartBackoff(0, 0),
	} {
		option(&cfg)
	}

	if cfg.workers != defaultWorkers {
		t.Fatalf("workers = %d, want %d", cfg.workers, defaultWorkers)
	}
	if cfg.queueCapacity != defaultQueueCapacity {
		t.Fatalf("queue capacity = %d, want %d", cfg.queueCapacity, defaultQueueCapacity)
	}
	if cfg.taskTimeout != defaultTaskTimeout {
		t.Fatalf("task timeout = %v, want %v", cfg.taskTimeout, defaultTaskTimeout)
	}
	if cfg.shutdownTimeout != defaultShutdownTimeout {
		t.Fatalf("shutdown timeout = %v, want %v", cfg.shutdownTimeout, defaultShutdownTimeout)
	}
	if cfg.backpressure != BackpressureDropNewest {
		t.Fatalf("backpressure = %s, want %s", cfg.backpressure, BackpressureDropNewest)
	}
	if cfg.logger == nil || cfg.onCrash == nil || cfg.onError == nil {
		t.Fatal("logger and handlers must keep their defaults")
	}
	if cfg.journal != nil {
		t.Fatal("journal must stay nil by default")
	}
	if cfg.restartLimit != defaultRestartLimit {
		t.Fatalf("restart limit = %d, want %d", cfg.restartLimit, defaultRestartLimit)
	}
	if cfg.restartResetAfter != defaultRestartResetAfter {
		t.Fatalf("restart reset = %v, want %v", cfg.restartResetAfter, defaultRestartResetAfter)
	}
	if cfg.initialInterval != defaultInitialInterval || cfg.maxInterval != defaultMaxInterval {
		t.Fatalf("backoff = %v/%v, want %v/%v", cfg.initialInterval, cfg.maxInterval, defaultInitialInterval, defaultMaxInterval)
	}
}

// TestOptionsApplyValidValues verifies in-range option values take effect.
func TestOptionsApplyValidValues(t *testing.T) {
	t.Parallel()

	journal := newStubJournal()
	logger := slog.Default().With("component", "guard-test")

	cfg := defaultConfig()
	for _, option := range []Option{
		WithWorkers(8),
		WithQueueCapacity(16),
		WithTaskTimeout(time.Second),
		WithShutdownTimeout(2 * time.Second),
		WithBackpressure(BackpressureBlock),
		WithLogger(logger),
		WithJournal(journal),
		WithRestartLimit(9),
		WithRestartResetAfter(time.Minute),
		WithRestartBackoff(time.Millisecond, time.Second),
	} {
		option(&cfg)
	}

	if cfg.workers != 8 {
		t.Fatalf("workers = %d, want 8", cfg.workers)
	}
	if cfg.queueCapacity != 16 {
		t.Fatalf("queue capacity = %d, want 16", cfg.queueCapacity)
	}
	if cfg.taskTimeout != time.Second {
		t.Fatalf("task timeout = %v, want %v", cfg.taskTimeout, time.Second)
	}
	if cfg.shutdownTimeout != 2*time.Second {
		t.Fatalf("shutdown timeout = %v, want %v", cfg.shutdownTimeout, 2*time.Second)
	}
	if cfg.backpressure != BackpressureBlock {
		t.Fatalf("backpressure = %s, want %s", cfg.backpressure, BackpressureBlock)
	}
	if cfg.logger != logger {
		t.Fatal("logger was not applied")
	}
	if cfg.journal != journal {
		t.Fatal("journal was not applied")
	}
	if cfg.restartLimit != 9 {
		t.Fatalf("restart limit = %d, want 9", cfg.restartLimit)
	}
	if cfg.restartResetAfter != time.Minute {
		t.Fatalf("restart reset = %v, want %v", cfg.restartResetAfter, time.Minute)
	}
	if cfg.initialInterval != time.Millisecond || cfg.maxInterval != time.Second {
		t.Fatalf("backoff = %v/%v, want 1ms/1s", cfg.initialInterval, cfg.maxInterval)
	}
}
