package guard

import (
	"context"
	"log/slog"
	"time"

	"bulwark/pkg/bulwark"
)

const (
	defaultWorkers           = 4
	defaultQueueCapacity     = 256
	defaultTaskTimeout       = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRestartLimit      = 5
	defaultRestartResetAfter = 5 * time.Minute
	defaultInitialInterval   = 500 * time.Millisecond
	defaultMaxInterval       = 30 * time.Second
)

// Backpressure selects how Submit behaves when the task queue is full.
type Backpressure string

const (
	// BackpressureDropNewest rejects the incoming task when the queue is full.
	BackpressureDropNewest Backpressure = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued task to admit the new one.
	BackpressureDropOldest Backpressure = "drop_oldest"
	// BackpressureBlock waits for queue capacity or caller context cancellation.
	BackpressureBlock Backpressure = "block"
)

// config stores resolved engine runtime settings after option application.
type config struct {
	workers           int
	queueCapacity     int
	taskTimeout       time.Duration
	shutdownTimeout   time.Duration
	backpressure      Backpressure
	logger            *slog.Logger
	journal           bulwark.Journal
	onCrash           func(context.Context, *bulwark.CrashReport)
	onError           func(context.Context, string, error)
	restartLimit      int
	restartResetAfter time.Duration
	initialInterval   time.Duration
	maxInterval       time.Duration
}

// Option mutates engine construction configuration.
type Option func(*config)

// defaultConfig returns production-safe defaults for engine runtime controls.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		workers:         defaultWorkers,
		queueCapacity:   defaultQueueCapacity,
		taskTimeout:     defaultTaskTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		backpressure:    BackpressureDropNewest,
		logger:          logger,
		onCrash: func(ctx context.Context, report *bulwark.CrashReport) {
			logger.ErrorContext(ctx, "bulwark panic captured",
				"scope", report.Scope,
				"category", report.Category,
				"message", report.Message,
			)
		},
		onError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "bulwark guarded error", "scope", scope, "error", err)
		},
		restartLimit:      defaultRestartLimit,
		restartResetAfter: defaultRestartResetAfter,
		initialInterval:   defaultInitialInterval,
		maxInterval:       defaultMaxInterval,
	}
}

// WithWorkers configures the pool worker count.
func WithWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithQueueCapacity configures the pool task queue depth.
func WithQueueCapacity(capacity int) Option {
	return func(cfg *config) {
		if capacity > 0 {
			cfg.queueCapacity = capacity
		}
	}
}

// WithTaskTimeout configures the per-task execution timeout.
func WithTaskTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.taskTimeout = timeout
		}
	}
}

// WithShutdownTimeout configures how long Close waits for workers to exit.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithBackpressure configures the queue-full submit policy.
func WithBackpressure(policy Backpressure) Option {
	return func(cfg *config) {
		if policy != "" {
			cfg.backpressure = policy
		}
	}
}

// WithLogger configures the logger used by engines and the default crash and
// error handlers.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onCrash = func(ctx context.Context, report *bulwark.CrashReport) {
			logger.ErrorContext(ctx, "bulwark panic captured",
				"scope", report.Scope,
				"category", report.Category,
				"message", report.Message,
			)
		}
		cfg.onError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "bulwark guarded error", "scope", scope, "error", err)
		}
	}
}

// WithJournal configures the crash journal that captured panics are
// recorded to.
func WithJournal(journal bulwark.Journal) Option {
	return func(cfg *config) {
		if journal != nil {
			cfg.journal = journal
		}
	}
}

// WithCrashHandler configures the callback invoked with each captured crash
// report. The handler runs guarded; a panicking handler cannot take down
// the engine.
func WithCrashHandler(handler func(context.Context, *bulwark.CrashReport)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onCrash = handler
		}
	}
}

// WithErrorHandler configures plain (non-panic) failure reporting.
func WithErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onError = handler
		}
	}
}

// WithRestartLimit configures how many consecutive restarts a supervised
// child may consume before its failure becomes fatal.
func WithRestartLimit(limit int) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.restartLimit = limit
		}
	}
}

// WithRestartResetAfter configures how long a child must run before its
// consecutive restart budget resets.
func WithRestartResetAfter(duration time.Duration) Option {
	return func(cfg *config) {
		if duration > 0 {
			cfg.restartResetAfter = duration
		}
	}
}

// WithRestartBackoff configures the initial and maximum delay between child
// restarts.
func WithRestartBackoff(initial, maximum time.Duration) Option {
	return func(cfg *config) {
		if initial > 0 {
			cfg.initialInterval = initial
		}
		if maximum > 0 {
			cfg.maxInterval = maximum
		}
	}
}
