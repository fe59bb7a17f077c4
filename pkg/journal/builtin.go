package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"bulwark/pkg/bulwark"
)

// Builtin journal kind tokens understood by NewBuiltinRegistry.
const (
	KindMemory = "memory"
	KindDisk   = "disk"
	KindSQLite = "sqlite"
)

// NewBuiltinRegistry constructs the journal registry with all built-in
// backends.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Kind: KindMemory, Builder: buildMemory},
		{Kind: KindDisk, Builder: buildDisk},
		{Kind: KindSQLite, Builder: buildSQLite},
	})
}

func buildMemory(_ context.Context, definition Definition, _ *slog.Logger) (bulwark.Journal, error) {
	if err := rejectUnknownOptions(definition.Options, "capacity", "ttl"); err != nil {
		return nil, err
	}

	var options []MemoryOption
	if raw, exists := definition.Options["capacity"]; exists {
		capacity, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parse option capacity: %w", err)
		}
		if capacity <= 0 {
			return nil, fmt.Errorf("parse option capacity: must be positive, got %d", capacity)
		}
		options = append(options, WithMemoryCapacity(capacity))
	}
	if raw, exists := definition.Options["ttl"]; exists {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse option ttl: %w", err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("parse option ttl: must be positive, got %s", ttl)
		}
		options = append(options, WithMemoryTTL(ttl))
	}

	return NewMemory(options...), nil
}

func buildDisk(_ context.Context, definition Definition, logger *slog.Logger) (bulwark.Journal, error) {
	if err := rejectUnknownOptions(definition.Options, "dir"); err != nil {
		return nil, err
	}

	dir, exists := definition.Options["dir"]
	if !exists || dir == "" {
		return nil, fmt.Errorf("missing option dir")
	}

	var options []DiskOption
	if logger != nil {
		options = append(options, WithDiskLogger(logger))
	}

	return NewDisk(dir, options...)
}

func buildSQLite(_ context.Context, definition Definition, _ *slog.Logger) (bulwark.Journal, error) {
	if err := rejectUnknownOptions(definition.Options, "path"); err != nil {
		return nil, err
	}

	path, exists := definition.Options["path"]
	if !exists || path == "" {
		return nil, fmt.Errorf("missing option path")
	}

	return NewSQLite(path)
}

func rejectUnknownOptions(options map[string]string, allowed ...string) error {
	for key := range options {
		known := false
		for _, allowedKey := range allowed {
			if key == allowedKey {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unsupported option %s", key)
		}
	}

	return nil
}
