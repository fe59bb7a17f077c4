package journal

import (
	"context"
	"errors"
	"fmt"

	"bulwark/pkg/bulwark"
)

// Tee fans crash reports out to several journals at once. Records go to
// every target; reads are served by the first target.
type Tee struct {
	targets []bulwark.Journal
}

// NewTee creates a fan-out journal over targets. Nil targets are dropped.
func NewTee(targets ...bulwark.Journal) *Tee {
	kept := make([]bulwark.Journal, 0, len(targets))
	for _, target := range targets {
		if target == nil {
			continue
		}
		kept = append(kept, target)
	}

	return &Tee{targets: kept}
}

// Record stores the report in every target. All targets are attempted even
// when one fails; failures are returned joined.
func (t *Tee) Record(ctx context.Context, report *bulwark.CrashReport) error {
	var errs []error
	for _, target := range t.targets {
		if err := target.Record(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tee record: %w", errors.Join(errs...))
	}

	return nil
}

// Load reads one report from the first target.
func (t *Tee) Load(ctx context.Context, id string) (*bulwark.CrashReport, error) {
	if len(t.targets) == 0 {
		return nil, fmt.Errorf("load report %s: %w", id, bulwark.ErrReportNotFound)
	}

	return t.targets[0].Load(ctx, id)
}

// List reads stored reports from the first target.
func (t *Tee) List(ctx context.Context) ([]*bulwark.CrashReport, error) {
	if len(t.targets) == 0 {
		return nil, nil
	}

	return t.targets[0].List(ctx)
}

// Prune prunes every target that supports pruning and returns the total
// number of removed reports.
func (t *Tee) Prune(ctx context.Context, keep int) (int, error) {
	removed := 0
	var errs []error
	for _, target := range t.targets {
		pruner, ok := target.(bulwark.Pruner)
		if !ok {
			continue
		}

		count, err := pruner.Prune(ctx, keep)
		removed += count
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("tee prune: %w", errors.Join(errs...))
	}

	return removed, nil
}

// Close closes every target, collecting failures.
func (t *Tee) Close() error {
	var errs []error
	for _, target := range t.targets {
		if err := target.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tee close: %w", errors.Join(errs...))
	}

	return nil
}

var _ bulwark.Journal = (*Tee)(nil)
var _ bulwark.Pruner = (*Tee)(nil)
