package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"bulwark/pkg/bulwark"
)

const reportFileSuffix = ".json"

// DiskOption mutates one disk journal under construction.
type DiskOption func(*Disk)

// WithDiskLogger sets the logger used to report skipped journal files.
func WithDiskLogger(logger *slog.Logger) DiskOption {
	return func(journal *Disk) {
		if logger != nil {
			journal.logger = logger
		}
	}
}

// Disk is a crash journal that stores one JSON file per report inside a
// single directory. Writes go through a temporary file and rename so that
// readers never observe partial reports.
type Disk struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ready  bool
}

// NewDisk creates a disk journal rooted at dir. The directory is created
// lazily on first write.
func NewDisk(dir string, options ...DiskOption) (*Disk, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("new disk journal: empty directory")
	}

	journal := &Disk{
		dir:    dir,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(journal)
	}

	return journal, nil
}

// Record writes one crash report to <dir>/<id>.json.
func (d *Disk) Record(ctx context.Context, report *bulwark.CrashReport) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}

	fileName, err := reportFileName(report.ID)
	if err != nil {
		return fmt.Errorf("record report: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("record report %s: marshal: %w", report.ID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("record report: %w", bulwark.ErrJournalClosed)
	}
	if err := d.ensureDirLocked(); err != nil {
		return fmt.Errorf("record report %s: %w", report.ID, err)
	}
	if err := d.writeAtomicLocked(fileName, data); err != nil {
		return fmt.Errorf("record report %s: %w", report.ID, err)
	}

	return nil
}

// Load reads one report back from disk by id.
func (d *Disk) Load(ctx context.Context, id string) (*bulwark.CrashReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	fileName, err := reportFileName(id)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("load report: %w", bulwark.ErrJournalClosed)
	}

	data, err := os.ReadFile(filepath.Join(d.dir, fileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load report %s: %w", id, bulwark.ErrReportNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}

	var report bulwark.CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("load report %s: unmarshal: %w", id, err)
	}

	return &report, nil
}

// List reads every report in the journal directory, most recent first.
// Unreadable or malformed files are skipped with a warning.
func (d *Disk) List(ctx context.Context) ([]*bulwark.CrashReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("list reports: %w", bulwark.ErrJournalClosed)
	}

	reports, err := d.listLocked()
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	return reports, nil
}

// Prune deletes all but the keep most recent report files and returns how
// many were removed.
func (d *Disk) Prune(ctx context.Context, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	if keep < 0 {
		return 0, fmt.Errorf("prune reports: negative keep %d", keep)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("prune reports: %w", bulwark.ErrJournalClosed)
	}

	reports, err := d.listLocked()
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	if len(reports) <= keep {
		return 0, nil
	}

	removed := 0
	for _, report := range reports[keep:] {
		fileName, err := reportFileName(report.ID)
		if err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, fileName)); err != nil {
			return removed, fmt.Errorf("prune reports: remove %s: %w", fileName, err)
		}
		removed++
	}

	return removed, nil
}

// Close marks the journal closed. Report files already on disk stay in
// place. Close is idempotent.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true

	return nil
}

func (d *Disk) listLocked() ([]*bulwark.CrashReport, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}

	reports := make([]*bulwark.CrashReport, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), reportFileSuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(d.dir, dirEntry.Name()))
		if err != nil {
			d.logger.Warn("skipping unreadable crash report file", "file", dirEntry.Name(), "error", err)
			continue
		}

		var report bulwark.CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			d.logger.Warn("skipping malformed crash report file", "file", dirEntry.Name(), "error", err)
			continue
		}
		if err := report.Validate(); err != nil {
			d.logger.Warn("skipping invalid crash report file", "file", dirEntry.Name(), "error", err)
			continue
		}

		reports = append(reports, &report)
	}

	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].CapturedAt.Equal(reports[j].CapturedAt) {
			return reports[i].CapturedAt.After(reports[j].CapturedAt)
		}

		return reports[i].ID < reports[j].ID
	})

	return reports, nil
}

func (d *Disk) ensureDirLocked() error {
	if d.ready {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	d.ready = true

	return nil
}

func (d *Disk) writeAtomicLocked(fileName string, data []byte) error {
	temp, err := os.CreateTemp(d.dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempName, filepath.Join(d.dir, fileName)); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// reportFileName maps one report id to its file name, rejecting ids that
// could escape the journal directory.
func reportFileName(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid report id %q", id)
	}

	return id + reportFileSuffix, nil
}

var _ bulwark.Journal = (*Disk)(nil)
var _ bulwark.Pruner = (*Disk)(nil)
