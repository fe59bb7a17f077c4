package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bulwark/pkg/bulwark"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS crash_reports (
	id          TEXT PRIMARY KEY,
	scope       TEXT NOT NULL,
	message     TEXT NOT NULL,
	category    TEXT NOT NULL,
	code        INTEGER NOT NULL,
	stack       TEXT NOT NULL DEFAULT '',
	labels      TEXT NOT NULL DEFAULT '',
	captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS crash_reports_captured_at ON crash_reports (captured_at DESC);
`

// SQLite is a crash journal backed by a single-table SQLite database.
// Timestamps are stored as UTC unix nanoseconds so row order matches
// capture order.
type SQLite struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens a SQLite crash journal at path, creating the schema when
// missing.
func NewSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("new sqlite journal: empty path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite journal: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Record inserts or replaces one crash report row.
func (s *SQLite) Record(ctx context.Context, report *bulwark.CrashReport) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}

	labels, err := marshalLabels(report.Labels)
	if err != nil {
		return fmt.Errorf("record report %s: %w", report.ID, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("record report: %w", bulwark.ErrJournalClosed)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO crash_reports
			(id, scope, message, category, code, stack, labels, captured_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.Scope,
		report.Message,
		string(report.Category),
		report.Code,
		report.Stack,
		labels,
		report.CapturedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record report %s: %w", report.ID, err)
	}

	return nil
}

// Load reads one crash report row by id.
func (s *SQLite) Load(ctx context.Context, id string) (*bulwark.CrashReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("load report: %w", bulwark.ErrJournalClosed)
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, scope, message, category, code, stack, labels, captured_at
			FROM crash_reports WHERE id = ?`,
		id,
	)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load report %s: %w", id, bulwark.ErrReportNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}

	return report, nil
}

// List reads all crash report rows, most recent first.
func (s *SQLite) List(ctx context.Context) ([]*bulwark.CrashReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("list reports: %w", bulwark.ErrJournalClosed)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, scope, message, category, code, stack, labels, captured_at
			FROM crash_reports ORDER BY captured_at DESC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*bulwark.CrashReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	return reports, nil
}

// Prune deletes all but the keep most recent rows and returns how many were
// removed.
func (s *SQLite) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune reports: negative keep %d", keep)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("prune reports: %w", bulwark.ErrJournalClosed)
	}

	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM crash_reports WHERE id NOT IN (
			SELECT id FROM crash_reports ORDER BY captured_at DESC, id ASC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}

	return int(removed), nil
}

// Close closes the underlying database. Close is idempotent.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite journal: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(destinations ...any) error
}

func scanReport(row rowScanner) (*bulwark.CrashReport, error) {
	var (
		report        bulwark.CrashReport
		category      string
		labels        string
		capturedNanos int64
	)
	if err := row.Scan(
		&report.ID,
		&report.Scope,
		&report.Message,
		&category,
		&report.Code,
		&report.Stack,
		&labels,
		&capturedNanos,
	); err != nil {
		return nil, err
	}

	report.Category = bulwark.Category(category)
	report.CapturedAt = time.Unix(0, capturedNanos).UTC()
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &report.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}

	return &report, nil
}

func marshalLabels(labels map[string]string) (string, error) {
	if len(labels) == 0 {
		return "", nil
	}

	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}

	return string(data), nil
}

var _ bulwark.Journal = (*SQLite)(nil)
var _ bulwark.Pruner = (*SQLite)(nil)
