package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bulwark/pkg/bulwark"
)

func TestNewSQLiteValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLite("  "); err == nil || !strings.Contains(err.Error(), "empty path") {
		t.Fatalf("new sqlite error = %v, want empty path", err)
	}
}

func TestSQLiteRecordAndLoad(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	report := newTestReport("report-1", "worker 1", time.Unix(100, 0).UTC())
	report.Labels = map[string]string{"task": "refresh", "worker": "2"}
	if err := journal.Record(context.Background(), report); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	loaded, err := journal.Load(context.Background(), "report-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Scope != "worker 1" || loaded.Message != "panic: boom" {
		t.Fatalf("loaded report = %+v", loaded)
	}
	if loaded.Category != bulwark.CategoryString || loaded.Code != bulwark.CategoryString.Code() {
		t.Fatalf("loaded category = %s code = %d", loaded.Category, loaded.Code)
	}
	if loaded.Labels["task"] != "refresh" || loaded.Labels["worker"] != "2" {
		t.Fatalf("loaded labels = %v", loaded.Labels)
	}
	if !loaded.CapturedAt.Equal(report.CapturedAt) {
		t.Fatalf("loaded captured at = %v, want %v", loaded.CapturedAt, report.CapturedAt)
	}
}

func TestSQLiteLoadMissing(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	_, err := journal.Load(context.Background(), "missing")
	if !errors.Is(err, bulwark.ErrReportNotFound) {
		t.Fatalf("load error = %v, want %v", err, bulwark.ErrReportNotFound)
	}
}

func TestSQLiteListNewestFirst(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	for index := 1; index <= 3; index++ {
		report := newTestReport(fmt.Sprintf("report-%d", index), "worker", time.Unix(int64(100*index), 0).UTC())
		if err := journal.Record(context.Background(), report); err != nil {
			t.Fatalf("record report %d failed: %v", index, err)
		}
	}

	reports, err := journal.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("list length = %d, want 3", len(reports))
	}
	for index, wantID := range []string{"report-3", "report-2", "report-1"} {
		if reports[index].ID != wantID {
			t.Fatalf("reports[%d].ID = %s, want %s", index, reports[index].ID, wantID)
		}
	}
}

func TestSQLiteRecordReplacesSameID(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	report := newTestReport("report-1", "worker", time.Unix(100, 0).UTC())
	if err := journal.Record(context.Background(), report); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	report.Message = "panic: boom again"
	if err := journal.Record(context.Background(), report); err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	loaded, err := journal.Load(context.Background(), "report-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Message != "panic: boom again" {
		t.Fatalf("loaded message = %q, want %q", loaded.Message, "panic: boom again")
	}

	reports, err := journal.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("list length = %d, want 1", len(reports))
	}
}

func TestSQLiteRecordValidation(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	report := newTestReport("report-1", "", time.Unix(100, 0).UTC())
	err := journal.Record(context.Background(), report)
	if !errors.Is(err, bulwark.ErrInvalidReport) {
		t.Fatalf("record error = %v, want %v", err, bulwark.ErrInvalidReport)
	}
}

func TestSQLitePrune(t *testing.T) {
	t.Parallel()

	journal := newSQLiteJournal(t)

	for index := 1; index <= 3; index++ {
		report := newTestReport(fmt.Sprintf("report-%d", index), "worker", time.Unix(int64(100*index), 0).UTC())
		if err := journal.Record(context.Background(), report); err != nil {
			t.Fatalf("record report %d failed: %v", index, err)
		}
	}

	removed, err := journal.Prune(context.Background(), 1)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	reports, err := journal.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reports) != 1 || reports[0].ID != "report-3" {
		t.Fatalf("surviving reports = %+v, want only report-3", reports)
	}

	removed, err = journal.Prune(context.Background(), 10)
	if err != nil {
		t.Fatalf("prune with large keep failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}

	if _, err := journal.Prune(context.Background(), -1); err == nil {
		t.Fatal("expected error for negative keep")
	}
}

func TestSQLiteClose(t *testing.T) {
	t.Parallel()

	journal, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("new sqlite journal failed: %v", err)
	}

	if err := journal.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := journal.Record(context.Background(), newTestReport("report-1", "worker", time.Unix(100, 0).UTC())); !errors.Is(err, bulwark.ErrJournalClosed) {
		t.Fatalf("record after close error = %v, want %v", err, bulwark.ErrJournalClosed)
	}
	if _, err := journal.List(context.Background()); !errors.Is(err, bulwark.ErrJournalClosed) {
		t.Fatalf("list after close error = %v, want %v", err, bulwark.ErrJournalClosed)
	}
}

func newSQLiteJournal(t *testing.T) *SQLite {
	t.Helper()

	journal, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("new sqlite journal failed: %v", err)
	}
	t.Cleanup(func() {
		journal.Close()
	})

	return journal
}
