package journal

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"bulwark/pkg/bulwark"
)

const defaultMemoryCapacity = 512

// MemoryOption mutates one memory journal under construction.
type MemoryOption func(*Memory)

// WithMemoryCapacity bounds how many crash reports the journal retains.
// Recording beyond the bound evicts the oldest report first.
func WithMemoryCapacity(capacity int) MemoryOption {
	return func(journal *Memory) {
		if capacity > 0 {
			journal.capacity = capacity
		}
	}
}

// WithMemoryTTL discards reports older than ttl. Non-positive values keep
// reports until capacity eviction.
func WithMemoryTTL(ttl time.Duration) MemoryOption {
	return func(journal *Memory) {
		if ttl > 0 {
			journal.ttl = ttl
		}
	}
}

// Memory is a bounded in-memory crash journal. Reports are kept in
// recording order up to a fixed capacity, optionally expiring after a TTL.
type Memory struct {
	capacity int
	ttl      time.Duration
	clock    func() time.Time

	mu      sync.Mutex
	closed  bool
	entries map[string]memoryEntry
	order   *list.List // front is the most recently recorded report
	index   map[string]*list.Element
}

type memoryEntry struct {
	report    *bulwark.CrashReport
	expiresAt time.Time
}

// NewMemory creates an in-memory crash journal.
func NewMemory(options ...MemoryOption) *Memory {
	journal := &Memory{
		capacity: defaultMemoryCapacity,
		clock:    time.Now,
		entries:  make(map[string]memoryEntry),
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(journal)
	}

	return journal
}

// Record stores a copy of one crash report, evicting expired and
// over-capacity reports.
func (m *Memory) Record(ctx context.Context, report *bulwark.CrashReport) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("record report: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("record report: %w", bulwark.ErrJournalClosed)
	}

	now := m.now()
	m.sweepExpiredLocked(now)
	m.upsertLocked(report.Clone(), now)
	m.trimToCapacityLocked()

	return nil
}

// Load returns a copy of one stored report by id.
func (m *Memory) Load(ctx context.Context, id string) (*bulwark.CrashReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("load report: %w", bulwark.ErrJournalClosed)
	}

	element, exists := m.index[id]
	if !exists {
		return nil, fmt.Errorf("load report %s: %w", id, bulwark.ErrReportNotFound)
	}
	entry := m.entries[id]
	if m.isExpired(entry, m.now()) {
		m.deleteLocked(id, element)
		return nil, fmt.Errorf("load report %s: %w", id, bulwark.ErrReportNotFound)
	}

	return entry.report.Clone(), nil
}

// List returns copies of all retained reports, most recently recorded first.
func (m *Memory) List(ctx context.Context) ([]*bulwark.CrashReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("list reports: %w", bulwark.ErrJournalClosed)
	}

	m.sweepExpiredLocked(m.now())

	reports := make([]*bulwark.CrashReport, 0, m.order.Len())
	for element := m.order.Front(); element != nil; element = element.Next() {
		id, ok := element.Value.(string)
		if !ok {
			continue
		}
		entry, exists := m.entries[id]
		if !exists {
			continue
		}
		reports = append(reports, entry.report.Clone())
	}

	return reports, nil
}

// Prune discards all but the keep most recent reports and returns how many
// were removed.
func (m *Memory) Prune(ctx context.Context, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("prune reports: %w", err)
	}
	if keep < 0 {
		return 0, fmt.Errorf("prune reports: negative keep %d", keep)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("prune reports: %w", bulwark.ErrJournalClosed)
	}

	m.sweepExpiredLocked(m.now())

	removed := 0
	for m.order.Len() > keep {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		id, ok := oldest.Value.(string)
		if !ok {
			m.order.Remove(oldest)
			continue
		}
		m.deleteLocked(id, oldest)
		removed++
	}

	return removed, nil
}

// Close releases the journal. Close is idempotent; further operations fail
// with ErrJournalClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	m.closed = true
	m.entries = nil
	m.index = nil
	m.order.Init()

	return nil
}

func (m *Memory) upsertLocked(report *bulwark.CrashReport, now time.Time) {
	entry := memoryEntry{
		report:    report,
		expiresAt: m.expiryFrom(now),
	}
	if element, exists := m.index[report.ID]; exists {
		m.entries[report.ID] = entry
		m.order.MoveToFront(element)
		return
	}

	m.entries[report.ID] = entry
	m.index[report.ID] = m.order.PushFront(report.ID)
}

func (m *Memory) trimToCapacityLocked() {
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			return
		}
		id, ok := oldest.Value.(string)
		if !ok {
			m.order.Remove(oldest)
			continue
		}
		m.deleteLocked(id, oldest)
	}
}

// sweepExpiredLocked walks from the oldest end until the first live report.
// Expiry stamps grow toward the front, so the walk can stop there.
func (m *Memory) sweepExpiredLocked(now time.Time) {
	for {
		oldest := m.order.Back()
		if oldest == nil {
			return
		}
		id, ok := oldest.Value.(string)
		if !ok {
			m.order.Remove(oldest)
			continue
		}
		entry, exists := m.entries[id]
		if !exists {
			m.order.Remove(oldest)
			delete(m.index, id)
			continue
		}
		if !m.isExpired(entry, now) {
			return
		}
		m.deleteLocked(id, oldest)
	}
}

func (m *Memory) deleteLocked(id string, element *list.Element) {
	m.order.Remove(element)
	delete(m.index, id)
	delete(m.entries, id)
}

func (m *Memory) isExpired(entry memoryEntry, now time.Time) bool {
	if entry.expiresAt.IsZero() {
		return false
	}

	return now.After(entry.expiresAt)
}

func (m *Memory) expiryFrom(now time.Time) time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}

	return now.Add(m.ttl)
}

func (m *Memory) now() time.Time {
	return m.clock().UTC()
}

// withMemoryClock overrides the journal time source in tests.
func withMemoryClock(clock func() time.Time) MemoryOption {
	return func(journal *Memory) {
		if clock != nil {
			journal.clock = clock
		}
	}
}

var _ bulwark.Journal = (*Memory)(nil)
var _ bulwark.Pruner = (*Memory)(nil)
