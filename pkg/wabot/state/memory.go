package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MemoryStore keeps chat states in a map with per-record deadlines.
// Expired records are invisible to reads immediately and reclaimed by a
// periodic sweep.
type MemoryStore struct {
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*memoryRecord

	cron *cron.Cron

	// now is overridable in tests.
	now func() time.Time
}

type memoryRecord struct {
	state   *ChatState
	expires time.Time
}

// NewMemoryStore creates an in-memory store. A ttl of 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		ttl:     ttl,
		logger:  logger.With("component", "state.memory"),
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

// StartSweeper schedules a periodic sweep of expired records and stops
// it when ctx is done.
func (m *MemoryStore) StartSweeper(ctx context.Context) {
	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every 1m", func() {
		if n := m.Sweep(); n > 0 {
			m.logger.Debug("swept expired chat states", "count", n)
		}
	})
	if err != nil {
		m.logger.Error("failed to schedule state sweeper", "error", err)
		return
	}
	m.cron.Start()

	go func() {
		<-ctx.Done()
		m.cron.Stop()
	}()
}

// Sweep removes expired records and returns how many were reclaimed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if now.After(rec.expires) {
			delete(m.records, id)
			removed++
		}
	}
	return removed
}

// live returns the record for userID if present and unexpired.
// Caller must hold at least a read lock.
func (m *MemoryStore) live(userID string) *memoryRecord {
	rec, ok := m.records[userID]
	if !ok || m.now().After(rec.expires) {
		return nil
	}
	return rec
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*ChatState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec := m.live(userID)
	if rec == nil {
		return nil, nil
	}
	return rec.state.Clone(), nil
}

func (m *MemoryStore) CreateOrReplace(_ context.Context, st *ChatState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[st.UserID] = &memoryRecord{
		state:   st.Clone(),
		expires: m.now().Add(m.ttl),
	}
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.live(userID)
	if rec == nil {
		return nil
	}
	rec.state.History = []Turn{}
	rec.expires = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryStore) Append(_ context.Context, userID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.live(userID)
	if rec == nil {
		return ErrNotFound
	}
	rec.state.History = append(rec.state.History, turn)
	rec.expires = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryStore) ReplaceTurnContent(_ context.Context, userID string, index int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.live(userID)
	if rec == nil {
		return ErrNotFound
	}
	if err := replaceTurnContent(rec.state.History, index, text); err != nil {
		return err
	}
	rec.expires = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryStore) RemoveTurn(_ context.Context, userID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.live(userID)
	if rec == nil {
		return nil
	}
	rec.state.History = removeTurn(rec.state.History, index)
	rec.expires = m.now().Add(m.ttl)
	return nil
}

func (m *MemoryStore) FilterByRole(_ context.Context, userID string, role Role) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec := m.live(userID)
	if rec == nil {
		return nil, ErrNotFound
	}
	return cloneHistory(filterByRole(rec.state.History, role)), nil
}

var _ Store = (*MemoryStore)(nil)
