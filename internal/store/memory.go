package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development; not durable.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[int]string
	listings map[int]model.Listing
	mail     map[int]model.Mail
	queue    map[int]string
	users    map[string]model.UserTotals
	history  []model.HistoryEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:    make(map[int]string),
		listings: make(map[int]model.Listing),
		mail:     make(map[int]model.Mail),
		queue:    make(map[int]string),
		users:    make(map[string]model.UserTotals),
	}
}

func (s *MemoryStore) InitSchema(context.Context) error { return nil }

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func (s *MemoryStore) LoadListings(context.Context) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Listing
	for _, id := range sortedKeys(s.listings) {
		out = append(out, s.listings[id])
	}
	return out, nil
}

func (s *MemoryStore) LoadMail(context.Context) ([]model.Mail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Mail
	for _, id := range sortedKeys(s.mail) {
		out = append(out, s.mail[id])
	}
	return out, nil
}

func (s *MemoryStore) LoadQueue(context.Context) ([]QueueRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []QueueRow
	for _, id := range sortedKeys(s.queue) {
		out = append(out, QueueRow{ID: id, Data: s.queue[id]})
	}
	return out, nil
}

func (s *MemoryStore) LoadItems(_ context.Context, ids []int) ([]ItemRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []ItemRow
	for _, id := range sortedKeys(s.items) {
		if want[id] {
			out = append(out, ItemRow{ID: id, Data: s.items[id]})
		}
	}
	return out, nil
}

func (s *MemoryStore) MaxItemID(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for id := range s.items {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (s *MemoryStore) InsertItem(_ context.Context, id int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		s.items[id] = data
	}
	return nil
}

func (s *MemoryStore) UpdateItem(_ context.Context, id int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[id] = data
	return nil
}

func (s *MemoryStore) InsertListing(_ context.Context, l model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Duplicate ids are a no-op so recovery replay stays idempotent.
	if _, ok := s.listings[l.ID]; !ok {
		s.listings[l.ID] = l
	}
	return nil
}

func (s *MemoryStore) DeleteListing(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listings, id)
	return nil
}

func (s *MemoryStore) InsertMail(_ context.Context, m model.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mail[m.ID]; !ok {
		s.mail[m.ID] = m
	}
	return nil
}

func (s *MemoryStore) DeleteMail(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mail, id)
	return nil
}

func (s *MemoryStore) ClearMailPickup(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mail[id]
	if !ok {
		return fmt.Errorf("mail %d: %w", id, ErrNotFound)
	}
	m.Pickup = decimal.Zero
	s.mail[id] = m
	return nil
}

func (s *MemoryStore) InsertQueueRow(_ context.Context, id int, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queue[id]; !ok {
		s.queue[id] = data
	}
	return nil
}

func (s *MemoryStore) DeleteQueueRow(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queue, id)
	return nil
}

func (s *MemoryStore) AddUserTotals(_ context.Context, name string, earned, spent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.users[name]
	t.Name = name
	t.Earned = t.Earned.Add(earned)
	t.Spent = t.Spent.Add(spent)
	s.users[name] = t
	return nil
}

func (s *MemoryStore) UserTotals(_ context.Context, name string) (model.UserTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.users[name]
	if !ok {
		return model.UserTotals{}, fmt.Errorf("user totals %s: %w", name, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) InsertHistory(_ context.Context, h model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h.ID = len(s.history) + 1
	s.history = append(s.history, h)
	return nil
}

func (s *MemoryStore) HistoryFor(_ context.Context, player string, limit int) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.HistoryEntry
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].Player == player {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}
