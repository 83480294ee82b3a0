package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// CachedStore wraps the primary Store with a Redis read-through cache for
// the reads that bypass the in-memory market cache: user totals and
// trade history. Writes go to the primary store and invalidate the
// affected keys; everything else passes through untouched.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Cached reads ---

func (s *CachedStore) UserTotals(ctx context.Context, name string) (model.UserTotals, error) {
	data, err := s.rdb.Get(ctx, totalsKey(name)).Bytes()
	if err == nil {
		var t model.UserTotals
		if json.Unmarshal(data, &t) == nil {
			return t, nil
		}
	}

	t, err := s.primary.UserTotals(ctx, name)
	if err != nil {
		return model.UserTotals{}, err
	}
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, totalsKey(name), data, s.ttl)
	}
	return t, nil
}

func (s *CachedStore) HistoryFor(ctx context.Context, player string, limit int) ([]model.HistoryEntry, error) {
	key := historyKey(player, limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.HistoryEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.HistoryFor(ctx, player, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

// --- Invalidating writes ---

func (s *CachedStore) AddUserTotals(ctx context.Context, name string, earned, spent decimal.Decimal) error {
	if err := s.primary.AddUserTotals(ctx, name, earned, spent); err != nil {
		return err
	}
	s.rdb.Del(ctx, totalsKey(name))
	return nil
}

func (s *CachedStore) InsertHistory(ctx context.Context, h model.HistoryEntry) error {
	if err := s.primary.InsertHistory(ctx, h); err != nil {
		return err
	}
	// History keys are per-limit; drop them all for this player.
	iter := s.rdb.Scan(ctx, 0, fmt.Sprintf("gm:history:%s:*", h.Player), 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// --- Passthrough ---

func (s *CachedStore) InitSchema(ctx context.Context) error { return s.primary.InitSchema(ctx) }

func (s *CachedStore) LoadListings(ctx context.Context) ([]model.Listing, error) {
	return s.primary.LoadListings(ctx)
}

func (s *CachedStore) LoadMail(ctx context.Context) ([]model.Mail, error) {
	return s.primary.LoadMail(ctx)
}

func (s *CachedStore) LoadQueue(ctx context.Context) ([]QueueRow, error) {
	return s.primary.LoadQueue(ctx)
}

func (s *CachedStore) LoadItems(ctx context.Context, ids []int) ([]ItemRow, error) {
	return s.primary.LoadItems(ctx, ids)
}

func (s *CachedStore) MaxItemID(ctx context.Context) (int, error) {
	return s.primary.MaxItemID(ctx)
}

func (s *CachedStore) InsertItem(ctx context.Context, id int, data string) error {
	return s.primary.InsertItem(ctx, id, data)
}

func (s *CachedStore) UpdateItem(ctx context.Context, id int, data string) error {
	return s.primary.UpdateItem(ctx, id, data)
}

func (s *CachedStore) InsertListing(ctx context.Context, l model.Listing) error {
	return s.primary.InsertListing(ctx, l)
}

func (s *CachedStore) DeleteListing(ctx context.Context, id int) error {
	return s.primary.DeleteListing(ctx, id)
}

func (s *CachedStore) InsertMail(ctx context.Context, m model.Mail) error {
	return s.primary.InsertMail(ctx, m)
}

func (s *CachedStore) DeleteMail(ctx context.Context, id int) error {
	return s.primary.DeleteMail(ctx, id)
}

func (s *CachedStore) ClearMailPickup(ctx context.Context, id int) error {
	return s.primary.ClearMailPickup(ctx, id)
}

func (s *CachedStore) InsertQueueRow(ctx context.Context, id int, data string) error {
	return s.primary.InsertQueueRow(ctx, id, data)
}

func (s *CachedStore) DeleteQueueRow(ctx context.Context, id int) error {
	return s.primary.DeleteQueueRow(ctx, id)
}

// --- Cache keys ---

func totalsKey(name string) string          { return fmt.Sprintf("gm:totals:%s", name) }
func historyKey(p string, limit int) string { return fmt.Sprintf("gm:history:%s:%d", p, limit) }
