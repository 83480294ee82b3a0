// Package store defines the backing-store interface for the market core.
// Implementations include PostgreSQL (durable backing store), Redis
// (read-through cache for history/totals reads), and in-memory (for
// testing and development).
//
// The backing store is not the read path: the in-memory cache owned by
// the market facade is authoritative for reads, and every mutation
// reaches the backing store asynchronously through the write queue.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// ErrNotFound is returned when an id references a missing row. Callers
// treat it as "stock is gone" and degrade rather than fail hard.
var ErrNotFound = errors.New("store: not found")

// QueueRow is a raw recovery-table row: the serialized queue entry plus
// its row id.
type QueueRow struct {
	ID   int
	Data string
}

// ItemRow is a raw items-table row: the serialized canonical item plus
// its id.
type ItemRow struct {
	ID   int
	Data string
}

// Store is the backing-store interface.
type Store interface {
	// InitSchema creates all tables if they do not exist.
	InitSchema(ctx context.Context) error

	// --- Bulk loads (startup only) ---

	// LoadListings returns every listing row in id order.
	LoadListings(ctx context.Context) ([]model.Listing, error)

	// LoadMail returns every mail row in id order.
	LoadMail(ctx context.Context) ([]model.Mail, error)

	// LoadQueue returns every recovery row in id order.
	LoadQueue(ctx context.Context) ([]QueueRow, error)

	// LoadItems returns the serialized items with the given ids.
	LoadItems(ctx context.Context, ids []int) ([]ItemRow, error)

	// MaxItemID returns the highest allocated item id, or 0 when the
	// table is empty. Items are only partially loaded, so the next id
	// cannot be derived from LoadItems.
	MaxItemID(ctx context.Context) (int, error)

	// --- Items ---

	// InsertItem writes a canonical item row under an explicit id.
	InsertItem(ctx context.Context, id int, data string) error

	// UpdateItem rewrites an item row (sanitization write-back).
	UpdateItem(ctx context.Context, id int, data string) error

	// --- Listings ---

	// InsertListing writes a listing row under its explicit id. Replay
	// may apply the same row twice; implementations must treat a
	// duplicate id as a no-op.
	InsertListing(ctx context.Context, l model.Listing) error

	// DeleteListing removes a listing row.
	DeleteListing(ctx context.Context, id int) error

	// --- Mail ---

	// InsertMail writes a mail row under its explicit id, upsert-like
	// as with InsertListing.
	InsertMail(ctx context.Context, m model.Mail) error

	// DeleteMail removes a mail row.
	DeleteMail(ctx context.Context, id int) error

	// ClearMailPickup zeroes the pickup value of a mail row.
	ClearMailPickup(ctx context.Context, id int) error

	// --- Recovery queue ---

	// InsertQueueRow appends a serialized queue entry under its id.
	InsertQueueRow(ctx context.Context, id int, data string) error

	// DeleteQueueRow removes a recovery row once the primary write is
	// confirmed durable.
	DeleteQueueRow(ctx context.Context, id int) error

	// --- Users / history ---

	// AddUserTotals adds deltas to a player's earned/spent aggregates,
	// creating the row on first use.
	AddUserTotals(ctx context.Context, name string, earned, spent decimal.Decimal) error

	// UserTotals returns a player's aggregates; ErrNotFound when the
	// player has no row.
	UserTotals(ctx context.Context, name string) (model.UserTotals, error)

	// InsertHistory appends an immutable action record.
	InsertHistory(ctx context.Context, h model.HistoryEntry) error

	// HistoryFor returns a player's most recent records, newest first.
	HistoryFor(ctx context.Context, player string, limit int) ([]model.HistoryEntry, error)
}
