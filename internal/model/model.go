// Package model defines the core domain types shared across the market.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Item is a tradable item payload: a numeric type, display metadata, and
// a stack amount. The registry stores one canonical copy per distinct
// (type + metadata) combination with Amount forced to 1; Amount on copies
// handed to callers reflects the listing or mail that referenced it.
type Item struct {
	TypeID   int            `json:"type_id"`
	Name     string         `json:"name,omitempty"`
	Lore     []string       `json:"lore,omitempty"`
	Enchants map[string]int `json:"enchants,omitempty"`
	Amount   int            `json:"amount"`
}

// Canonical returns a deep copy with Amount set to 1. Two items that
// canonicalize to equal values share one registry id.
func (it Item) Canonical() Item {
	return it.WithAmount(1)
}

// WithAmount returns a deep copy with the given stack amount.
func (it Item) WithAmount(amount int) Item {
	out := it
	out.Amount = amount
	if it.Lore != nil {
		out.Lore = append([]string(nil), it.Lore...)
	}
	if it.Enchants != nil {
		out.Enchants = make(map[string]int, len(it.Enchants))
		for k, v := range it.Enchants {
			out.Enchants[k] = v
		}
	}
	return out
}

// Listing is one seller's offer of an item stack at a price in a region.
type Listing struct {
	ID     int             `json:"id"`
	Seller string          `json:"seller"`
	ItemID int             `json:"item"`
	Amount int             `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Region string          `json:"region"`
	Time   int64           `json:"time"` // creation time, unix millis
}

// Stackable reports whether two listings are interchangeable for the
// condensed view: same item, same price, same region. Seller and amount
// are deliberately excluded.
func (l Listing) Stackable(other Listing) bool {
	return l.ItemID == other.ItemID &&
		l.Region == other.Region &&
		l.Price.Equal(other.Price)
}

// Mail is an item (and optionally a payout) waiting for a player to claim.
// Pickup is the monetary amount credited on claim; zero means no payout.
type Mail struct {
	ID     int             `json:"id"`
	Owner  string          `json:"owner"`
	ItemID int             `json:"item"`
	Amount int             `json:"amount"`
	Pickup decimal.Decimal `json:"pickup"`
	Sender string          `json:"sender"`
	Region string          `json:"region"`
}

// Queue entry payload discriminants.
const (
	KindListing = "listing"
	KindMail    = "mail"
)

// QueueEntry is a durable-write record: a pending Listing or Mail that
// has been accepted in memory but not yet confirmed written to the
// backing store. Kind selects which payload pointer is set.
type QueueEntry struct {
	ID      int      `json:"id"`
	Time    int64    `json:"time"` // enqueue time, unix millis
	Kind    string   `json:"kind"`
	Listing *Listing `json:"listing,omitempty"`
	Mail    *Mail    `json:"mail,omitempty"`
}

// HistoryEntry is an immutable record of a market action. Once written
// these are never modified or deleted.
type HistoryEntry struct {
	ID     int             `json:"id"`
	Player string          `json:"player"`
	Action string          `json:"action"`
	Who    string          `json:"who"`
	ItemID int             `json:"item"`
	Amount int             `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Time   int64           `json:"time"`
}

// History actions.
const (
	ActionListed    = "listed"
	ActionCancelled = "cancelled"
	ActionBought    = "bought"
	ActionSold      = "sold"
	ActionClaimed   = "claimed"
)

// UserTotals aggregates a player's lifetime market turnover.
type UserTotals struct {
	Name   string          `json:"name"`
	Earned decimal.Decimal `json:"earned"`
	Spent  decimal.Decimal `json:"spent"`
}

// Sort selects a listing ordering for paged reads.
type Sort int

const (
	// SortDefault keeps the view's own order: most-recent-first for the
	// condensed and regional views.
	SortDefault Sort = iota
	SortPriceLowest
	SortPriceHighest
	SortAmountHighest
)

// ParseSort maps a query-string value to a Sort. Unknown values fall
// back to SortDefault.
func ParseSort(s string) Sort {
	switch s {
	case "price_asc":
		return SortPriceLowest
	case "price_desc":
		return SortPriceHighest
	case "amount_desc":
		return SortAmountHighest
	default:
		return SortDefault
	}
}

func (s Sort) String() string {
	switch s {
	case SortPriceLowest:
		return "price_asc"
	case SortPriceHighest:
		return "price_desc"
	case SortAmountHighest:
		return "amount_desc"
	default:
		return "default"
	}
}

// Page returns the 1-indexed page of the given size from list. Page p
// with size s covers offsets [s*(p-1), s*(p-1)+s). Out-of-range pages
// return an empty slice, never an error.
func Page[T any](list []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return nil
	}
	start := pageSize * (page - 1)
	if start >= len(list) {
		return nil
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	return append([]T(nil), list[start:end]...)
}

// FormatID renders an entity id the way search compares it.
func FormatID(id int) string { return strconv.Itoa(id) }
