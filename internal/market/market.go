// Package market implements the marketplace core: the authoritative
// in-memory listing and mail stores with their derived views, the
// search engine over them, and the facade that composes stores, item
// registry, durable write queue, and change notification fan-out.
//
// All reads and mutations of the cache are serialized by one mutex; the
// backing store is written asynchronously through the queue and is never
// on a read path. The facade is explicitly constructed; there is no
// package-level instance.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/limits"
	"github.com/DrkMatr1984/GlobalMarket/internal/metrics"
	"github.com/DrkMatr1984/GlobalMarket/internal/model"
	"github.com/DrkMatr1984/GlobalMarket/internal/queue"
	"github.com/DrkMatr1984/GlobalMarket/internal/registry"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

// View names passed to Notifier.NotifyViewer.
const (
	ViewListings = "Listings"
	ViewMail     = "Mail"
)

// Event is a broadcast-worthy market event.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Player    string `json:"player,omitempty"`
	View      string `json:"view,omitempty"`
	ListingID int    `json:"listing_id,omitempty"`
	ItemName  string `json:"item_name,omitempty"`
	Price     string `json:"price,omitempty"`
	Region    string `json:"region,omitempty"`
}

// Event types.
const (
	EventRefresh        = "refresh"
	EventListingCreated = "listing_created"
)

// Notifier receives change notifications for external viewers. An empty
// player name addresses every viewer.
type Notifier interface {
	NotifyViewer(player, view string)
	Announce(e Event)
}

// RegionLinker reports whether a read for one region should also include
// entries registered under another. Host-configured.
type RegionLinker interface {
	IsLinked(a, b string) bool
}

// ItemNamer resolves an item's display name. Host-specific.
type ItemNamer interface {
	ItemName(it model.Item) string
}

// Facade errors.
var (
	ErrInvalidPrice  = errors.New("market: price must not be negative")
	ErrInvalidAmount = errors.New("market: amount must be at least 1")
	ErrOwnListing    = errors.New("market: cannot buy your own listing")
)

// Options configures a Market. Zero values give a market with no
// notifications, no region linking, no limits, and multi-region mode
// off.
type Options struct {
	Notifier         Notifier
	Linker           RegionLinker
	Namer            ItemNamer
	Limits           *limits.ListingLimiter
	MultiRegion      bool
	AnnounceOnCreate bool
	// MarketCut is the fraction of each sale price retained by the
	// market before crediting the seller.
	MarketCut    decimal.Decimal
	HistoryLimit int
}

// Market is the marketplace facade.
type Market struct {
	mu sync.Mutex

	st       store.Store
	reg      *registry.Registry
	q        *queue.Queue
	listings *listingIndex
	mail     *mailIndex

	nextListingID int
	nextMailID    int

	opts Options
}

// New constructs a market over the given backing store and starts its
// write queue. Call Load before serving, and Close on shutdown.
func New(st store.Store, opts Options) *Market {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	q := queue.New(st)
	q.Start()
	return &Market{
		st:            st,
		reg:           registry.New(q),
		q:             q,
		listings:      newListingIndex(),
		mail:          newMailIndex(),
		nextListingID: 1,
		nextMailID:    1,
		opts:          opts,
	}
}

// Registry exposes the item registry.
func (m *Market) Registry() *registry.Registry { return m.reg }

// Queue exposes the durable write queue.
func (m *Market) Queue() *queue.Queue { return m.q }

// Load rebuilds the in-memory state from the backing store and replays
// the recovery queue. Writes accepted by a prior process but not
// confirmed durable are applied through the restore path and resolved,
// so every accepted write lands at least once.
func (m *Market) Load(ctx context.Context) error {
	listingRows, err := m.st.LoadListings(ctx)
	if err != nil {
		return fmt.Errorf("load listings: %w", err)
	}
	mailRows, err := m.st.LoadMail(ctx)
	if err != nil {
		return fmt.Errorf("load mail: %w", err)
	}
	queueRows, err := m.st.LoadQueue(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	var entries []model.QueueEntry
	maxRowID := 0
	for _, row := range queueRows {
		e, err := queue.DecodeEntry(row.Data)
		if err != nil {
			slog.Error("skipping undecodable queue row", "row", row.ID, "err", err)
			continue
		}
		e.ID = row.ID
		entries = append(entries, e)
		if row.ID > maxRowID {
			maxRowID = row.ID
		}
	}

	// Cache every item the surviving records reference.
	itemIDs := make(map[int]bool)
	for _, l := range listingRows {
		itemIDs[l.ItemID] = true
	}
	for _, mm := range mailRows {
		itemIDs[mm.ItemID] = true
	}
	for _, e := range entries {
		switch e.Kind {
		case model.KindListing:
			itemIDs[e.Listing.ItemID] = true
		case model.KindMail:
			itemIDs[e.Mail.ItemID] = true
		}
	}
	ids := make([]int, 0, len(itemIDs))
	for id := range itemIDs {
		ids = append(ids, id)
	}
	if err := m.reg.Load(ctx, m.st, ids); err != nil {
		return err
	}

	m.mu.Lock()
	for _, l := range listingRows {
		m.listings.insert(l)
		if l.ID >= m.nextListingID {
			m.nextListingID = l.ID + 1
		}
	}
	m.listings.rebuild()
	for _, mm := range mailRows {
		m.mail.insert(mm)
		if mm.ID >= m.nextMailID {
			m.nextMailID = mm.ID + 1
		}
	}
	m.mu.Unlock()

	// Replay unconfirmed writes, oldest first, then resolve each.
	for _, e := range entries {
		switch e.Kind {
		case model.KindListing:
			slog.Info("replaying queued listing", "entry", e.ID, "listing", e.Listing.ID)
			m.RestoreListing(*e.Listing)
		case model.KindMail:
			slog.Info("replaying queued mail", "entry", e.ID, "mail", e.Mail.ID)
			m.RestoreMail(*e.Mail)
		}
		m.q.Resolve(e.ID)
	}
	m.q.SyncIndex(maxRowID)

	m.mu.Lock()
	m.updateGauges()
	m.mu.Unlock()
	slog.Info("market loaded",
		"listings", len(listingRows),
		"mail", len(mailRows),
		"replayed", len(entries),
		"items", m.reg.Len(),
	)
	return nil
}

// Flush blocks until every write submitted so far has been applied.
func (m *Market) Flush(ctx context.Context) error {
	return m.q.Flush(ctx)
}

// Close drains the write queue best-effort and stops it.
func (m *Market) Close(ctx context.Context) error {
	return m.q.Close(ctx)
}

// updateGauges refreshes the cache-size metrics. Callers hold mu.
func (m *Market) updateGauges() {
	metrics.ListingsActive.Set(float64(m.listings.len()))
	metrics.CondensedGroups.Set(float64(len(m.listings.condensed)))
	metrics.MailPending.Set(float64(m.mail.len()))
}

func (m *Market) notifyViewer(player, view string) {
	if m.opts.Notifier != nil {
		m.opts.Notifier.NotifyViewer(player, view)
	}
}

func (m *Market) announce(e Event) {
	if m.opts.Notifier != nil {
		m.opts.Notifier.Announce(e)
	}
}

// itemName resolves an item's display name through the host's namer.
func (m *Market) itemName(it model.Item) string {
	if m.opts.Namer != nil {
		return m.opts.Namer.ItemName(it)
	}
	if it.Name != "" {
		return it.Name
	}
	return fmt.Sprintf("item/%d", it.TypeID)
}

func (m *Market) recordHistory(player, action, who string, itemID, amount int, price decimal.Decimal) {
	m.q.Submit(queue.InsertHistory{Entry: model.HistoryEntry{
		Player: player,
		Action: action,
		Who:    who,
		ItemID: itemID,
		Amount: amount,
		Price:  price,
		Time:   time.Now().UnixMilli(),
	}})
}

// --- Listings ---

// CreateListing accepts a new listing into the cache, enqueues its
// durable write, and notifies viewers. The item's current amount becomes
// the listing amount.
func (m *Market) CreateListing(seller string, it model.Item, price decimal.Decimal, region string) (model.Listing, error) {
	if price.IsNegative() {
		return model.Listing{}, ErrInvalidPrice
	}
	if it.Amount < 1 {
		return model.Listing{}, ErrInvalidAmount
	}

	m.mu.Lock()
	if m.opts.Limits != nil {
		owned := m.ownedCountLocked(seller, region)
		inRegion := m.listings.regionCount(region, m.opts.Linker)
		if err := m.opts.Limits.Check(owned, inRegion); err != nil {
			m.mu.Unlock()
			return model.Listing{}, err
		}
	}
	itemID := m.reg.Intern(it)
	l := model.Listing{
		ID:     m.nextListingID,
		Seller: seller,
		ItemID: itemID,
		Amount: it.Amount,
		Price:  price,
		Region: region,
		Time:   time.Now().UnixMilli(),
	}
	m.nextListingID++
	newHead := m.listings.insert(l)
	m.updateGauges()
	m.mu.Unlock()

	m.q.EnqueueListing(l)
	metrics.ListingsCreated.Inc()
	m.recordHistory(seller, model.ActionListed, seller, itemID, it.Amount, price)
	m.notifyViewer("", ViewListings)
	if newHead && m.opts.AnnounceOnCreate {
		m.announce(Event{
			Type:      EventListingCreated,
			ListingID: l.ID,
			ItemName:  m.itemName(it),
			Price:     price.String(),
			Region:    region,
		})
	}
	return l, nil
}

// RestoreListing inserts a listing with a caller-supplied id and
// timestamp, used by recovery replay. The primary-table write is
// re-issued; duplicate rows are no-ops in the backing store, and a
// listing already cached is left untouched.
func (m *Market) RestoreListing(l model.Listing) {
	m.mu.Lock()
	if _, exists := m.listings.get(l.ID); !exists {
		m.listings.insert(l)
		if l.ID >= m.nextListingID {
			m.nextListingID = l.ID + 1
		}
	}
	m.updateGauges()
	m.mu.Unlock()

	m.q.Submit(queue.InsertListing{Listing: l})
	m.notifyViewer(l.Seller, ViewListings)
	m.notifyViewer("", ViewListings)
}

// RemoveListing deletes a listing from every view, repairing the
// condensed view, and enqueues the durable delete.
func (m *Market) RemoveListing(id int) (model.Listing, error) {
	m.mu.Lock()
	l, ok := m.listings.remove(id)
	m.updateGauges()
	m.mu.Unlock()

	if !ok {
		return model.Listing{}, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	m.q.Submit(queue.DeleteListing{ID: id})
	m.notifyViewer("", ViewListings)
	return l, nil
}

// CancelListing removes a listing and mails the item stack back to its
// seller.
func (m *Market) CancelListing(id int) error {
	l, err := m.RemoveListing(id)
	if err != nil {
		return err
	}
	m.recordHistory(l.Seller, model.ActionCancelled, l.Seller, l.ItemID, l.Amount, l.Price)
	m.mailItem(l.Seller, "Market", l.ItemID, l.Amount, decimal.Zero, l.Region)
	return nil
}

// GetListing returns a listing by id.
func (m *Market) GetListing(id int) (model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings.get(id)
	if !ok {
		return model.Listing{}, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	return l, nil
}

// Listings returns one page of the market view: the raw per-region list
// when multi-region mode is enabled, otherwise the condensed view.
func (m *Market) Listings(sortBy model.Sort, page, pageSize int, region string) []model.Listing {
	m.mu.Lock()
	var list []model.Listing
	if m.opts.MultiRegion {
		list = m.listings.region(region, m.opts.Linker)
	} else {
		list = m.listings.heads()
	}
	m.mu.Unlock()

	sortListings(list, sortBy)
	return model.Page(list, page, pageSize)
}

// ListingCount returns the size of the market view for a region.
func (m *Market) ListingCount(region string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MultiRegion {
		return m.listings.regionCount(region, m.opts.Linker)
	}
	return len(m.listings.condensed)
}

// GroupSize reports how many sibling listings a condensed entry stands
// for. Listings absent from the condensed view count as 1.
func (m *Market) GroupSize(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings.groupSize(id)
}

// OwnedListings returns one page of a seller's listings, drawn from the
// raw index so every individual listing is visible even when condensed
// for other viewers.
func (m *Market) OwnedListings(seller string, page, pageSize int, region string) []model.Listing {
	m.mu.Lock()
	list := m.ownedLocked(seller, region)
	m.mu.Unlock()

	return model.Page(list, page, pageSize)
}

// OwnedCount returns how many listings a seller has open.
func (m *Market) OwnedCount(seller, region string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownedCountLocked(seller, region)
}

func (m *Market) ownedLocked(seller, region string) []model.Listing {
	var source []model.Listing
	if m.opts.MultiRegion {
		source = m.listings.region(region, m.opts.Linker)
	} else {
		source = m.listings.all()
	}
	var out []model.Listing
	for _, l := range source {
		if strings.EqualFold(l.Seller, seller) {
			out = append(out, l)
		}
	}
	return out
}

func (m *Market) ownedCountLocked(seller, region string) int {
	return len(m.ownedLocked(seller, region))
}

// Search filters the market view by item text, enchantment names,
// numeric type id, or exact listing id, case-insensitively. Returns the
// total match count alongside one page.
func (m *Market) Search(query string, sortBy model.Sort, page, pageSize int, region string) (int, []model.Listing) {
	metrics.SearchesTotal.Inc()
	q := strings.ToLower(query)

	m.mu.Lock()
	var list []model.Listing
	if m.opts.MultiRegion {
		list = m.listings.region(region, m.opts.Linker)
	} else {
		list = m.listings.heads()
	}
	var found []model.Listing
	for _, l := range list {
		it, err := m.reg.Resolve(l.ItemID, l.Amount)
		if err != nil {
			// Stock row is gone; the listing cannot match anything
			// except its own id.
			if q == model.FormatID(l.ID) {
				found = append(found, l)
			}
			continue
		}
		if matchesListing(l, it, m.itemName(it), q) {
			found = append(found, l)
		}
	}
	m.mu.Unlock()

	sortListings(found, sortBy)
	return len(found), model.Page(found, page, pageSize)
}

// Sale describes a completed purchase.
type Sale struct {
	Listing model.Listing   `json:"listing"`
	Buyer   string          `json:"buyer"`
	Price   decimal.Decimal `json:"price"`
	Cut     decimal.Decimal `json:"cut"`
	Net     decimal.Decimal `json:"net"`
}

// Buy completes a purchase: the listing is removed, the item stack is
// mailed to the buyer, and the seller is mailed a transaction log
// carrying the proceeds (price minus the market cut) as pickup value.
// Charging the buyer is the host economy's side of the trade and happens
// before this call.
func (m *Market) Buy(id int, buyer string) (Sale, error) {
	m.mu.Lock()
	l, ok := m.listings.get(id)
	if !ok {
		m.mu.Unlock()
		return Sale{}, fmt.Errorf("listing %d: %w", id, store.ErrNotFound)
	}
	if strings.EqualFold(l.Seller, buyer) {
		m.mu.Unlock()
		return Sale{}, ErrOwnListing
	}
	m.listings.remove(id)
	m.updateGauges()
	m.mu.Unlock()

	m.q.Submit(queue.DeleteListing{ID: id})

	cut := l.Price.Mul(m.opts.MarketCut).Round(2)
	net := l.Price.Sub(cut)

	// Item to the buyer.
	m.mailItem(buyer, l.Seller, l.ItemID, l.Amount, decimal.Zero, l.Region)

	// Transaction log with the proceeds to the seller.
	itemName := "unknown item"
	if it, err := m.reg.Resolve(l.ItemID, l.Amount); err == nil {
		itemName = m.itemName(it)
	}
	receipt := transactionLog(itemName, buyer, l.Price, cut, net)
	m.mu.Lock()
	receiptID := m.reg.Intern(receipt)
	m.mu.Unlock()
	m.mailItem(l.Seller, buyer, receiptID, 1, net, l.Region)

	m.q.Submit(queue.AddUserTotals{Totals: model.UserTotals{Name: l.Seller, Earned: net, Spent: decimal.Zero}})
	m.q.Submit(queue.AddUserTotals{Totals: model.UserTotals{Name: buyer, Earned: decimal.Zero, Spent: l.Price}})
	m.recordHistory(buyer, model.ActionBought, l.Seller, l.ItemID, l.Amount, l.Price)
	m.recordHistory(l.Seller, model.ActionSold, buyer, l.ItemID, l.Amount, l.Price)
	metrics.SalesTotal.Inc()
	m.notifyViewer("", ViewListings)

	return Sale{Listing: l, Buyer: buyer, Price: l.Price, Cut: cut, Net: net}, nil
}

// transactionLog builds the receipt item mailed to a seller after a
// sale.
func transactionLog(itemName, buyer string, price, cut, net decimal.Decimal) model.Item {
	return model.Item{
		TypeID: 387, // written book
		Name:   "Transaction Log",
		Lore: []string{
			"Item sold: " + itemName,
			"Buyer: " + buyer,
			"Sale price: " + price.String(),
			"Market cut: " + cut.String(),
			"Amount received: " + net.String(),
		},
		Amount: 1,
	}
}

// --- Mail ---

// SendMail accepts a new mail record into the cache, enqueues its
// durable write, and notifies the owner's Mail view.
func (m *Market) SendMail(owner, sender string, it model.Item, pickup decimal.Decimal, region string) (model.Mail, error) {
	if it.Amount < 1 {
		return model.Mail{}, ErrInvalidAmount
	}
	if pickup.IsNegative() {
		return model.Mail{}, ErrInvalidPrice
	}

	m.mu.Lock()
	itemID := m.reg.Intern(it)
	m.mu.Unlock()
	return m.mailItem(owner, sender, itemID, it.Amount, pickup, region), nil
}

// mailItem creates a mail record for an already-interned item.
func (m *Market) mailItem(owner, sender string, itemID, amount int, pickup decimal.Decimal, region string) model.Mail {
	m.mu.Lock()
	mm := model.Mail{
		ID:     m.nextMailID,
		Owner:  owner,
		ItemID: itemID,
		Amount: amount,
		Pickup: pickup,
		Sender: sender,
		Region: region,
	}
	m.nextMailID++
	m.mail.insert(mm)
	m.updateGauges()
	m.mu.Unlock()

	m.q.EnqueueMail(mm)
	m.notifyViewer(owner, ViewMail)
	return mm
}

// RestoreMail inserts a mail record with a caller-supplied id, used by
// recovery replay. Idempotent like RestoreListing.
func (m *Market) RestoreMail(mm model.Mail) {
	m.mu.Lock()
	if _, exists := m.mail.get(mm.ID); !exists {
		m.mail.insert(mm)
		if mm.ID >= m.nextMailID {
			m.nextMailID = mm.ID + 1
		}
	}
	m.updateGauges()
	m.mu.Unlock()

	m.q.Submit(queue.InsertMail{Mail: mm})
	m.notifyViewer(mm.Owner, ViewMail)
}

// GetMail returns a mail record by id.
func (m *Market) GetMail(id int) (model.Mail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mm, ok := m.mail.get(id)
	if !ok {
		return model.Mail{}, fmt.Errorf("mail %d: %w", id, store.ErrNotFound)
	}
	return mm, nil
}

// MailFor returns one page of owner's mail, newest first.
func (m *Market) MailFor(owner string, page, pageSize int, region string) []model.Mail {
	m.mu.Lock()
	list := m.mail.owned(owner, region, m.opts.MultiRegion, m.opts.Linker)
	m.mu.Unlock()

	return model.Page(list, page, pageSize)
}

// MailCount returns how many mail records owner has waiting.
func (m *Market) MailCount(owner, region string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mail.owned(owner, region, m.opts.MultiRegion, m.opts.Linker))
}

// RemoveMail deletes a mail record and enqueues the durable delete.
func (m *Market) RemoveMail(id int) error {
	m.mu.Lock()
	mm, ok := m.mail.remove(id)
	m.updateGauges()
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("mail %d: %w", id, store.ErrNotFound)
	}
	m.q.Submit(queue.DeleteMail{ID: id})
	m.notifyViewer(mm.Owner, ViewMail)
	return nil
}

// ClearPickupValue zeroes a mail record's payout without deleting it,
// used when applying the payout fails. The record stays claimable.
func (m *Market) ClearPickupValue(id int) error {
	m.mu.Lock()
	mm, ok := m.mail.get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mail %d: %w", id, store.ErrNotFound)
	}
	mm.Pickup = decimal.Zero
	m.mail.update(mm)
	m.mu.Unlock()

	m.q.Submit(queue.ClearMailPickup{ID: id})
	m.notifyViewer(mm.Owner, ViewMail)
	return nil
}

// Claim describes a claimed mail record.
type Claim struct {
	Item    model.Item      `json:"item"`
	HasItem bool            `json:"has_item"`
	Pickup  decimal.Decimal `json:"pickup"`
}

// ClaimMail removes a mail record and hands back its contents. A missing
// item payload degrades to an item-less claim rather than failing; the
// pickup amount is returned for the host economy to credit.
func (m *Market) ClaimMail(id int) (Claim, error) {
	m.mu.Lock()
	mm, ok := m.mail.get(id)
	m.mu.Unlock()
	if !ok {
		return Claim{}, fmt.Errorf("mail %d: %w", id, store.ErrNotFound)
	}

	var c Claim
	c.Pickup = mm.Pickup
	if it, err := m.reg.Resolve(mm.ItemID, mm.Amount); err == nil {
		c.Item = it
		c.HasItem = true
	} else {
		slog.Error("mail item stock is gone", "mail", id, "item", mm.ItemID)
	}

	if err := m.RemoveMail(id); err != nil {
		return Claim{}, err
	}
	m.recordHistory(mm.Owner, model.ActionClaimed, mm.Sender, mm.ItemID, mm.Amount, mm.Pickup)
	return c, nil
}

// --- Users / history ---

// History returns a player's most recent market actions, newest first.
func (m *Market) History(ctx context.Context, player string) ([]model.HistoryEntry, error) {
	return m.st.HistoryFor(ctx, player, m.opts.HistoryLimit)
}

// Totals returns a player's lifetime earned/spent aggregates. A player
// with no recorded trades gets zero totals, not an error.
func (m *Market) Totals(ctx context.Context, player string) (model.UserTotals, error) {
	t, err := m.st.UserTotals(ctx, player)
	if errors.Is(err, store.ErrNotFound) {
		return model.UserTotals{Name: player, Earned: decimal.Zero, Spent: decimal.Zero}, nil
	}
	return t, err
}
