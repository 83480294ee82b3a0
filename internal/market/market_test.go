package market_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/limits"
	"github.com/DrkMatr1984/GlobalMarket/internal/market"
	"github.com/DrkMatr1984/GlobalMarket/internal/model"
	"github.com/DrkMatr1984/GlobalMarket/internal/registry"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestMarket creates a loaded market over an in-memory store.
func newTestMarket(t *testing.T, opts market.Options) (*market.Market, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	m := market.New(ms, opts)
	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m, ms
}

func diamond(amount int) model.Item {
	return model.Item{
		TypeID:   264,
		Name:     "Diamond",
		Lore:     []string{"A shiny rock"},
		Enchants: map[string]int{"sharpness": 1},
		Amount:   amount,
	}
}

func dirt(amount int) model.Item {
	return model.Item{TypeID: 3, Amount: amount}
}

func mustCreate(t *testing.T, m *market.Market, seller string, it model.Item, price decimal.Decimal, region string) model.Listing {
	t.Helper()
	l, err := m.CreateListing(seller, it, price, region)
	if err != nil {
		t.Fatalf("create listing for %s: %v", seller, err)
	}
	return l
}

// --- Condensed view ---

func TestCreateListing_CondensesEqualOffers(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l1 := mustCreate(t, m, "alice", diamond(4), d(100), "")
	mustCreate(t, m, "bob", diamond(4), d(100), "")
	mustCreate(t, m, "carol", diamond(4), d(100), "")

	view := m.Listings(model.SortDefault, 1, 45, "")
	if len(view) != 1 {
		t.Fatalf("expected 1 condensed entry, got %d", len(view))
	}
	if view[0].ID != l1.ID {
		t.Errorf("first arrival should stay visible, got listing %d", view[0].ID)
	}
	if n := m.GroupSize(l1.ID); n != 3 {
		t.Errorf("expected group of 3, got %d", n)
	}
	if n := m.ListingCount(""); n != 1 {
		t.Errorf("market view count should be 1, got %d", n)
	}
	// Every individual listing is still visible to its seller.
	for _, seller := range []string{"alice", "bob", "carol"} {
		if n := m.OwnedCount(seller, ""); n != 1 {
			t.Errorf("%s should own 1 listing, got %d", seller, n)
		}
	}
}

func TestCreateListing_DifferentPricesStaySeparate(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	mustCreate(t, m, "alice", diamond(4), d(100), "")
	mustCreate(t, m, "bob", diamond(4), d(90), "")

	view := m.Listings(model.SortDefault, 1, 45, "")
	if len(view) != 2 {
		t.Errorf("different prices should not condense, got %d entries", len(view))
	}
}

func TestRemoveListing_PromotesMostRecentSibling(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l1 := mustCreate(t, m, "alice", diamond(4), d(100), "")
	l2 := mustCreate(t, m, "bob", diamond(4), d(100), "")
	l3 := mustCreate(t, m, "carol", diamond(4), d(100), "")

	if _, err := m.RemoveListing(l1.ID); err != nil {
		t.Fatalf("remove head: %v", err)
	}

	view := m.Listings(model.SortDefault, 1, 45, "")
	if len(view) != 1 {
		t.Fatalf("group should survive head removal, got %d entries", len(view))
	}
	if view[0].ID != l3.ID {
		t.Errorf("most recent sibling should be promoted, got listing %d", view[0].ID)
	}
	if n := m.GroupSize(l2.ID); n != 2 {
		t.Errorf("expected group of 2 after removal, got %d", n)
	}
}

func TestRemoveListing_LastMemberDropsGroup(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l := mustCreate(t, m, "alice", diamond(4), d(100), "")
	if _, err := m.RemoveListing(l.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if view := m.Listings(model.SortDefault, 1, 45, ""); len(view) != 0 {
		t.Errorf("expected empty view, got %d entries", len(view))
	}
	if _, err := m.GetListing(l.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveListing_Unknown(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	if _, err := m.RemoveListing(42); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Validation and limits ---

func TestCreateListing_Validation(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	if _, err := m.CreateListing("alice", diamond(4), d(-1), ""); !errors.Is(err, market.ErrInvalidPrice) {
		t.Errorf("negative price: expected ErrInvalidPrice, got %v", err)
	}
	if _, err := m.CreateListing("alice", diamond(0), d(10), ""); !errors.Is(err, market.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := m.CreateListing("alice", diamond(1), decimal.Zero, ""); err != nil {
		t.Errorf("free listings are allowed, got %v", err)
	}
}

func TestCreateListing_SellerLimit(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{
		Limits: limits.NewListingLimiter(1, 0),
	})

	mustCreate(t, m, "alice", diamond(1), d(10), "")
	_, err := m.CreateListing("alice", dirt(1), d(5), "")
	if !errors.Is(err, limits.ErrSellerLimitExceeded) {
		t.Errorf("expected ErrSellerLimitExceeded, got %v", err)
	}
	// Other sellers are unaffected.
	mustCreate(t, m, "bob", dirt(1), d(5), "")
}

func TestCreateListing_RegionLimit(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{
		Limits: limits.NewListingLimiter(0, 2),
	})

	mustCreate(t, m, "alice", diamond(1), d(10), "spawn")
	mustCreate(t, m, "bob", dirt(1), d(5), "spawn")
	_, err := m.CreateListing("carol", dirt(1), d(3), "spawn")
	if !errors.Is(err, limits.ErrRegionLimitExceeded) {
		t.Errorf("expected ErrRegionLimitExceeded, got %v", err)
	}
}

// --- Pagination and sorting ---

func TestListings_Pagination(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	// Distinct prices keep the 25 listings uncondensed.
	for i := 1; i <= 25; i++ {
		mustCreate(t, m, "alice", diamond(1), decimal.NewFromInt(int64(i)), "")
	}

	page2 := m.Listings(model.SortDefault, 2, 10, "")
	if len(page2) != 10 {
		t.Fatalf("expected 10 entries on page 2, got %d", len(page2))
	}
	// Default order is most recent first, so page 2 covers listings
	// 15 down to 6.
	if page2[0].ID != 15 || page2[9].ID != 6 {
		t.Errorf("page 2 should span ids 15..6, got %d..%d", page2[0].ID, page2[9].ID)
	}

	page3 := m.Listings(model.SortDefault, 3, 10, "")
	if len(page3) != 5 {
		t.Errorf("expected 5 entries on the last page, got %d", len(page3))
	}
	if out := m.Listings(model.SortDefault, 4, 10, ""); len(out) != 0 {
		t.Errorf("out-of-range page should be empty, got %d entries", len(out))
	}
}

func TestListings_SortByPrice(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	mustCreate(t, m, "alice", diamond(1), d(30), "")
	mustCreate(t, m, "bob", dirt(1), d(10), "")
	mustCreate(t, m, "carol", model.Item{TypeID: 17, Amount: 1}, d(20), "")

	asc := m.Listings(model.SortPriceLowest, 1, 45, "")
	if !asc[0].Price.Equal(d(10)) || !asc[2].Price.Equal(d(30)) {
		t.Errorf("price_asc out of order: %s, %s, %s", asc[0].Price, asc[1].Price, asc[2].Price)
	}
	desc := m.Listings(model.SortPriceHighest, 1, 45, "")
	if !desc[0].Price.Equal(d(30)) {
		t.Errorf("price_desc should start at 30, got %s", desc[0].Price)
	}
}

// --- Regions ---

type pairLinker struct{ a, b string }

func (p pairLinker) IsLinked(x, y string) bool {
	return (x == p.a && y == p.b) || (x == p.b && y == p.a)
}

func TestListings_MultiRegion(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{
		MultiRegion: true,
		Linker:      pairLinker{"spawn", "mall"},
	})

	l1 := mustCreate(t, m, "alice", diamond(1), d(10), "spawn")
	l2 := mustCreate(t, m, "bob", dirt(1), d(5), "mall")
	l3 := mustCreate(t, m, "carol", dirt(1), d(5), "wild")

	spawn := m.Listings(model.SortDefault, 1, 45, "spawn")
	if len(spawn) != 2 {
		t.Fatalf("spawn should see its own plus linked mall, got %d", len(spawn))
	}
	if spawn[0].ID != l1.ID || spawn[1].ID != l2.ID {
		t.Errorf("expected own region first, got %d then %d", spawn[0].ID, spawn[1].ID)
	}
	if n := m.ListingCount("spawn"); n != 2 {
		t.Errorf("spawn count should be 2, got %d", n)
	}

	wild := m.Listings(model.SortDefault, 1, 45, "wild")
	if len(wild) != 1 || wild[0].ID != l3.ID {
		t.Errorf("wild should see only its own listing, got %+v", wild)
	}
	if out := m.Listings(model.SortDefault, 1, 45, "nowhere"); len(out) != 0 {
		t.Errorf("unknown region should be empty, got %d", len(out))
	}
}

// --- Search ---

func TestSearch(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l1 := mustCreate(t, m, "alice", diamond(1), d(100), "")
	l2 := mustCreate(t, m, "bob", dirt(1), d(1), "")

	cases := []struct {
		query string
		want  int
	}{
		{"diamond", 1},
		{"DIAMOND", 1}, // case-insensitive
		{"264", 1},     // numeric type id
		{"sharp", 1},   // enchantment name
		{"shiny", 1},   // lore text
		{model.FormatID(l2.ID), 1},
		{"bedrock", 0},
	}
	for _, tc := range cases {
		total, page := m.Search(tc.query, model.SortDefault, 1, 45, "")
		if total != tc.want || len(page) != tc.want {
			t.Errorf("search %q: expected %d matches, got total=%d page=%d", tc.query, tc.want, total, len(page))
		}
	}

	total, page := m.Search("diamond", model.SortDefault, 1, 45, "")
	if total == 1 && page[0].ID != l1.ID {
		t.Errorf("search should find listing %d, got %d", l1.ID, page[0].ID)
	}
}

// --- Buy flow ---

func TestBuy(t *testing.T) {
	ctx := context.Background()
	m, ms := newTestMarket(t, market.Options{MarketCut: d(0.05)})

	l := mustCreate(t, m, "alice", diamond(4), d(100), "")

	sale, err := m.Buy(l.ID, "bob")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !sale.Cut.Equal(d(5)) || !sale.Net.Equal(d(95)) {
		t.Errorf("expected cut 5 and net 95, got %s and %s", sale.Cut, sale.Net)
	}

	// The listing is gone from every view.
	if view := m.Listings(model.SortDefault, 1, 45, ""); len(view) != 0 {
		t.Errorf("sold listing still visible: %+v", view)
	}

	// The buyer gets the item stack as mail with no payout.
	bobMail := m.MailFor("bob", 1, 45, "")
	if len(bobMail) != 1 {
		t.Fatalf("buyer should have 1 mail, got %d", len(bobMail))
	}
	if bobMail[0].ItemID != l.ItemID || bobMail[0].Amount != 4 || !bobMail[0].Pickup.IsZero() {
		t.Errorf("buyer mail mismatch: %+v", bobMail[0])
	}

	// The seller gets a transaction log carrying the net proceeds.
	aliceMail := m.MailFor("alice", 1, 45, "")
	if len(aliceMail) != 1 {
		t.Fatalf("seller should have 1 mail, got %d", len(aliceMail))
	}
	if !aliceMail[0].Pickup.Equal(d(95)) {
		t.Errorf("seller payout should be 95, got %s", aliceMail[0].Pickup)
	}
	logItem, err := m.Registry().Resolve(aliceMail[0].ItemID, 1)
	if err != nil {
		t.Fatalf("resolve receipt item: %v", err)
	}
	if logItem.Name != "Transaction Log" {
		t.Errorf("expected transaction log receipt, got %q", logItem.Name)
	}

	// Lifetime totals after the queue drains.
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	aliceTotals, err := m.Totals(ctx, "alice")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if !aliceTotals.Earned.Equal(d(95)) {
		t.Errorf("alice should have earned 95, got %s", aliceTotals.Earned)
	}
	bobTotals, _ := m.Totals(ctx, "bob")
	if !bobTotals.Spent.Equal(d(100)) {
		t.Errorf("bob should have spent 100, got %s", bobTotals.Spent)
	}

	// History, newest first.
	aliceHist, err := ms.HistoryFor(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(aliceHist) != 2 || aliceHist[0].Action != model.ActionSold || aliceHist[1].Action != model.ActionListed {
		t.Errorf("unexpected alice history: %+v", aliceHist)
	}
}

func TestBuy_OwnListing(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l := mustCreate(t, m, "alice", diamond(1), d(10), "")
	if _, err := m.Buy(l.ID, "Alice"); !errors.Is(err, market.ErrOwnListing) {
		t.Errorf("expected ErrOwnListing, got %v", err)
	}
}

func TestCancelListing_MailsItemBack(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l := mustCreate(t, m, "alice", diamond(4), d(100), "")
	if err := m.CancelListing(l.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	mail := m.MailFor("alice", 1, 45, "")
	if len(mail) != 1 {
		t.Fatalf("expected item mailed back, got %d mail", len(mail))
	}
	if mail[0].ItemID != l.ItemID || mail[0].Amount != 4 || !mail[0].Pickup.IsZero() {
		t.Errorf("returned mail mismatch: %+v", mail[0])
	}
}

// --- Mail ---

func TestMailFlow(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	first, err := m.SendMail("alice", "bob", diamond(2), d(50), "")
	if err != nil {
		t.Fatalf("send mail: %v", err)
	}
	second, err := m.SendMail("alice", "carol", dirt(8), decimal.Zero, "")
	if err != nil {
		t.Fatalf("send mail: %v", err)
	}
	if _, err := m.SendMail("alice", "x", diamond(0), decimal.Zero, ""); !errors.Is(err, market.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}

	if n := m.MailCount("alice", ""); n != 2 {
		t.Errorf("expected 2 mail, got %d", n)
	}
	list := m.MailFor("alice", 1, 45, "")
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("mail should be newest first: %+v", list)
	}

	c, err := m.ClaimMail(first.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !c.HasItem || c.Item.TypeID != 264 || c.Item.Amount != 2 {
		t.Errorf("claimed item mismatch: %+v", c)
	}
	if !c.Pickup.Equal(d(50)) {
		t.Errorf("expected pickup 50, got %s", c.Pickup)
	}
	if n := m.MailCount("alice", ""); n != 1 {
		t.Errorf("claimed mail should be gone, count %d", n)
	}
	if _, err := m.ClaimMail(first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double claim: expected ErrNotFound, got %v", err)
	}
}

func TestClearPickupValue_KeepsRecordClaimable(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	mm, err := m.SendMail("alice", "bob", diamond(1), d(50), "")
	if err != nil {
		t.Fatalf("send mail: %v", err)
	}

	if err := m.ClearPickupValue(mm.ID); err != nil {
		t.Fatalf("clear pickup: %v", err)
	}

	got, err := m.GetMail(mm.ID)
	if err != nil {
		t.Fatalf("mail should survive pickup clear: %v", err)
	}
	if !got.Pickup.IsZero() {
		t.Errorf("pickup should be zero, got %s", got.Pickup)
	}

	c, err := m.ClaimMail(mm.ID)
	if err != nil {
		t.Fatalf("claim after clear: %v", err)
	}
	if !c.Pickup.IsZero() || !c.HasItem {
		t.Errorf("claim should hand over the item with no payout: %+v", c)
	}
}

// --- Notifications ---

type recordingNotifier struct {
	refreshes []string
	events    []market.Event
}

func (n *recordingNotifier) NotifyViewer(player, view string) {
	n.refreshes = append(n.refreshes, player+"/"+view)
}

func (n *recordingNotifier) Announce(e market.Event) {
	n.events = append(n.events, e)
}

func TestNotifications(t *testing.T) {
	rec := &recordingNotifier{}
	m, _ := newTestMarket(t, market.Options{
		Notifier:         rec,
		AnnounceOnCreate: true,
	})

	l := mustCreate(t, m, "alice", diamond(1), d(10), "")
	if len(rec.refreshes) == 0 || rec.refreshes[len(rec.refreshes)-1] != "/"+market.ViewListings {
		t.Errorf("create should refresh all listing viewers: %v", rec.refreshes)
	}
	if len(rec.events) != 1 || rec.events[0].ListingID != l.ID {
		t.Fatalf("create should announce the new head: %+v", rec.events)
	}
	if rec.events[0].Type != market.EventListingCreated {
		t.Errorf("unexpected event type %q", rec.events[0].Type)
	}

	// A sibling joining an existing group is not announced.
	mustCreate(t, m, "bob", diamond(1), d(10), "")
	if len(rec.events) != 1 {
		t.Errorf("off-view sibling should not announce, got %d events", len(rec.events))
	}

	rec.refreshes = nil
	if _, err := m.SendMail("carol", "alice", dirt(1), decimal.Zero, ""); err != nil {
		t.Fatalf("send mail: %v", err)
	}
	if len(rec.refreshes) != 1 || rec.refreshes[0] != "carol/"+market.ViewMail {
		t.Errorf("mail should refresh the owner's mail view: %v", rec.refreshes)
	}
}

// --- Recovery ---

func TestLoad_ReplaysQueueRows(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()

	itemData := registry.EncodeItem(diamond(1))
	if err := ms.InsertItem(ctx, 1, itemData); err != nil {
		t.Fatalf("seed item: %v", err)
	}

	// Listing 1 was confirmed durable; listing 2 and mail 1 were
	// accepted but only their recovery rows survived the crash.
	durable := model.Listing{ID: 1, Seller: "alice", ItemID: 1, Amount: 1, Price: d(10), Time: 1000}
	if err := ms.InsertListing(ctx, durable); err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	lost := model.Listing{ID: 2, Seller: "bob", ItemID: 1, Amount: 2, Price: d(20), Time: 2000}
	entry := model.QueueEntry{ID: 9, Time: 2000, Kind: model.KindListing, Listing: &lost}
	data, _ := json.Marshal(entry)
	if err := ms.InsertQueueRow(ctx, 9, string(data)); err != nil {
		t.Fatalf("seed queue row: %v", err)
	}

	lostMail := model.Mail{ID: 1, Owner: "carol", ItemID: 1, Amount: 1, Pickup: d(5), Sender: "bob"}
	mailEntry := model.QueueEntry{ID: 10, Time: 2001, Kind: model.KindMail, Mail: &lostMail}
	mailData, _ := json.Marshal(mailEntry)
	if err := ms.InsertQueueRow(ctx, 10, string(mailData)); err != nil {
		t.Fatalf("seed queue row: %v", err)
	}

	m := market.New(ms, market.Options{})
	if err := m.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Close(closeCtx)
	})

	// Both replayed records are served from the cache.
	if _, err := m.GetListing(2); err != nil {
		t.Errorf("replayed listing missing: %v", err)
	}
	if _, err := m.GetMail(1); err != nil {
		t.Errorf("replayed mail missing: %v", err)
	}

	// After the queue drains, the primary rows exist and the recovery
	// table is empty.
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	listings, _ := ms.LoadListings(ctx)
	if len(listings) != 2 {
		t.Errorf("expected 2 durable listings, got %d", len(listings))
	}
	rows, _ := ms.LoadQueue(ctx)
	if len(rows) != 0 {
		t.Errorf("recovery rows should be resolved, got %d", len(rows))
	}

	// Id allocation continues past everything seen during recovery.
	l, err := m.CreateListing("dave", dirt(1), d(1), "")
	if err != nil {
		t.Fatalf("create after recovery: %v", err)
	}
	if l.ID != 3 {
		t.Errorf("expected next listing id 3, got %d", l.ID)
	}
}

func TestRestoreListing_Idempotent(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	l := model.Listing{ID: 7, Seller: "alice", ItemID: 1, Amount: 1, Price: d(10), Time: 1000}
	m.RestoreListing(l)
	m.RestoreListing(l)

	if n := m.OwnedCount("alice", ""); n != 1 {
		t.Errorf("double restore should keep one listing, got %d", n)
	}
}

func TestTotals_UnknownPlayer(t *testing.T) {
	m, _ := newTestMarket(t, market.Options{})

	totals, err := m.Totals(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unknown player should not error: %v", err)
	}
	if !totals.Earned.IsZero() || !totals.Spent.IsZero() {
		t.Errorf("expected zero totals, got %+v", totals)
	}
}
