package market

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// listingGroup is one condensed-view entry: an ordered list of
// interchangeable listing ids sharing (item, price, region). members[0]
// is the visible head; the rest are held off-view until the head is
// removed.
type listingGroup struct {
	itemID  int
	price   decimal.Decimal
	region  string
	members []int
}

func newListingGroup(l model.Listing) *listingGroup {
	return &listingGroup{
		itemID:  l.ItemID,
		price:   l.Price,
		region:  l.Region,
		members: []int{l.ID},
	}
}

func (g *listingGroup) matches(l model.Listing) bool {
	return g.itemID == l.ItemID && g.region == l.Region && g.price.Equal(l.Price)
}

func (g *listingGroup) memberIndex(id int) int {
	for i, m := range g.members {
		if m == id {
			return i
		}
	}
	return -1
}

// listingIndex holds the authoritative in-memory listing state: the
// by-id table, insertion order, per-region lists (most recent first),
// and the condensed view. Every listing belongs to exactly one group.
// Mutated only under the facade's lock.
type listingIndex struct {
	byID      map[int]model.Listing
	order     []int
	regions   map[string][]int
	condensed []*listingGroup
}

func newListingIndex() *listingIndex {
	return &listingIndex{
		byID:    make(map[int]model.Listing),
		regions: make(map[string][]int),
	}
}

func (ix *listingIndex) get(id int) (model.Listing, bool) {
	l, ok := ix.byID[id]
	return l, ok
}

func (ix *listingIndex) len() int { return len(ix.byID) }

// insert adds a listing to every index. Reports whether the listing
// became a new condensed-view head (as opposed to joining an existing
// group off-view).
func (ix *listingIndex) insert(l model.Listing) bool {
	ix.byID[l.ID] = l
	ix.order = append(ix.order, l.ID)
	ix.regions[l.Region] = append([]int{l.ID}, ix.regions[l.Region]...)

	for _, g := range ix.condensed {
		if g.matches(l) {
			g.members = append(g.members, l.ID)
			return false
		}
	}
	ix.condensed = append([]*listingGroup{newListingGroup(l)}, ix.condensed...)
	return true
}

// remove deletes a listing from every index, repairing the condensed
// view. Removing a head with siblings promotes the most-recently
// attached sibling in place, preserving display position; removing the
// last member drops the group.
func (ix *listingIndex) remove(id int) (model.Listing, bool) {
	l, ok := ix.byID[id]
	if !ok {
		return model.Listing{}, false
	}
	delete(ix.byID, id)
	ix.order = removeID(ix.order, id)
	ix.regions[l.Region] = removeID(ix.regions[l.Region], id)

	for gi, g := range ix.condensed {
		pos := g.memberIndex(id)
		if pos < 0 {
			continue
		}
		switch {
		case len(g.members) == 1:
			ix.condensed = append(ix.condensed[:gi], ix.condensed[gi+1:]...)
		case pos == 0:
			last := len(g.members) - 1
			promoted := g.members[last]
			rest := append([]int(nil), g.members[1:last]...)
			g.members = append([]int{promoted}, rest...)
		default:
			g.members = append(g.members[:pos], g.members[pos+1:]...)
		}
		break
	}
	return l, true
}

func removeID(ids []int, id int) []int {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// heads returns the condensed view in display order.
func (ix *listingIndex) heads() []model.Listing {
	out := make([]model.Listing, 0, len(ix.condensed))
	for _, g := range ix.condensed {
		if l, ok := ix.byID[g.members[0]]; ok {
			out = append(out, l)
		}
	}
	return out
}

// groupSize returns the number of listings reachable through the group
// containing id: head plus all held-back members.
func (ix *listingIndex) groupSize(id int) int {
	for _, g := range ix.condensed {
		if g.memberIndex(id) >= 0 {
			return len(g.members)
		}
	}
	return 0
}

// all returns every listing in insertion order.
func (ix *listingIndex) all() []model.Listing {
	out := make([]model.Listing, 0, len(ix.order))
	for _, id := range ix.order {
		out = append(out, ix.byID[id])
	}
	return out
}

// region returns the raw listings registered under region plus any
// region linked to it, most recent first.
func (ix *listingIndex) region(region string, linker RegionLinker) []model.Listing {
	out := make([]model.Listing, 0, len(ix.regions[region]))
	for _, id := range ix.regions[region] {
		out = append(out, ix.byID[id])
	}
	for _, linked := range linkedRegions(ix.regions, region, linker) {
		for _, id := range ix.regions[linked] {
			out = append(out, ix.byID[id])
		}
	}
	return out
}

func (ix *listingIndex) regionCount(region string, linker RegionLinker) int {
	n := len(ix.regions[region])
	for _, linked := range linkedRegions(ix.regions, region, linker) {
		n += len(ix.regions[linked])
	}
	return n
}

// linkedRegions returns the known regions linked to region, in stable
// order.
func linkedRegions(regions map[string][]int, region string, linker RegionLinker) []string {
	if linker == nil {
		return nil
	}
	var out []string
	for r := range regions {
		if r != region && linker.IsLinked(region, r) {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// rebuild reconstructs the condensed view from scratch: sort by grouping
// key then recency, merge adjacent stackables, then order groups most
// recent first. Produces the same steady-state structure as incremental
// updates; used once at load time.
func (ix *listingIndex) rebuild() {
	all := ix.all()
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c < 0
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.ID < b.ID // earliest member becomes the head
	})

	ix.condensed = nil
	var current *listingGroup
	for _, l := range all {
		if current != nil && current.matches(l) {
			current.members = append(current.members, l.ID)
			continue
		}
		current = newListingGroup(l)
		ix.condensed = append(ix.condensed, current)
	}
	sort.SliceStable(ix.condensed, func(i, j int) bool {
		return ix.condensed[i].members[0] > ix.condensed[j].members[0]
	})
}

// sortListings orders a listing page copy by the requested method.
// SortDefault keeps the view's own order.
func sortListings(list []model.Listing, method model.Sort) {
	switch method {
	case model.SortPriceLowest:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Price.LessThan(list[j].Price)
		})
	case model.SortPriceHighest:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Price.GreaterThan(list[j].Price)
		})
	case model.SortAmountHighest:
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Amount > list[j].Amount
		})
	}
}
