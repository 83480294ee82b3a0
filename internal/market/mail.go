package market

import (
	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// mailIndex holds the authoritative in-memory mail state: the by-id
// table, insertion order, and per-region lists. Mutated only under the
// facade's lock.
type mailIndex struct {
	byID    map[int]model.Mail
	order   []int
	regions map[string][]int
}

func newMailIndex() *mailIndex {
	return &mailIndex{
		byID:    make(map[int]model.Mail),
		regions: make(map[string][]int),
	}
}

func (ix *mailIndex) get(id int) (model.Mail, bool) {
	m, ok := ix.byID[id]
	return m, ok
}

func (ix *mailIndex) len() int { return len(ix.byID) }

func (ix *mailIndex) insert(m model.Mail) {
	ix.byID[m.ID] = m
	ix.order = append(ix.order, m.ID)
	ix.regions[m.Region] = append(ix.regions[m.Region], m.ID)
}

func (ix *mailIndex) remove(id int) (model.Mail, bool) {
	m, ok := ix.byID[id]
	if !ok {
		return model.Mail{}, false
	}
	delete(ix.byID, id)
	ix.order = removeID(ix.order, id)
	ix.regions[m.Region] = removeID(ix.regions[m.Region], id)
	return m, true
}

func (ix *mailIndex) update(m model.Mail) {
	if _, ok := ix.byID[m.ID]; ok {
		ix.byID[m.ID] = m
	}
}

// owned returns owner's mail drawn from the given view, newest first.
// With multi-region enabled the view is the region's list (plus linked
// regions); otherwise it is everything.
func (ix *mailIndex) owned(owner, region string, multiRegion bool, linker RegionLinker) []model.Mail {
	var ids []int
	if multiRegion {
		ids = append(ids, ix.regions[region]...)
		for _, linked := range linkedRegions(ix.regions, region, linker) {
			ids = append(ids, ix.regions[linked]...)
		}
	} else {
		ids = ix.order
	}

	var out []model.Mail
	for i := len(ids) - 1; i >= 0; i-- {
		if m, ok := ix.byID[ids[i]]; ok && m.Owner == owner {
			out = append(out, m)
		}
	}
	return out
}
