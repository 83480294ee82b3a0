package market

import (
	"strconv"
	"strings"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
)

// Search predicates. All are pure functions over a listing and a
// lowercased query string; any single positive match qualifies the
// listing, and evaluation order carries no significance.

// matchesListing reports whether query matches the listing by resolved
// item name, numeric type id, display name, enchantment name, lore text,
// or exact listing id. query must already be lowercased.
func matchesListing(l model.Listing, it model.Item, itemName, query string) bool {
	return strings.Contains(strings.ToLower(itemName), query) ||
		isTypeID(query, it.TypeID) ||
		inDisplayName(query, it) ||
		inEnchants(query, it) ||
		inLore(query, it) ||
		query == model.FormatID(l.ID)
}

func isTypeID(query string, typeID int) bool {
	return query == strconv.Itoa(typeID)
}

func inDisplayName(query string, it model.Item) bool {
	if it.Name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(it.Name), query)
}

func inEnchants(query string, it model.Item) bool {
	for name := range it.Enchants {
		if strings.Contains(strings.ToLower(name), query) {
			return true
		}
	}
	return false
}

func inLore(query string, it model.Item) bool {
	for _, line := range it.Lore {
		if strings.Contains(strings.ToLower(line), query) {
			return true
		}
	}
	return false
}
