// Package limits enforces open-listing limits: a per-seller cap on
// concurrently listed items and an aggregate cap per region. Either cap
// set to zero is disabled.
package limits

import (
	"errors"
)

var (
	// ErrSellerLimitExceeded is returned when a create would push a
	// seller past their open-listing maximum.
	ErrSellerLimitExceeded = errors.New("limits: per-seller listing limit exceeded")

	// ErrRegionLimitExceeded is returned when a create would push a
	// region past its aggregate listing maximum.
	ErrRegionLimitExceeded = errors.New("limits: per-region listing limit exceeded")
)

// ListingLimiter enforces open-listing limits at listing creation.
type ListingLimiter struct {
	// MaxPerSeller is the maximum number of listings one seller may have
	// open at once. Zero disables the check.
	MaxPerSeller int

	// MaxPerRegion is the maximum number of listings open in one region.
	// Zero disables the check.
	MaxPerRegion int
}

// NewListingLimiter creates a limiter with the given caps.
func NewListingLimiter(maxPerSeller, maxPerRegion int) *ListingLimiter {
	return &ListingLimiter{
		MaxPerSeller: maxPerSeller,
		MaxPerRegion: maxPerRegion,
	}
}

// Check validates whether one more listing respects the caps, given the
// seller's current open count and the region's current open count.
// Returns nil when within limits, or an error describing the violation.
func (l *ListingLimiter) Check(ownedBySeller, inRegion int) error {
	if l.MaxPerSeller > 0 && ownedBySeller+1 > l.MaxPerSeller {
		return ErrSellerLimitExceeded
	}
	if l.MaxPerRegion > 0 && inRegion+1 > l.MaxPerRegion {
		return ErrRegionLimitExceeded
	}
	return nil
}
