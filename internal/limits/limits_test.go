package limits_test

import (
	"errors"
	"testing"

	"github.com/DrkMatr1984/GlobalMarket/internal/limits"
)

func TestCheck_WithinLimits(t *testing.T) {
	l := limits.NewListingLimiter(5, 100)

	if err := l.Check(0, 0); err != nil {
		t.Errorf("empty market should pass, got %v", err)
	}
	if err := l.Check(4, 99); err != nil {
		t.Errorf("one below both caps should pass, got %v", err)
	}
}

func TestCheck_SellerLimit(t *testing.T) {
	l := limits.NewListingLimiter(3, 0)

	if err := l.Check(2, 500); err != nil {
		t.Errorf("expected pass at 2 of 3, got %v", err)
	}
	err := l.Check(3, 0)
	if !errors.Is(err, limits.ErrSellerLimitExceeded) {
		t.Errorf("expected ErrSellerLimitExceeded, got %v", err)
	}
}

func TestCheck_RegionLimit(t *testing.T) {
	l := limits.NewListingLimiter(0, 10)

	if err := l.Check(999, 9); err != nil {
		t.Errorf("seller cap disabled, expected pass, got %v", err)
	}
	err := l.Check(0, 10)
	if !errors.Is(err, limits.ErrRegionLimitExceeded) {
		t.Errorf("expected ErrRegionLimitExceeded, got %v", err)
	}
}

func TestCheck_ZeroDisablesBoth(t *testing.T) {
	l := limits.NewListingLimiter(0, 0)

	if err := l.Check(10000, 10000); err != nil {
		t.Errorf("disabled limiter should always pass, got %v", err)
	}
}
