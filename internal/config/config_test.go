package config_test

import (
	"testing"

	"github.com/DrkMatr1984/GlobalMarket/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.MarketCut.String() != "0.05" {
		t.Errorf("expected default cut 0.05, got %s", cfg.MarketCut)
	}
	if cfg.MultiRegion {
		t.Error("multi-region should default off")
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("expected default history limit 50, got %d", cfg.HistoryLimit)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MULTI_REGION", "true")
	t.Setenv("MARKET_CUT", "0.1")
	t.Setenv("REGION_LINKS", "spawn:mall, spawn:arena")
	t.Setenv("MAX_LISTINGS_PER_SELLER", "7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || !cfg.MultiRegion || cfg.MaxListingsPerSeller != 7 {
		t.Errorf("environment not applied: %+v", cfg)
	}
	if cfg.MarketCut.String() != "0.1" {
		t.Errorf("expected cut 0.1, got %s", cfg.MarketCut)
	}
	if !cfg.RegionLinks.IsLinked("spawn", "mall") {
		t.Error("spawn and mall should be linked")
	}
}

func TestLoad_RejectsBadCut(t *testing.T) {
	t.Setenv("MARKET_CUT", "1.5")
	if _, err := config.Load(); err == nil {
		t.Error("cut above 1 should be rejected")
	}
}

func TestLinks(t *testing.T) {
	var l config.Links
	if err := l.UnmarshalText([]byte("spawn:mall,arena:spawn")); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !l.IsLinked("spawn", "mall") || !l.IsLinked("mall", "spawn") {
		t.Error("links should be symmetric")
	}
	if !l.IsLinked("spawn", "arena") {
		t.Error("arena:spawn pair should link both ways")
	}
	if l.IsLinked("mall", "arena") {
		t.Error("links are pairwise, not transitive")
	}
	if l.IsLinked("spawn", "spawn") {
		t.Error("a region is never linked to itself")
	}
	if l.IsLinked("x", "y") {
		t.Error("unknown regions should not link")
	}
}

func TestLinks_Empty(t *testing.T) {
	var l config.Links
	if err := l.UnmarshalText(nil); err != nil {
		t.Fatalf("empty value should parse: %v", err)
	}
	if l.IsLinked("a", "b") {
		t.Error("empty links should link nothing")
	}

	var zero config.Links
	if zero.IsLinked("a", "b") {
		t.Error("zero value should link nothing")
	}
}

func TestLinks_Malformed(t *testing.T) {
	var l config.Links
	if err := l.UnmarshalText([]byte("spawn")); err == nil {
		t.Error("pair without colon should be rejected")
	}
	if err := l.UnmarshalText([]byte("spawn:")); err == nil {
		t.Error("empty side should be rejected")
	}
}
