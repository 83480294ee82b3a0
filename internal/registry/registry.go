// Package registry deduplicates item payloads into a compact
// integer-keyed table. Two items that compare equal after
// canonicalization (amount forced to 1) share one id; the registry never
// stores duplicates. Ids are allocated monotonically and never reused
// for a different payload; orphaned items are kept, since an equality
// lookup will find them again.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/DrkMatr1984/GlobalMarket/internal/model"
	"github.com/DrkMatr1984/GlobalMarket/internal/store"
)

// Syncer schedules asynchronous backing-store writes for item rows.
// A nil Syncer disables persistence (tests).
type Syncer interface {
	InsertItemAsync(id int, data string)
}

// Registry is the canonical item table.
type Registry struct {
	mu    sync.Mutex
	byID  map[int]model.Item
	byKey map[string]int // canonical encoding -> id
	next  int
	async Syncer
}

// New creates an empty registry.
func New(async Syncer) *Registry {
	return &Registry{
		byID:  make(map[int]model.Item),
		byKey: make(map[string]int),
		next:  1,
		async: async,
	}
}

// EncodeItem renders an item in its canonical serialized form. JSON with
// sorted map keys, so equal items always encode identically.
func EncodeItem(it model.Item) string {
	data, _ := json.Marshal(it.Canonical())
	return string(data)
}

// DecodeItem parses a serialized item payload.
func DecodeItem(data string) (model.Item, error) {
	var it model.Item
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return model.Item{}, fmt.Errorf("decode item: %w", err)
	}
	return it, nil
}

// controlChars matches control characters that corrupt stored payloads,
// excluding \r \n \t which are legitimate in lore text.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Sanitize strips invalid control characters from a stored payload.
func Sanitize(data string) string {
	return controlChars.ReplaceAllString(data, "")
}

// Intern returns the id of the canonical form of it, allocating and
// asynchronously persisting a new row when no equal item is stored.
func (r *Registry) Intern(it model.Item) int {
	key := EncodeItem(it)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		return id
	}
	id := r.next
	r.next++
	r.byID[id] = it.Canonical()
	r.byKey[key] = id
	if r.async != nil {
		r.async.InsertItemAsync(id, key)
	}
	return id
}

// Resolve returns a copy of the canonical item with the requested stack
// amount. An unknown id is logged and reported as store.ErrNotFound;
// callers treat it as "item stock is gone" and degrade.
func (r *Registry) Resolve(id, amount int) (model.Item, error) {
	r.mu.Lock()
	it, ok := r.byID[id]
	r.mu.Unlock()

	if !ok {
		slog.Error("unknown item id", "item", id)
		return model.Item{}, fmt.Errorf("item %d: %w", id, store.ErrNotFound)
	}
	return it.WithAmount(amount), nil
}

// Len returns the number of interned items.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Load caches the referenced item rows from the backing store and syncs
// the id counter. Payloads that fail to parse are sanitized, re-parsed,
// and the corrected text written back; a payload that still fails is a
// fatal load error.
func (r *Registry) Load(ctx context.Context, st store.Store, ids []int) error {
	rows, err := st.LoadItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		it, err := DecodeItem(row.Data)
		if err != nil {
			slog.Info("item payload has invalid characters", "item", row.ID)
			san := Sanitize(row.Data)
			it, err = DecodeItem(san)
			if err != nil {
				return fmt.Errorf("item %d unrecoverable after sanitizing: %w", row.ID, err)
			}
			if err := st.UpdateItem(ctx, row.ID, EncodeItem(it)); err != nil {
				slog.Error("item sanitize write-back failed", "item", row.ID, "err", err)
			}
		}
		r.byID[row.ID] = it.Canonical()
		r.byKey[EncodeItem(it)] = row.ID
	}

	max, err := st.MaxItemID(ctx)
	if err != nil {
		return fmt.Errorf("item index: %w", err)
	}
	if max >= r.next {
		r.next = max + 1
	}
	return nil
}
