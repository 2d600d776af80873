// Package guest persists the local "try it out" identity. The record lives in
// the kv layer under a single key and survives until the user explicitly leaves
// guest mode; no TTL applies.
package guest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"aduanet.org/internal/ids"
	"aduanet.org/internal/kv"
	"aduanet.org/internal/obs"
)

// Key under which the guest record is persisted.
const Key = "guest_user"

const emailDomain = "guest.aduanet.local"

// Record is the persisted guest identity.
type Record struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	IsGuest bool   `json:"isGuest"`
}

// Store reads and writes the guest record.
type Store struct {
	kv kv.Store
}

// NewStore wraps a kv backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// Load returns the guest record, or nil when absent. A record that does not
// deserialize, or misses the id, email or guest marker, is deleted on sight and
// reported as absent.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	raw, err := s.kv.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("guest: load record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.heal(ctx, "unmarshal failed")
		return nil, nil
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.Email) == "" || !rec.IsGuest {
		s.heal(ctx, "missing required fields")
		return nil, nil
	}
	return &rec, nil
}

// Create persists a fresh guest record with a synthetic email and returns it.
func (s *Store) Create(ctx context.Context) (*Record, error) {
	id := ids.New()
	rec := Record{
		ID:      id,
		Email:   strings.ToLower(id) + "@" + emailDomain,
		IsGuest: true,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("guest: marshal record: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return nil, fmt.Errorf("guest: persist record: %w", err)
	}
	return &rec, nil
}

// Clear removes the guest record. Only explicit user action ends guest mode.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("guest: clear record: %w", err)
	}
	return nil
}

func (s *Store) heal(ctx context.Context, reason string) {
	if err := s.kv.Delete(ctx, Key); err != nil {
		obs.Log("warn", "guest_record_heal_failed", map[string]any{"error": err.Error()})
		return
	}
	obs.Log("info", "guest_record_healed", map[string]any{"reason": reason})
}
