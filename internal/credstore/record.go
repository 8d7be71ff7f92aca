package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Record is the persisted session: the OAuth token pair plus profile
// attributes cached from the identity provider (email, display name,
// creator handle, payout email). Meta keys are owned by the session
// package; this package treats them as opaque.
type Record struct {
	Token        *oauth2.Token     `json:"token"`
	Meta         map[string]string `json:"meta,omitempty"`
	StaySignedIn bool              `json:"stay_signed_in"`
}

// LoadRecord reads the current session record. Returns (nil, nil) when no
// record is stored.
func LoadRecord(ctx context.Context, s Store) (*Record, error) {
	raw, err := s.Get(ctx, KeySession)
	if errors.Is(err, ErrNotFound) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("credstore: decoding session record: %w", err)
	}

	if rec.Token == nil {
		return nil, fmt.Errorf("credstore: session record missing token (re-login required)")
	}

	return &rec, nil
}

// SaveRecord writes the session record. Never logs token values.
func SaveRecord(ctx context.Context, s Store, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("credstore: encoding session record: %w", err)
	}

	if err := s.Set(ctx, KeySession, string(data)); err != nil {
		return fmt.Errorf("credstore: writing session record: %w", err)
	}

	return nil
}

// DeleteRecord removes the session record. Deleting an absent record is
// not an error — logout must always be locally effective.
func DeleteRecord(ctx context.Context, s Store) error {
	if err := s.Delete(ctx, KeySession); err != nil {
		return fmt.Errorf("credstore: deleting session record: %w", err)
	}

	return nil
}
