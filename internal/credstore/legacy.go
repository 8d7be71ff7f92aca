package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// Legacy key shapes from earlier releases. v0 stored flat unprefixed keys;
// v1 prefixed the same fields with "auth.". Both are folded into the single
// JSON session record exactly once, then removed, so steady-state code only
// ever reads KeySession.
var legacyPrefixes = []string{"auth.", ""}

const (
	legacyKeyIDToken      = "idToken"
	legacyKeyRefreshToken = "refreshToken"
	legacyKeyEmail        = "userEmail"
	legacyKeyHandle       = "userNick"
	legacyKeyPayout       = "payPalEmail"
	legacyKeyStay         = "stayLoggedIn"
)

// migrateLegacyKeys runs the one-time versioned credential migration.
// It is a no-op when the schema version key is already current or when a
// session record already exists (never overwrite a modern record with a
// stale legacy one).
func migrateLegacyKeys(ctx context.Context, s Store, logger *slog.Logger) error {
	current, err := s.Has(ctx, KeySchemaVersion)
	if err != nil {
		return fmt.Errorf("credstore: checking schema version: %w", err)
	}

	if current {
		return nil
	}

	hasModern, err := s.Has(ctx, KeySession)
	if err != nil {
		return fmt.Errorf("credstore: checking session record: %w", err)
	}

	if !hasModern {
		if err := foldLegacyRecord(ctx, s, logger); err != nil {
			return err
		}
	}

	if err := deleteLegacyKeys(ctx, s); err != nil {
		return err
	}

	if err := s.Set(ctx, KeySchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("credstore: recording schema version: %w", err)
	}

	return nil
}

// foldLegacyRecord builds a session record from whichever legacy shape is
// present, newest prefix first. A legacy record without an id token is
// ignored — there is nothing worth resuming.
func foldLegacyRecord(ctx context.Context, s Store, logger *slog.Logger) error {
	for _, prefix := range legacyPrefixes {
		idToken, err := getOrEmpty(ctx, s, prefix+legacyKeyIDToken)
		if err != nil {
			return err
		}

		if idToken == "" {
			continue
		}

		refreshToken, err := getOrEmpty(ctx, s, prefix+legacyKeyRefreshToken)
		if err != nil {
			return err
		}

		meta := map[string]string{}

		for metaKey, legacyKey := range map[string]string{
			"email":        prefix + legacyKeyEmail,
			"handle":       prefix + legacyKeyHandle,
			"payout_email": prefix + legacyKeyPayout,
		} {
			v, getErr := getOrEmpty(ctx, s, legacyKey)
			if getErr != nil {
				return getErr
			}

			if v != "" {
				meta[metaKey] = v
			}
		}

		stay, err := getOrEmpty(ctx, s, prefix+legacyKeyStay)
		if err != nil {
			return err
		}

		rec := &Record{
			// No expiry was stored; a zero expiry reads as stale, so the
			// first use refreshes before trusting the token.
			Token:        &oauth2.Token{AccessToken: idToken, RefreshToken: refreshToken},
			Meta:         meta,
			StaySignedIn: stay == "true" || stay == "1",
		}

		if err := SaveRecord(ctx, s, rec); err != nil {
			return err
		}

		logger.Info("migrated legacy credentials",
			slog.String("shape", shapeName(prefix)),
		)

		return nil
	}

	return nil
}

// deleteLegacyKeys removes every legacy key in every known shape.
func deleteLegacyKeys(ctx context.Context, s Store) error {
	for _, prefix := range legacyPrefixes {
		for _, key := range []string{
			legacyKeyIDToken, legacyKeyRefreshToken, legacyKeyEmail,
			legacyKeyHandle, legacyKeyPayout, legacyKeyStay,
		} {
			if err := s.Delete(ctx, prefix+key); err != nil {
				return fmt.Errorf("credstore: removing legacy key: %w", err)
			}
		}
	}

	return nil
}

// getOrEmpty reads a key, mapping ErrNotFound to "".
func getOrEmpty(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("credstore: reading legacy key %s: %w", key, err)
	}

	return v, nil
}

func shapeName(prefix string) string {
	if prefix == "" {
		return "v0-flat"
	}

	return "v1-prefixed"
}
