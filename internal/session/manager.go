package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/shipsite/shipsite-go/internal/credstore"
	"github.com/shipsite/shipsite-go/internal/idp"
)

// freshnessSkew is how long before expiry a token is treated as stale.
// Refreshing slightly early avoids races where a token expires mid-flight.
const freshnessSkew = time.Minute

// refreshKey is the singleflight key shared by EnsureFresh and Refresh so
// one staleness event produces exactly one provider call regardless of how
// many callers notice it. Some providers invalidate a refresh token when a
// concurrent refresh uses it, so duplicates are not just wasteful.
const refreshKey = "refresh"

// Provider is the slice of the identity-provider client the manager needs.
// Defined at the consumer so tests can substitute fakes.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (*idp.Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (*idp.Credentials, error)
	Profile(ctx context.Context, idToken string) (*idp.Profile, error)
}

// Manager is the session state machine. All credential reads and writes go
// through its mutex; refreshes are single-flighted.
type Manager struct {
	provider Provider
	store    credstore.Store
	logger   *slog.Logger

	mu    sync.Mutex
	sess  Session
	state State

	group singleflight.Group
}

// NewManager creates a Manager in the LoggedOut state.
func NewManager(provider Provider, store credstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

// Current returns a snapshot of the session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sess
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Token returns the current identity token after ensuring it is fresh.
// This is the TokenSource used by the invoker and the upload engine.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sess.IDToken, nil
}

// Login exchanges credentials with the identity provider, installs the new
// session, loads the creator profile, and persists the record when
// staySignedIn is set. The password exchange is never retried — a wrong
// password must not trigger backoff loops.
func (m *Manager) Login(ctx context.Context, email, password string, staySignedIn bool) error {
	m.setState(LoggingIn)

	creds, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.setState(LoggedOut)
		return fmt.Errorf("session: login: %w", err)
	}

	m.mu.Lock()
	m.sess = Session{
		IDToken:      creds.IDToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		Email:        creds.Email,
		CreatorID:    creds.SubjectID,
		StaySignedIn: staySignedIn,
	}
	m.state = LoggedIn
	m.mu.Unlock()

	if err := m.reloadProfile(ctx); err != nil {
		// A session without a profile cannot deploy (no creator id from
		// the provider's perspective), so login fails whole.
		m.clear(ctx, false)
		return fmt.Errorf("session: loading profile after login: %w", err)
	}

	if staySignedIn {
		if err := m.persist(ctx); err != nil {
			m.logger.Warn("failed to persist session", slog.String("error", err.Error()))
		}
	}

	m.logger.Info("logged in",
		slog.String("email", email),
		slog.Bool("persisted", staySignedIn),
	)

	return nil
}

// TryResume restores a persisted session. It validates the saved identity
// token against the profile endpoint; when validation fails with an auth
// rejection it attempts exactly one refresh-then-revalidate before giving
// up and clearing the session. Never returns an error.
func (m *Manager) TryResume(ctx context.Context) bool {
	rec, err := credstore.LoadRecord(ctx, m.store)
	if err != nil {
		m.logger.Warn("resume: reading persisted session", slog.String("error", err.Error()))
		return false
	}

	if rec == nil || !rec.StaySignedIn || rec.Token == nil || rec.Token.AccessToken == "" {
		return false
	}

	m.mu.Lock()
	m.sess = sessionFromRecord(rec)
	m.state = LoggingIn
	m.mu.Unlock()

	if m.validateAndLoad(ctx) {
		m.setState(LoggedIn)
		m.logger.Info("session resumed", slog.String("handle", m.Current().Handle))

		return true
	}

	return false
}

// validateAndLoad checks the current identity token against the profile
// endpoint. On auth rejection it refreshes once and revalidates. On
// transient network failure it resets the in-memory state but keeps the
// persisted record so a later resume can succeed.
func (m *Manager) validateAndLoad(ctx context.Context) bool {
	err := m.reloadProfile(ctx)
	if err == nil {
		return true
	}

	if !errors.Is(err, idp.ErrUnauthorized) {
		m.logger.Warn("resume: profile validation failed", slog.String("error", err.Error()))
		m.resetMemory()

		return false
	}

	if refreshErr := m.Refresh(ctx); refreshErr != nil {
		// Refresh already cleared the session on rejection.
		m.resetMemory()
		return false
	}

	if retryErr := m.reloadProfile(ctx); retryErr != nil {
		m.logger.Warn("resume: revalidation after refresh failed",
			slog.String("error", retryErr.Error()),
		)
		m.clear(ctx, true)

		return false
	}

	return true
}

// EnsureFresh guarantees the in-memory identity token is currently valid
// or provably refreshed. Concurrent callers observing the same staleness
// share one refresh call and one outcome.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	if !m.sess.Active() {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}

	if m.freshLocked() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do(refreshKey, func() (any, error) {
		// A flight that queued behind a completed refresh finds the
		// token already fresh and does nothing.
		m.mu.Lock()
		fresh := m.freshLocked()
		m.mu.Unlock()

		if fresh {
			return nil, nil
		}

		return nil, m.doRefresh(ctx)
	})

	return err
}

// Refresh forces a refresh-token exchange, sharing the in-progress flight
// with any concurrent EnsureFresh callers. On provider rejection the whole
// session is cleared; on transient failure the prior credential is left
// untouched so the caller can retry later.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do(refreshKey, func() (any, error) {
		return nil, m.doRefresh(ctx)
	})

	return err
}

// doRefresh performs the actual exchange. Callers must route through the
// singleflight group.
func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.sess.RefreshToken
	if refreshToken == "" {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}

	prevState := m.state
	m.state = Refreshing
	m.mu.Unlock()

	creds, err := m.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, idp.ErrRefreshRejected) {
			m.logger.Warn("refresh token rejected, clearing session")
			m.clear(ctx, true)

			return fmt.Errorf("%w: %v", ErrExpired, err)
		}

		// Transient failure: prior credential stays usable for retry.
		m.setState(prevState)

		return fmt.Errorf("session: refresh: %w", err)
	}

	m.mu.Lock()
	m.sess.IDToken = creds.IDToken
	m.sess.RefreshToken = creds.RefreshToken
	m.sess.Expiry = creds.Expiry
	m.state = LoggedIn
	persistNeeded := m.sess.StaySignedIn
	m.mu.Unlock()

	if persistNeeded {
		if persistErr := m.persist(ctx); persistErr != nil {
			m.logger.Warn("failed to persist refreshed session",
				slog.String("error", persistErr.Error()),
			)
		}
	}

	m.logger.Info("identity token refreshed", slog.Time("expiry", creds.Expiry))

	return nil
}

// Logout clears the in-memory and persisted credential. It never fails:
// logout is always locally effective even when the store write does not
// go through.
func (m *Manager) Logout(ctx context.Context) {
	m.clear(ctx, true)
	m.logger.Info("logged out")
}

// reloadProfile fetches the profile for the current token and installs the
// display attributes.
func (m *Manager) reloadProfile(ctx context.Context) error {
	m.mu.Lock()
	idToken := m.sess.IDToken
	m.mu.Unlock()

	profile, err := m.provider.Profile(ctx, idToken)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sess.Email = profile.Email
	m.sess.DisplayName = profile.DisplayName
	m.sess.Handle = profile.Handle
	if profile.CreatorID != "" {
		m.sess.CreatorID = profile.CreatorID
	}
	m.sess.PayoutEmail = profile.PayoutEmail
	m.mu.Unlock()

	return nil
}

// persist writes the current session to the credential store.
func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	rec := recordFromSession(m.sess)
	m.mu.Unlock()

	return credstore.SaveRecord(ctx, m.store, rec)
}

// clear wipes the in-memory session and, when wipeStore is set, the
// persisted record. Store failures are logged, never propagated.
func (m *Manager) clear(ctx context.Context, wipeStore bool) {
	m.resetMemory()

	if !wipeStore {
		return
	}

	if err := credstore.DeleteRecord(ctx, m.store); err != nil {
		m.logger.Warn("failed to clear persisted session", slog.String("error", err.Error()))
	}
}

func (m *Manager) resetMemory() {
	m.mu.Lock()
	m.sess = Session{}
	m.state = LoggedOut
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// freshLocked reports token validity. A zero expiry reads as stale so
// migrated or partial records refresh before first use. Callers hold mu.
func (m *Manager) freshLocked() bool {
	return !m.sess.Expiry.IsZero() && time.Until(m.sess.Expiry) > freshnessSkew
}

func sessionFromRecord(rec *credstore.Record) Session {
	return Session{
		IDToken:      rec.Token.AccessToken,
		RefreshToken: rec.Token.RefreshToken,
		Expiry:       rec.Token.Expiry,
		Email:        rec.Meta[metaEmail],
		DisplayName:  rec.Meta[metaDisplayName],
		Handle:       rec.Meta[metaHandle],
		CreatorID:    rec.Meta[metaCreatorID],
		PayoutEmail:  rec.Meta[metaPayoutEmail],
		StaySignedIn: true,
	}
}

func recordFromSession(s Session) *credstore.Record {
	return &credstore.Record{
		Token: &oauth2.Token{
			AccessToken:  s.IDToken,
			RefreshToken: s.RefreshToken,
			Expiry:       s.Expiry,
		},
		Meta: map[string]string{
			metaEmail:       s.Email,
			metaDisplayName: s.DisplayName,
			metaHandle:      s.Handle,
			metaCreatorID:   s.CreatorID,
			metaPayoutEmail: s.PayoutEmail,
		},
		StaySignedIn: s.StaySignedIn,
	}
}
