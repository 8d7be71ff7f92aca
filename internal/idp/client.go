package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const userAgent = "shipsite/0.1"

// Config names the provider endpoints. AuthURL hosts the password sign-in
// call, TokenURL the refresh-token grant, APIURL the profile endpoint.
type Config struct {
	AuthURL  string
	TokenURL string
	APIURL   string
	APIKey   string
}

// Client talks to the identity provider. It never retries — a wrong
// password must not trigger backoff loops; retry policy for transient
// failures belongs to the callers that can classify them.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an identity-provider client.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// Credentials is the token pair returned by sign-in and refresh.
type Credentials struct {
	IDToken      string
	RefreshToken string
	Expiry       time.Time
	SubjectID    string
	Email        string
}

// Profile is the creator profile attached to an identity token.
type Profile struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
	CreatorID   string `json:"creator_id"`
	PayoutEmail string `json:"payout_email"`
}

// signInRequest/signInResponse mirror the provider's password sign-in wire shape.
type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
}

type providerErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn exchanges an email and password for a token pair. Provider
// rejections are mapped to sentinel errors; the exchange is never retried.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Credentials, error) {
	c.logger.Info("signing in", slog.String("email", email))

	body, err := json.Marshal(signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, fmt.Errorf("idp: encoding sign-in request: %w", err)
	}

	endpoint := c.cfg.AuthURL + "/v1/accounts:signInWithPassword?key=" + url.QueryEscape(c.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("idp: creating sign-in request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sign-in request: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.signInError(resp)
	}

	var sr signInResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&sr); decErr != nil {
		return nil, fmt.Errorf("idp: decoding sign-in response: %w", decErr)
	}

	creds := &Credentials{
		IDToken:      sr.IDToken,
		RefreshToken: sr.RefreshToken,
		Expiry:       expiryFrom(sr.ExpiresIn),
		SubjectID:    sr.LocalID,
		Email:        sr.Email,
	}

	c.logger.Info("sign-in successful",
		slog.String("subject", creds.SubjectID),
		slog.Time("expiry", creds.Expiry),
	)

	return creds, nil
}

// signInError reads the provider error body and maps its code.
func (c *Client) signInError(resp *http.Response) error {
	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		raw = []byte("(failed to read response body)")
	}

	var per providerErrorResponse
	_ = json.Unmarshal(raw, &per) //nolint:errcheck // fall through with empty code

	sentinel := mapSignInCode(per.Error.Message)

	c.logger.Warn("sign-in rejected",
		slog.Int("status", resp.StatusCode),
		slog.String("code", per.Error.Message),
	)

	return &ProviderError{
		StatusCode: resp.StatusCode,
		Code:       per.Error.Message,
		Message:    string(raw),
		Err:        sentinel,
	}
}

// Refresh exchanges a refresh token for a new token pair using the
// standard OAuth2 refresh-token grant against the provider's token
// endpoint. A 4xx from the token endpoint means the refresh token itself
// was rejected; anything transport-level is a network failure and the
// caller may retry later with the same token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	c.logger.Info("refreshing identity token")

	cfg := &oauth2.Config{
		ClientID: c.cfg.APIKey,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.cfg.TokenURL + "/v1/token?key=" + url.QueryEscape(c.cfg.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			c.logger.Warn("refresh rejected by provider",
				slog.Int("status", rErr.Response.StatusCode),
			)

			return nil, &ProviderError{
				StatusCode: rErr.Response.StatusCode,
				Code:       rErr.ErrorCode,
				Message:    string(rErr.Body),
				Err:        ErrRefreshRejected,
			}
		}

		return nil, fmt.Errorf("%w: token refresh: %v", ErrNetwork, err)
	}

	// Providers may rotate the refresh token; fall back to the old one
	// when the response omits it.
	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	c.logger.Info("refresh successful", slog.Time("expiry", tok.Expiry))

	return &Credentials{
		IDToken:      tok.AccessToken,
		RefreshToken: newRefresh,
		Expiry:       tok.Expiry,
	}, nil
}

// Profile fetches the creator profile for an identity token.
// 401/403 map to ErrUnauthorized so resume logic can refresh and retry.
func (c *Client) Profile(ctx context.Context, idToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/profile", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("idp: creating profile request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+idToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile request: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		raw, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    string(raw),
			Err:        ErrUnauthorized,
		}
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return nil, &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    string(raw),
		}
	}

	var p Profile
	if decErr := json.NewDecoder(resp.Body).Decode(&p); decErr != nil {
		return nil, fmt.Errorf("idp: decoding profile response: %w", decErr)
	}

	return &p, nil
}

// expiryFrom converts the provider's expires-in seconds string to an
// absolute time. An unparsable value yields a zero time, which reads as
// already stale and forces a refresh before first use.
func expiryFrom(expiresIn string) time.Time {
	var seconds int64
	if _, err := fmt.Sscanf(expiresIn, "%d", &seconds); err != nil || seconds <= 0 {
		return time.Time{}
	}

	return time.Now().Add(time.Duration(seconds) * time.Second)
}
