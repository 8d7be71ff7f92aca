package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a Client with all endpoints pointed at srv.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	return NewClient(Config{
		AuthURL:  srv.URL,
		TokenURL: srv.URL,
		APIURL:   srv.URL,
		APIKey:   "test-key",
	}, srv.Client(), nil)
}

func TestSignIn_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req signInRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice@example.com", req.Email)
		assert.True(t, req.ReturnSecureToken)

		json.NewEncoder(w).Encode(signInResponse{ //nolint:errcheck
			IDToken:      "id-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    "3600",
			LocalID:      "uid-alice",
			Email:        "alice@example.com",
		})
	}))
	defer srv.Close()

	creds, err := newTestClient(t, srv).SignIn(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "id-1", creds.IDToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
	assert.Equal(t, "uid-alice", creds.SubjectID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), creds.Expiry, 5*time.Second)
}

func TestSignIn_ErrorMapping(t *testing.T) {
	tests := []struct {
		code     string
		sentinel error
	}{
		{"EMAIL_NOT_FOUND", ErrInvalidCredentials},
		{"INVALID_PASSWORD", ErrInvalidCredentials},
		{"INVALID_LOGIN_CREDENTIALS", ErrInvalidCredentials},
		{"USER_DISABLED", ErrAccountDisabled},
		{"TOO_MANY_ATTEMPTS_TRY_LATER", ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, `{"error":{"code":400,"message":%q}}`, tt.code)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).SignIn(context.Background(), "a@b.c", "pw")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var pErr *ProviderError
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, tt.code, pErr.Code)
		})
	}
}

func TestSignIn_UnknownCodeHasNoSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"SOMETHING_NEW"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SignIn(context.Background(), "a@b.c", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrAccountDisabled)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestSignIn_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	client := newTestClient(t, srv)
	srv.Close()

	_, err := client.SignIn(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-id","refresh_token":"new-refresh",`+
			`"expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	creds, err := newTestClient(t, srv).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "new-id", creds.IDToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), creds.Expiry, 5*time.Second)
}

func TestRefresh_KeepsOldTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-id","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	creds, err := newTestClient(t, srv).Refresh(context.Background(), "keep-me")
	require.NoError(t, err)
	assert.Equal(t, "keep-me", creds.RefreshToken)
}

func TestRefresh_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"TOKEN_EXPIRED"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Refresh(context.Background(), "dead-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshRejected)
}

func TestRefresh_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	client := newTestClient(t, srv)
	srv.Close()

	_, err := client.Refresh(context.Background(), "any")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrRefreshRejected)
}

func TestProfile_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profile", r.URL.Path)
		assert.Equal(t, "Bearer id-1", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(Profile{ //nolint:errcheck
			Email:       "alice@example.com",
			DisplayName: "Alice",
			Handle:      "alice",
			CreatorID:   "uid-alice",
			PayoutEmail: "pay@example.com",
		})
	}))
	defer srv.Close()

	p, err := newTestClient(t, srv).Profile(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Handle)
	assert.Equal(t, "pay@example.com", p.PayoutEmail)
}

func TestProfile_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Profile(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
