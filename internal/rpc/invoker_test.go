package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuth is an Authenticator double. Refresh swaps in a new token.
type fakeAuth struct {
	mu           sync.Mutex
	token        string
	refreshCalls int
	refreshErr   error
}

func (f *fakeAuth) Token(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.token, nil
}

func (f *fakeAuth) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls++
	if f.refreshErr != nil {
		return f.refreshErr
	}

	f.token = "refreshed-token"

	return nil
}

func (f *fakeAuth) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refreshCalls
}

// newTestInvoker builds an Invoker with a tiny backoff for fast tests.
func newTestInvoker(t *testing.T, url string, auth *fakeAuth) *Invoker {
	t.Helper()

	inv := NewInvoker(url, http.DefaultClient, auth, nil)
	inv.baseBackoff = 10 * time.Millisecond

	return inv
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/publish", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var env callEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))

		fmt.Fprint(w, `{"result":{"ok":true}}`)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, &fakeAuth{token: "tok-1"})

	result, err := inv.Call(context.Background(), "publish", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestCall_TransientFailuresThenSuccess(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		fmt.Fprint(w, `{"result":"ok"}`)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, &fakeAuth{token: "tok-1"})

	start := time.Now()
	result, err := inv.Call(context.Background(), "publish", nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
	assert.Equal(t, int32(3), attempts.Load())
	// Exponential backoff: first delay >= base, second >= 2*base.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestCall_RetriesExhausted(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, &fakeAuth{token: "tok-1"})

	_, err := inv.Call(context.Background(), "publish", nil)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCall_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	inv := newTestInvoker(t, url, &fakeAuth{token: "tok-1"})

	_, err := inv.Call(context.Background(), "publish", nil)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestCall_ApplicationErrorNeverRetried(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		fmt.Fprint(w, `{"error":{"message":"project name already taken"}}`)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, &fakeAuth{token: "tok-1"})

	_, err := inv.Call(context.Background(), "publish", nil)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "project name already taken", appErr.Message)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCall_BadRequestIsApplicationError(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"manifest is empty"}}`)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, &fakeAuth{token: "tok-1"})

	_, err := inv.Call(context.Background(), "publish", nil)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "manifest is empty", appErr.Message)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCall_AuthFailureRefreshesOnceThenSucceeds(t *testing.T) {
	auth := &fakeAuth{token: "stale-token"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		fmt.Fprint(w, `{"result":"ok"}`)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, auth)

	result, err := inv.Call(context.Background(), "publish", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
	assert.Equal(t, 1, auth.refreshes())
}

func TestCall_DoubleAuthFailureSurfacesExpired(t *testing.T) {
	var attempts atomic.Int32

	auth := &fakeAuth{token: "stale-token"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, auth)

	_, err := inv.Call(context.Background(), "publish", nil)
	require.ErrorIs(t, err, ErrAuthExpired)
	// Exactly one refresh, one retry, no loop.
	assert.Equal(t, 1, auth.refreshes())
	assert.Equal(t, int32(2), attempts.Load())
}

func TestCall_RefreshFailurePropagates(t *testing.T) {
	auth := &fakeAuth{token: "stale-token", refreshErr: fmt.Errorf("refresh is dead")}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL, auth)

	_, err := inv.Call(context.Background(), "publish", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh is dead")
	assert.Equal(t, 1, auth.refreshes())
}
