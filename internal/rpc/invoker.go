package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry constants. maxAttempts counts the first try; backoff between
// attempt n and n+1 is baseBackoff × 2^(n−1).
const (
	maxAttempts        = 3
	defaultBaseBackoff = 1 * time.Second
	userAgent          = "shipsite/0.1"
	maxBodySnippet     = 512
)

// Authenticator provides fresh bearer tokens and a forced refresh for the
// auth-failure path. Defined at the consumer; the session manager is the
// real implementation.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// Invoker calls named operations on the function endpoint.
type Invoker struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	logger     *slog.Logger

	// baseBackoff is the first retry delay. Tests shrink it.
	baseBackoff time.Duration
}

// NewInvoker creates an Invoker for the given function endpoint base URL.
func NewInvoker(baseURL string, httpClient *http.Client, auth Authenticator, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Invoker{
		baseURL:     baseURL,
		httpClient:  httpClient,
		auth:        auth,
		logger:      logger,
		baseBackoff: defaultBaseBackoff,
	}
}

// callEnvelope and resultEnvelope are the function endpoint's wire shapes.
type callEnvelope struct {
	Data any `json:"data"`
}

type resultEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call invokes a named operation with a JSON payload. Transient failures
// are retried with exponential backoff; a remote auth rejection triggers
// exactly one credential refresh and one retry of the whole call; business
// errors surface immediately as *AppError.
func (inv *Invoker) Call(ctx context.Context, operation string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(callEnvelope{Data: payload})
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding %s payload: %w", operation, err)
	}

	result, err := inv.callWithRetry(ctx, operation, body)
	if !isAuthFailure(err) {
		return result, err
	}

	inv.logger.Info("auth rejected, refreshing credentials once",
		slog.String("operation", operation),
	)

	if refreshErr := inv.auth.Refresh(ctx); refreshErr != nil {
		return nil, fmt.Errorf("rpc: refreshing after auth rejection: %w", refreshErr)
	}

	result, err = inv.callWithRetry(ctx, operation, body)
	if isAuthFailure(err) {
		// Still rejected with brand-new credentials. Do not loop.
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	return result, err
}

// callWithRetry runs attempts with exponential backoff. Only transient
// failures are retried; auth and application failures abort immediately.
func (inv *Invoker) callWithRetry(ctx context.Context, operation string, body []byte) (json.RawMessage, error) {
	var result json.RawMessage

	attempt := 0
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(inv.baseBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		res, attemptErr := inv.doOnce(ctx, operation, body)
		if attemptErr != nil {
			if isTransient(attemptErr) {
				inv.logger.Warn("retrying after transient failure",
					slog.String("operation", operation),
					slog.Int("attempt", attempt),
					slog.String("error", attemptErr.Error()),
				)

				return retry.RetryableError(attemptErr)
			}

			return attemptErr
		}

		result = res

		return nil
	})
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %s failed after %d attempts: %v",
				ErrExhausted, operation, attempt, err)
		}

		return nil, err
	}

	return result, nil
}

// doOnce executes a single invocation: fresh token, POST, classify.
func (inv *Invoker) doOnce(ctx context.Context, operation string, body []byte) (json.RawMessage, error) {
	token, err := inv.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("rpc: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		inv.baseURL+"/"+operation, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: creating %s request: %w", operation, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := inv.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rpc: %s canceled: %w", operation, ctx.Err())
		}

		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, readErr)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(resp.StatusCode, raw)
	}

	var env resultEnvelope
	if decErr := json.Unmarshal(raw, &env); decErr != nil {
		return nil, fmt.Errorf("rpc: decoding %s response: %w", operation, decErr)
	}

	if env.Error != nil {
		return nil, &AppError{Message: env.Error.Message}
	}

	return env.Result, nil
}

// classifyStatus buckets a non-2xx response: auth rejection, transient
// server-side failure, or deterministic application rejection.
func classifyStatus(status int, body []byte) error {
	snippet := bodySnippet(body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &RemoteError{StatusCode: status, Body: snippet, Err: ErrUnauthenticated}
	case status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError:
		return &RemoteError{StatusCode: status, Body: snippet, Err: ErrTransient}
	default:
		var env resultEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
			return &AppError{Message: env.Error.Message}
		}

		return &AppError{Message: snippet}
	}
}

func bodySnippet(body []byte) string {
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet]
	}

	return string(body)
}
