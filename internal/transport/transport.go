// Package transport implements the outbound auth-server client: a
// Fetcher that POSTs (or DELETEs) JSON to the server, authenticates
// with "Authorization: Token <apiKey>", retries transient transport
// failures with exponential backoff, and parses the server's response
// envelope into either a results payload or a typed login error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kindlyrobotics/edge-login-core/internal/loginerr"
	"github.com/kindlyrobotics/edge-login-core/internal/xlog"
)

var log = xlog.New("Transport")

// Fetcher is the single outbound call surface the login engine needs.
// The returned bytes are the envelope's results field, already checked
// for a server-side error code.
type Fetcher interface {
	Fetch(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error)
}

// Client is the default Fetcher: net/http plus a bounded retry loop
// for transport-level failures. Server-side errors (a decoded envelope
// with a non-success status) are never retried here; they carry meaning
// the caller must see.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client for the given auth server base URL. timeout
// bounds each individual HTTP attempt.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Server status codes inside the response envelope.
const (
	statusSuccess         = 0
	statusError           = 1
	statusAccountExists   = 2
	statusNoAccount       = 3
	statusInvalidPassword = 4
	statusInvalidAnswers  = 5
	statusInvalidApiKey   = 6
	statusInvalidPin      = 7
	statusInvalidOtp      = 8
	statusConflict        = 10
)

// envelope is the wire shape every auth-server response uses.
type envelope struct {
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Results    json.RawMessage `json:"results"`
}

// otpErrorPayload is the results body attached to an invalid-otp reply.
type otpErrorPayload struct {
	LoginID     string `json:"login_id"`
	VoucherID   string `json:"voucher_id"`
	VoucherAuth string `json:"voucher_auth"`
	ResetToken  string `json:"otp_reset_auth"`
}

// Fetch performs one authenticated call against the auth server. The
// request body is JSON-marshaled; the response envelope is unwrapped
// and its status code mapped onto the login error taxonomy.
func (c *Client) Fetch(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request: %w", err)
	}

	var raw []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("transport: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Token "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Printf("%s %s failed, will retry: %v", method, path, err)
			return err
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			log.Printf("%s %s returned %d, will retry", method, path, resp.StatusCode)
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		raw = buf.Bytes()
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", loginerr.ErrNetwork, method, path, err)
	}

	return parseReply(raw)
}

// parseReply unwraps the response envelope, converting non-success
// status codes into the typed errors callers branch on. Unknown codes
// become a generic wrapped ErrNetwork-free error so new server codes
// never masquerade as transport flakiness.
func parseReply(raw []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("transport: decode envelope: %w", err)
	}

	switch env.StatusCode {
	case statusSuccess:
		return env.Results, nil
	case statusAccountExists:
		return nil, &loginerr.UsernameError{Taken: true}
	case statusNoAccount:
		return nil, &loginerr.UsernameError{Taken: false}
	case statusInvalidPassword:
		return nil, &loginerr.PasswordError{Reason: env.Message}
	case statusInvalidAnswers:
		return nil, &loginerr.Recovery2Error{Reason: env.Message}
	case statusInvalidPin:
		return nil, &loginerr.Pin2Error{Reason: env.Message}
	case statusInvalidOtp:
		var p otpErrorPayload
		if len(env.Results) > 0 {
			if err := json.Unmarshal(env.Results, &p); err != nil {
				return nil, fmt.Errorf("transport: decode otp error payload: %w", err)
			}
		}
		return nil, &loginerr.OtpError{
			LoginID:     p.LoginID,
			VoucherID:   p.VoucherID,
			VoucherAuth: p.VoucherAuth,
			ResetToken:  p.ResetToken,
		}
	case statusInvalidApiKey:
		return nil, errors.New("transport: invalid api key")
	case statusConflict:
		return nil, errors.New("transport: conflicting request")
	case statusError:
		return nil, fmt.Errorf("transport: server error: %s", env.Message)
	default:
		return nil, fmt.Errorf("transport: unknown status code %d: %s", env.StatusCode, env.Message)
	}
}
