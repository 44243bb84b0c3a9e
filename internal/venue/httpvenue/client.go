// Package httpvenue submits legs to a venue's REST execution API.
package httpvenue

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

	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
)

var (
	_ executor.Submitter = (*Client)(nil)
	_ executor.Reverser  = (*Client)(nil)
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker BreakerConfig
}

// Client is the REST client for a venue execution API. Every error it
// returns is classified as domain.RecoverableError or
// domain.NonRecoverableError.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	breaker    *breaker
	logger     *slog.Logger
}

// New creates a client. signer and auth are optional.
func New(name string, cfg Config, signer *crypto.Signer, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "httpvenue"), slog.String("venue", name))
	return &Client{
		name:       name,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		hmacAuth:   auth,
		breaker:    newBreaker(cfg.Breaker, logger),
		logger:     logger,
	}
}

// Name returns the venue name.
func (c *Client) Name() string { return c.name }

// BreakerState exposes the circuit breaker for health reporting.
func (c *Client) BreakerState() BreakerState { return c.breaker.current() }

// Submit implements executor.Submitter.
func (c *Client) Submit(ctx context.Context, req executor.SubmitRequest) (executor.Receipt, error) {
	body := APILegRequest{
		TradeID:        req.TradeID,
		Account:        req.Account,
		Nonce:          req.Nonce,
		LegIndex:       req.LegIndex,
		Ref:            req.Leg.Ref,
		Kind:           string(req.Leg.Kind),
		From:           req.Leg.From,
		To:             req.Leg.To,
		Direction:      string(req.Leg.Direction),
		Amount:         req.Amount,
		ExpectedRate:   req.Leg.Rate,
		Attempt:        req.Attempt,
		IdempotencyKey: req.IdempotencyKey,
	}
	if c.signer != nil {
		sig, err := c.signer.SignLeg(crypto.LegIntent{
			Nonce:          req.Nonce,
			LegIndex:       req.LegIndex,
			Ref:            req.Leg.Ref,
			From:           req.Leg.From,
			To:             req.Leg.To,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return executor.Receipt{}, domain.NonRecoverable("sign", err)
		}
		body.Signer = c.signer.Address().Hex()
		body.Signature = sig
	}

	var out APIReceipt
	if err := c.do(ctx, http.MethodPost, "/v1/legs", body, &out); err != nil {
		return executor.Receipt{}, fmt.Errorf("httpvenue: submit leg %d: %w", req.LegIndex, err)
	}
	if out.ReceiptID == "" {
		return executor.Receipt{}, domain.Recoverable("submit", errors.New("httpvenue: empty receipt id"))
	}
	return executor.Receipt{ID: out.ReceiptID, Venue: c.name, SubmittedAt: out.SubmittedAt}, nil
}

// PollFinality implements executor.Submitter.
func (c *Client) PollFinality(ctx context.Context, r executor.Receipt) (executor.Finality, error) {
	var st APILegStatus
	if err := c.do(ctx, http.MethodGet, "/v1/legs/"+url.PathEscape(r.ID), nil, &st); err != nil {
		return executor.Finality{}, fmt.Errorf("httpvenue: poll %s: %w", r.ID, err)
	}
	switch st.Status {
	case StatusPending, "":
		return executor.Finality{}, nil
	case StatusFilled:
		return executor.Finality{
			Done:       true,
			Accepted:   true,
			FilledRate: st.FilledRate,
			AmountOut:  st.AmountOut,
			Fee:        st.Fee,
		}, nil
	case StatusRejected:
		return executor.Finality{Done: true, Reason: st.Reason}, nil
	default:
		return executor.Finality{}, domain.Recoverable("poll", fmt.Errorf("httpvenue: unknown status %q", st.Status))
	}
}

// Reverse implements executor.Reverser.
func (c *Client) Reverse(ctx context.Context, req executor.ReverseRequest) (float64, error) {
	body := APIReverseRequest{
		TradeID:  req.TradeID,
		Account:  req.Account,
		Nonce:    req.Nonce,
		LegIndex: req.LegIndex,
		Amount:   req.Amount,
	}
	var out APIReverseResult
	path := "/v1/legs/" + url.PathEscape(req.ReceiptID) + "/reverse"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return 0, fmt.Errorf("httpvenue: reverse %s: %w", req.ReceiptID, err)
	}
	return out.AmountOut, nil
}

// do sends one request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.breaker.allow() {
		return domain.Recoverable("request", domain.ErrVenueUnavailable)
	}

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.NonRecoverable("marshal", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return domain.NonRecoverable("request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hmacAuth != nil {
		for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.breaker.failure()
		}
		return domain.Recoverable("http", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.failure()
		return domain.Recoverable("read", err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		if resp.StatusCode >= 500 {
			c.breaker.failure()
		}
		c.logger.Debug("httpvenue: request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.breaker.success()

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.Recoverable("decode", err)
	}
	return nil
}

// classifyStatus maps non-2xx statuses to classified errors: 408, 429 and
// 5xx are recoverable; every other 4xx is not.
func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = string(body)
	}
	base := fmt.Errorf("HTTP %d: %s", status, msg)

	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return domain.Recoverable("status", base)
	}

	var sentinel error
	switch apiErr.Code {
	case CodeNonceConflict:
		sentinel = domain.ErrNonceConflict
	case CodeInsufficientFunds:
		sentinel = domain.ErrInsufficientFunds
	case CodeInsufficientLiquidity:
		sentinel = domain.ErrInsufficientLiquidity
	case CodeInvalidSignature:
		sentinel = domain.ErrInvalidSignature
	default:
		switch status {
		case http.StatusNotFound:
			sentinel = domain.ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			sentinel = domain.ErrUnauthorized
		default:
			sentinel = domain.ErrRejected
		}
	}
	return domain.NonRecoverable("status", fmt.Errorf("%w: %v", sentinel, base))
}
