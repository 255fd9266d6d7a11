package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrilink/marketplace/internal/domain/payment"
	"github.com/cenkalti/backoff/v4"
)

const DefaultBaseURL = "https://api.paystack.co"

type Config struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
	// MaxRetryElapsed bounds retries of verification on transport errors and 5xx responses.
	MaxRetryElapsed time.Duration
}

// Client is the Paystack implementation of payment.Gateway
type Client struct {
	secretKey  string
	baseURL    string
	http       *http.Client
	maxElapsed time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 10 * time.Second
	}
	return &Client{
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: cfg.Timeout},
		maxElapsed: cfg.MaxRetryElapsed,
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type transaction struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

// InitializeCharge creates a transaction. It is not retried: Paystack
// rejects a second initialization with the same reference, reported as
// payment.ErrDuplicateCharge.
func (c *Client) InitializeCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Authorization, error) {
	body := initializeRequest{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}

	var data initializeData
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		log.Printf("[Paystack] Initialize %s failed: %v", req.Reference, err)
		return nil, err
	}
	if data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: response missing authorization url", payment.ErrGateway)
	}

	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &payment.Authorization{URL: data.AuthorizationURL, AccessCode: data.AccessCode, Reference: ref}, nil
}

// VerifyCharge fetches the transaction, retrying transient failures with
// exponential backoff.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*payment.Outcome, error) {
	var tx transaction
	op := func() error {
		err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &tx)
		var perm *permanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(perm.err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		log.Printf("[Paystack] Verify %s failed: %v", reference, err)
		return nil, err
	}

	outcome := &payment.Outcome{
		Status:          MapStatus(tx.Status),
		AmountMinor:     tx.Amount,
		Currency:        tx.Currency,
		GatewayResponse: tx.GatewayResponse,
	}
	if tx.ID != 0 {
		outcome.TransactionID = fmt.Sprintf("%d", tx.ID)
	}
	if tx.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			outcome.PaidAt = t
		}
	}
	return outcome, nil
}

// MapStatus folds Paystack transaction statuses into the three outcomes the
// reconciler understands. Anything not final is pending.
func MapStatus(status string) payment.Status {
	switch strings.ToLower(status) {
	case "success":
		return payment.StatusSuccess
	case "failed", "reversed":
		return payment.StatusFailed
	default:
		return payment.StatusPending
	}
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &permanentError{err: err}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", payment.ErrGateway, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s returned %d with invalid body", payment.ErrGateway, path, resp.StatusCode)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %d %s", payment.ErrGateway, resp.StatusCode, env.Message)
	}
	if resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(env.Message), "not found") {
		return &permanentError{err: fmt.Errorf("%w: %s", payment.ErrChargeNotFound, env.Message)}
	}
	if strings.Contains(strings.ToLower(env.Message), "duplicate transaction reference") {
		return &permanentError{err: fmt.Errorf("%w: %s", payment.ErrDuplicateCharge, env.Message)}
	}
	if resp.StatusCode >= 400 || !env.Status {
		return &permanentError{err: fmt.Errorf("%w: %s", payment.ErrGateway, env.Message)}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &permanentError{err: fmt.Errorf("%w: decode data: %v", payment.ErrGateway, err)}
		}
	}
	return nil
}
