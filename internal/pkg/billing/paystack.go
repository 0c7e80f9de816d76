package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackClient is a thin typed client for the payment provider. The secret
// key doubles as the webhook HMAC secret, which is how the provider works.
type PaystackClient struct {
	SecretKey string
	BaseURL   string

	HTTPClient *http.Client
}

// InitializeRequest starts a hosted checkout for a plan purchase. Metadata is
// echoed back on the webhook and is the only correctness-relevant carrier of
// user and plan identity.
type InitializeRequest struct {
	Email     string             `json:"email"`
	Amount    int64              `json:"amount"`
	Reference string             `json:"reference"`
	Metadata  InitializeMetadata `json:"metadata"`
}

type InitializeMetadata struct {
	UserID   uint   `json:"user_id"`
	PlanID   string `json:"plan_id"`
	MaxUsage int64  `json:"max_usage,omitempty"`
}

// InitializeResult is the checkout handle returned to the browser.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult is the provider's view of a transaction outcome.
type VerifyResult struct {
	Status    string          `json:"status"`
	ID        flexID          `json:"id"`
	Amount    int64           `json:"amount"`
	Reference string          `json:"reference"`
	PaidAt    string          `json:"paid_at"`
	Message   string          `json:"gateway_response"`
	Metadata  webhookMetadata `json:"metadata"`
}

// Succeeded reports whether the provider considers the charge settled.
func (v *VerifyResult) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(v.Status), "success")
}

// PaidTime parses the provider timestamp, zero time when absent.
func (v *VerifyResult) PaidTime() time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v.PaidAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func NewPaystackClientFromEnv() *PaystackClient {
	return &PaystackClient{
		SecretKey: strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		BaseURL:   strings.TrimRight(env.GetEnv("PAYSTACK_BASE_URL", defaultPaystackBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WebhookSecret returns the shared secret used to verify webhook signatures.
func (c *PaystackClient) WebhookSecret() string {
	return c.SecretKey
}

// InitializeTransaction creates a hosted checkout session for the given
// reference. The reference must already be persisted locally so a crash after
// this call is recoverable by verifying against the provider later.
func (c *PaystackClient) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, errors.New("email is required")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, errors.New("reference is required")
	}

	data, err := c.post(ctx, "/transaction/initialize", req)
	if err != nil {
		return nil, err
	}

	var out InitializeResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding initialize response: %v", ErrProviderFailure, err)
	}
	if strings.TrimSpace(out.AuthorizationURL) == "" {
		return nil, fmt.Errorf("%w: initialize returned empty authorization_url", ErrProviderFailure)
	}
	return &out, nil
}

// VerifyTransaction asks the provider for the outcome of a transaction.
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("reference is required")
	}

	data, err := c.get(ctx, "/transaction/verify/"+ref)
	if err != nil {
		return nil, err
	}

	var out VerifyResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decoding verify response: %v", ErrProviderFailure, err)
	}
	return &out, nil
}

func (c *PaystackClient) post(ctx context.Context, path string, payload interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *PaystackClient) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *PaystackClient) do(req *http.Request) (json.RawMessage, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("PAYSTACK_SECRET_KEY is not configured")
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrProviderFailure, resp.StatusCode, string(body))
	}

	var envp paystackEnvelope
	if err := json.Unmarshal(body, &envp); err != nil {
		return nil, fmt.Errorf("%w: decoding provider envelope: %v", ErrProviderFailure, err)
	}
	if !envp.Status {
		return nil, fmt.Errorf("%w: %s", ErrProviderFailure, envp.Message)
	}
	return envp.Data, nil
}
