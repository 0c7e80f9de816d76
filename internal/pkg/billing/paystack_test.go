package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPaystackClient(srv *httptest.Server) *PaystackClient {
	return &PaystackClient{
		SecretKey:  "sk_test_secret",
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestPaystackInitializeTransaction(t *testing.T) {
	var gotAuth string
	var gotReq InitializeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]string{
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code":       "abc123",
				"reference":         gotReq.Reference,
			},
		})
	}))
	defer srv.Close()

	client := testPaystackClient(srv)
	out, err := client.InitializeTransaction(context.Background(), InitializeRequest{
		Email:     "user@example.com",
		Amount:    500000,
		Reference: "qf_1700000000_abc123",
		Metadata:  InitializeMetadata{UserID: 42, PlanID: "pro", MaxUsage: 1000},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AuthorizationURL != "https://checkout.paystack.com/abc123" {
		t.Fatalf("unexpected authorization url %q", out.AuthorizationURL)
	}
	if gotAuth != "Bearer sk_test_secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Metadata.UserID != 42 || gotReq.Metadata.PlanID != "pro" {
		t.Fatalf("metadata not forwarded: %+v", gotReq.Metadata)
	}
}

func TestPaystackVerifyTransaction_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/qf_ref1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Verification successful",
			"data": map[string]interface{}{
				"id":      302961,
				"status":  "success",
				"amount":  500000,
				"paid_at": "2026-03-01T09:00:00Z",
				"metadata": map[string]interface{}{
					"user_id": "42", "plan_id": "pro", "max_usage": 1000,
				},
			},
		})
	}))
	defer srv.Close()

	out, err := testPaystackClient(srv).VerifyTransaction(context.Background(), "qf_ref1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("expected success, got status %q", out.Status)
	}
	if uid, ok := out.Metadata.UserID.Uint(); !ok || uid != 42 {
		t.Fatalf("unexpected metadata user id %v", out.Metadata.UserID)
	}
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if !out.PaidTime().Equal(want) {
		t.Fatalf("unexpected paid time %v", out.PaidTime())
	}
}

func TestPaystackVerifyTransaction_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": false, "message": "Transaction reference not found",
		})
	}))
	defer srv.Close()

	_, err := testPaystackClient(srv).VerifyTransaction(context.Background(), "qf_missing")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPaystackClient_ProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "envelope status false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"status": false, "message": "Invalid key",
				})
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>gateway error</html>"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := testPaystackClient(srv).VerifyTransaction(context.Background(), "qf_x")
			if !errors.Is(err, ErrProviderFailure) {
				t.Fatalf("expected ErrProviderFailure, got %v", err)
			}
		})
	}
}

func TestPaystackClient_MissingSecretKey(t *testing.T) {
	client := &PaystackClient{BaseURL: "http://localhost:0", HTTPClient: http.DefaultClient}
	if _, err := client.VerifyTransaction(context.Background(), "qf_x"); err == nil {
		t.Fatalf("expected error when secret key unset")
	}
}
