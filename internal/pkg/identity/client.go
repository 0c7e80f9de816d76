package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/cache"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
)

// ErrInvalidToken is returned for missing, expired or unknown bearer tokens.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the verified subject of a bearer token.
type Identity struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
}

// Client verifies bearer tokens against the external identity provider.
// Successful lookups are cached in Redis keyed by token hash, so hot tokens
// do not hit the provider on every request.
type Client struct {
	BaseURL  string
	CacheTTL time.Duration

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	ttl := 5 * time.Minute
	if raw := strings.TrimSpace(env.GetEnv("IDENTITY_CACHE_TTL", "")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			ttl = parsed
		}
	}
	return &Client{
		BaseURL:  strings.TrimRight(env.GetEnv("IDENTITY_BASE_URL", ""), "/"),
		CacheTTL: ttl,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// VerifyToken resolves a bearer token to a user identity.
func (c *Client) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	cacheKey := tokenCacheKey(token)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var id Identity
		if err := json.Unmarshal([]byte(cached), &id); err == nil && id.UserID != 0 {
			return &id, nil
		}
	}

	id, err := c.fetchIdentity(ctx, token)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(id); err == nil {
		_ = cache.Set(cacheKey, string(raw), c.CacheTTL)
	}
	return id, nil
}

func (c *Client) fetchIdentity(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("IDENTITY_BASE_URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID    json.RawMessage `json:"id"`
		Sub   json.RawMessage `json:"sub"`
		Email string          `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	userID := parseSubject(payload.ID)
	if userID == 0 {
		userID = parseSubject(payload.Sub)
	}
	if userID == 0 {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: userID, Email: strings.TrimSpace(payload.Email)}, nil
}

// parseSubject accepts the subject as a JSON number or a numeric string.
func parseSubject(raw json.RawMessage) uint {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "identity:token:" + hex.EncodeToString(sum[:])
}
