// Package relay talks to the backend coordination service. The backend
// stores opaque snapshot blobs and forwards signing events between
// wallets; it is never trusted with key material or status decisions.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"walletcore/native/multisig"
)

// Config captures the dependencies required to construct a Client.
type Config struct {
	BaseURL string
	// DeviceID identifies this wallet instance in the token subject.
	DeviceID string
	// JWTSecret signs the per-request bearer token.
	JWTSecret string
	// TokenTTL bounds token validity. Zero means one minute.
	TokenTTL time.Duration
	// RequestsPerSecond throttles outbound calls. Zero means 10.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Now               func() time.Time
}

// Client is the HTTP client of the backend relay.
type Client struct {
	baseURL   string
	deviceID  string
	jwtSecret []byte
	tokenTTL  time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

func New(cfg Config) *Client {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		deviceID:  cfg.DeviceID,
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  ttl,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		now:       now,
	}
}

func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   c.deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.jwtSecret)
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("%s %s: backend error %d: %s", method, path, envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// FetchAccountSnapshots returns every account blob the identity
// participates in. The blobs are the hex transport form produced by
// multisig snapshot encoding.
func (c *Client) FetchAccountSnapshots(ctx context.Context, identityID string) ([]multisig.AccountSnapshot, error) {
	var raws []string
	err := c.do(ctx, http.MethodPost, "/multisig/accounts/fetch", map[string]string{
		"identityId": identityID,
	}, &raws)
	if err != nil {
		return nil, err
	}
	out := make([]multisig.AccountSnapshot, 0, len(raws))
	for _, raw := range raws {
		snap, err := multisig.DecodeAccountSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// FetchQueueSnapshots returns every queue blob of one account.
func (c *Client) FetchQueueSnapshots(ctx context.Context, accountID string) ([]multisig.QueueSnapshot, error) {
	var raws []string
	err := c.do(ctx, http.MethodPost, "/multisig/queues/fetch", map[string]string{
		"accountId": accountID,
	}, &raws)
	if err != nil {
		return nil, err
	}
	out := make([]multisig.QueueSnapshot, 0, len(raws))
	for _, raw := range raws {
		snap, err := multisig.DecodeQueueSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// PushAccountSnapshot uploads the authoritative account blob after a
// local transition.
func (c *Client) PushAccountSnapshot(ctx context.Context, snap multisig.AccountSnapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/multisig/accounts/push", map[string]string{
		"accountId": snap.Account.ID,
		"rawData":   raw,
	}, nil)
}

// PushQueueSnapshot uploads the authoritative queue blob after a local
// transition.
func (c *Client) PushQueueSnapshot(ctx context.Context, snap multisig.QueueSnapshot) error {
	raw, err := snap.Encode()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/multisig/queues/push", map[string]string{
		"queueId":   snap.Queue.ID,
		"accountId": snap.Queue.AccountID,
		"rawData":   raw,
	}, nil)
}

// PushSignature forwards a signing verdict to the other members.
func (c *Client) PushSignature(ctx context.Context, sig multisig.Signature) error {
	return c.do(ctx, http.MethodPost, "/multisig/signatures/push", map[string]interface{}{
		"queueId":   sig.QueueID,
		"address":   sig.Address,
		"status":    uint8(sig.Status),
		"signature": sig.Bytes,
	}, nil)
}

// PushConfirmation announces that this member accepted an account
// invitation.
func (c *Client) PushConfirmation(ctx context.Context, accountID, address, publicKey, identityID string) error {
	return c.do(ctx, http.MethodPost, "/multisig/confirmations/push", map[string]string{
		"accountId":  accountID,
		"address":    address,
		"publicKey":  publicKey,
		"identityId": identityID,
	}, nil)
}

// CancelAccount marks an account cancelled on the backend so other
// members learn about it.
func (c *Client) CancelAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodPost, "/multisig/accounts/cancel", map[string]string{
		"accountId": accountID,
	}, nil)
}

// CheckCancelled returns the subset of accountIDs the backend has marked
// cancelled.
func (c *Client) CheckCancelled(ctx context.Context, accountIDs []string) ([]string, error) {
	var cancelled []string
	err := c.do(ctx, http.MethodPost, "/multisig/accounts/cancelled", map[string][]string{
		"accountIds": accountIDs,
	}, &cancelled)
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
