package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Signature headers on outbound gateway requests.
const (
	SignatureHeader = "X-Event-Signature"
	TimestampHeader = "X-Event-Timestamp"
	NonceHeader     = "X-Event-Nonce"
	KeyHeader       = "X-Event-Key"

	signaturePrefix = "sha256="
)

const defaultGatewayTimeout = 10 * time.Second

// GatewayBus publishes events to the event gateway over HTTP: one signed POST
// per event, acknowledged by a 2xx response. There is no retry loop; callers
// leave state unchanged and retry on their next scheduled pass.
type GatewayBus struct {
	client  *http.Client
	baseURL *url.URL
	secret  string
	now     func() time.Time
	nonce   func() string
}

type GatewayOption func(*GatewayBus)

func WithHTTPClient(client *http.Client) GatewayOption {
	return func(b *GatewayBus) {
		if client != nil {
			b.client = client
		}
	}
}

func WithClock(now func() time.Time) GatewayOption {
	return func(b *GatewayBus) {
		if now != nil {
			b.now = now
		}
	}
}

func WithNonce(nonce func() string) GatewayOption {
	return func(b *GatewayBus) {
		if nonce != nil {
			b.nonce = nonce
		}
	}
}

func NewGatewayBus(baseURL, secret string, options ...GatewayOption) (*GatewayBus, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("gateway base url must include scheme and host")
	}

	bus := &GatewayBus{
		client:  &http.Client{Timeout: defaultGatewayTimeout},
		baseURL: parsed,
		secret:  strings.TrimSpace(secret),
		now:     time.Now,
		nonce:   randomNonce,
	}
	for _, option := range options {
		option(bus)
	}
	return bus, nil
}

// Publish delivers one event to /topics/{topic} and treats any 2xx response
// as the bus acknowledgment.
func (b *GatewayBus) Publish(ctx context.Context, topic, key string, payload any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	endpoint := b.baseURL.JoinPath("topics", topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(KeyHeader, key)
	}
	if b.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, b.secret))
		req.Header.Set(TimestampHeader, fmt.Sprintf("%d", b.now().Unix()))
		req.Header.Set(NonceHeader, b.nonce())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bus rejected event on %s: status %d: %s",
			topic, resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// DropBus acknowledges every event without delivering it. Used when no
// gateway is configured, so local environments can run without the bus.
type DropBus struct {
	Logf func(string, ...any)
}

func (b DropBus) Publish(ctx context.Context, topic, key string, payload any) error {
	if b.Logf != nil {
		b.Logf("WARN: dropping event on %s (key %s): no bus configured", topic, key)
	}
	return nil
}
