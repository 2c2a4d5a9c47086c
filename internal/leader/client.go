// Package leader asks the leader-election sidecar whether this replica is
// the leader pod. The scheduler checks it before every job run; leadership
// can move between runs, so answers are never cached.
package leader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

type electorResponse struct {
	Name string `json:"name"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithHostname overrides the hostname lookup, for tests.
func WithHostname(hostname func() (string, error)) Option {
	return func(c *Client) {
		if hostname != nil {
			c.hostname = hostname
		}
	}
}

type Client struct {
	httpClient *http.Client
	electorURL string
	hostname   func() (string, error)
}

func NewClient(electorURL string, options ...Option) (*Client, error) {
	electorURL = strings.TrimSpace(electorURL)
	if electorURL == "" {
		return nil, fmt.Errorf("elector url is required")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		electorURL: electorURL,
		hostname:   os.Hostname,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// IsLeader reports whether this pod currently holds leadership.
func (c *Client) IsLeader(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.electorURL, nil)
	if err != nil {
		return false, fmt.Errorf("build elector request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("query elector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("elector responded with status %d", resp.StatusCode)
	}

	var parsed electorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decode elector response: %w", err)
	}

	host, err := c.hostname()
	if err != nil {
		return false, fmt.Errorf("resolve hostname: %w", err)
	}
	return parsed.Name != "" && parsed.Name == host, nil
}
