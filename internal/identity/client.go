// Package identity is the client for the external identity service, plus the
// re-keying of cases when a subject's identifier changes.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the identity service does not know the
	// subject.
	ErrNotFound = errors.New("identity not found")
	// ErrUnavailable is returned when the identity service cannot answer.
	ErrUnavailable = errors.New("identity service unavailable")
)

const defaultTimeout = 10 * time.Second

// Identity is the identity service's record for one subject identifier.
type Identity struct {
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
}

func NewClient(baseURL string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse identity base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("identity base url must include scheme and host")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    parsed,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Resolve looks up one subject identifier.
func (c *Client) Resolve(ctx context.Context, subjectID string) (Identity, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Identity{}, fmt.Errorf("%w: empty subject id", ErrNotFound)
	}

	endpoint := c.baseURL.JoinPath("api", "v1", "identities", url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var ident Identity
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ident); decodeErr != nil {
			return Identity{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, decodeErr)
		}
		return ident, nil
	case resp.StatusCode == http.StatusNotFound:
		return Identity{}, ErrNotFound
	default:
		return Identity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// ResolveDisplayName returns the subject's display name for use in notice
// documents and archive metadata.
func (c *Client) ResolveDisplayName(ctx context.Context, subjectID string) (string, error) {
	ident, err := c.Resolve(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(ident.DisplayName) == "" {
		return "", fmt.Errorf("%w: no display name for subject", ErrNotFound)
	}
	return ident.DisplayName, nil
}

// IsActive reports whether the identifier is the subject's currently active
// one in the source of truth.
func (c *Client) IsActive(ctx context.Context, subjectID string) (bool, error) {
	ident, err := c.Resolve(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return ident.Active, nil
}
