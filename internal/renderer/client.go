// Package renderer is the client for the external document rendering
// service, which turns a structured notice document into PDF bytes. Each
// notice type has its own template endpoint.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

var (
	// ErrUnavailable is returned when the renderer cannot be reached or
	// fails server-side. Pipelines retry on their next pass.
	ErrUnavailable = errors.New("renderer unavailable")
	// ErrBadRequest is returned when the renderer rejects the payload.
	ErrBadRequest = errors.New("renderer rejected payload")
)

const defaultTimeout = 30 * time.Second

// templatePaths maps each notice type to its rendering endpoint.
var templatePaths = map[models.NoticeType]string{
	models.NoticeAdvanceWarning: "/api/v1/genpdf/assessment/advance-warning",
	models.NoticeExemption:      "/api/v1/genpdf/assessment/exemption",
	models.NoticeFulfilled:      "/api/v1/genpdf/assessment/fulfilled",
	models.NoticeNotApplicable:  "/api/v1/genpdf/assessment/not-applicable",
	models.NoticeRecommendStop:  "/api/v1/genpdf/assessment/recommend-stop",
}

// Payload is the rendering input for one notice.
type Payload struct {
	SubjectName string                 `json:"subject_name"`
	Document    []models.DocumentBlock `json:"document"`
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
		return nil, fmt.Errorf("parse renderer base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("renderer base url must include scheme and host")
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

// Render produces the PDF bytes for a notice.
func (c *Client) Render(ctx context.Context, noticeType models.NoticeType, payload Payload) ([]byte, error) {
	path, ok := templatePaths[noticeType]
	if !ok {
		return nil, fmt.Errorf("%w: no template for notice type %s", ErrBadRequest, noticeType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode render payload: %w", err)
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		pdf, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, readErr)
		}
		return pdf, nil
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", ErrBadRequest, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
