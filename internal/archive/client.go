// Package archive submits notice documents to the system-of-record journal
// and runs the archival pipeline.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

// ErrUnavailable is returned when the archive system cannot accept a
// submission. The pipeline retries on its next pass.
var ErrUnavailable = errors.New("archive system unavailable")

const defaultTimeout = 30 * time.Second

// ConflictError is the archive system's duplicate rejection for an external
// reference it has already journalled. It carries the existing archive id
// and is treated as success by the pipeline.
type ConflictError struct {
	ExistingID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("submission already archived as %d", e.ExistingID)
}

// Submission is one archive request. Reference is the notice id, used by the
// archive system for duplicate detection.
type Submission struct {
	Reference   string                 `json:"reference"`
	Title       string                 `json:"title"`
	SubjectID   string                 `json:"subject_id"`
	SubjectName string                 `json:"subject_name"`
	Type        models.NoticeType      `json:"type"`
	Document    []models.DocumentBlock `json:"document"`
	PDF         []byte                 `json:"pdf"`
}

type submitResponse struct {
	ArchiveID int64 `json:"archive_id"`
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
		return nil, fmt.Errorf("parse archive base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("archive base url must include scheme and host")
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

// Submit journals one notice document. A 409 response means the reference
// was journalled before; the existing id is returned inside ConflictError.
func (c *Client) Submit(ctx context.Context, sub Submission) (int64, error) {
	if strings.TrimSpace(sub.Reference) == "" {
		return 0, fmt.Errorf("submission reference is required")
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return 0, fmt.Errorf("encode archive submission: %w", err)
	}

	endpoint := c.baseURL.JoinPath("api", "v1", "journalpost")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build archive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var parsed submitResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
			return 0, fmt.Errorf("%w: decode response: %v", ErrUnavailable, decodeErr)
		}
		return parsed.ArchiveID, nil
	case resp.StatusCode == http.StatusConflict:
		var parsed submitResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
			return 0, fmt.Errorf("%w: conflict without existing archive id: %v", ErrUnavailable, decodeErr)
		}
		return 0, &ConflictError{ExistingID: parsed.ArchiveID}
	default:
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
