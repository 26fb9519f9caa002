// Package reader consumes the Readwise Reader list API: cursor pagination
// across locations, rate-limit handling, and normalization of the wire
// documents into the internal model.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xhad/marginalia/internal/models"
	"github.com/xhad/marginalia/internal/types"
	"golang.org/x/time/rate"
)

// ErrUnauthorized reports a rejected reader token.
var ErrUnauthorized = fmt.Errorf("reader API rejected the access token")

// Locations are paged in this fixed order.
var Locations = []string{"new", "later", "archive"}

// ClientConfig configures the reader client.
type ClientConfig struct {
	Token      string
	BaseURL    string
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	OnProgress func(doc models.Document)
}

// Client pages the reader list endpoint.
type Client struct {
	config  ClientConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ types.ReaderClient = (*Client)(nil)

func NewWithConfig(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("reader token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://readwise.io/api/v3"
	}
	if config.RateLimit == 0 {
		config.RateLimit = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// listResponse is one page of the list endpoint.
type listResponse struct {
	Results        []readerDoc `json:"results"`
	NextPageCursor string      `json:"nextPageCursor"`
}

// readerDoc is the wire shape of one document.
type readerDoc struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	SourceURL   string          `json:"source_url"`
	URL         string          `json:"url"`
	Category    string          `json:"category"`
	HTMLContent string          `json:"html_content"`
	Content     string          `json:"content"`
	Summary     string          `json:"summary"`
	CreatedAt   string          `json:"created_at"`
	Tags        json.RawMessage `json:"tags"`
}

// FetchAll pages every location and returns the deduplicated document set.
// HTTP 429 responses are retried on the same cursor after the advertised
// delay; any other non-2xx status fails the fetch.
func (c *Client) FetchAll(ctx context.Context, updatedAfter string) ([]models.Document, error) {
	seen := make(map[string]bool)
	var docs []models.Document

	for _, location := range Locations {
		cursor := ""
		for {
			page, err := c.fetchPage(ctx, location, cursor, updatedAfter)
			if err != nil {
				return nil, err
			}
			for _, rd := range page.Results {
				if rd.ID == "" || seen[rd.ID] {
					continue
				}
				seen[rd.ID] = true
				doc := rd.toDocument()
				docs = append(docs, doc)
				if c.config.OnProgress != nil {
					c.config.OnProgress(doc)
				}
			}
			if page.NextPageCursor == "" {
				break
			}
			cursor = page.NextPageCursor
		}
	}
	return docs, nil
}

func (c *Client) fetchPage(ctx context.Context, location, cursor, updatedAfter string) (*listResponse, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := c.newListRequest(ctx, location, cursor, updatedAfter)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("reader list request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryAfter(resp)
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		page, err := decodePage(resp)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}

func (c *Client) newListRequest(ctx context.Context, location, cursor, updatedAfter string) (*http.Request, error) {
	query := url.Values{}
	query.Set("withHtmlContent", "true")
	query.Set("location", location)
	if cursor != "" {
		query.Set("pageCursor", cursor)
	}
	if updatedAfter != "" {
		query.Set("updatedAfter", updatedAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/list/?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.config.Token)
	return req, nil
}

func decodePage(resp *http.Response) (*listResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("reader API returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("reader API returned unexpected content type %q", ct)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode reader response: %w", err)
	}
	return &page, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

func (rd readerDoc) toDocument() models.Document {
	doc := models.Document{
		ID:          rd.ID,
		Title:       rd.Title,
		Author:      rd.Author,
		URL:         rd.SourceURL,
		Category:    rd.Category,
		HTMLContent: rd.HTMLContent,
		Content:     rd.Content,
		Summary:     rd.Summary,
		Tags:        normalizeTags(rd.Tags),
	}
	if doc.URL == "" {
		doc.URL = rd.URL
	}
	if ts, err := time.Parse(time.RFC3339, rd.CreatedAt); err == nil {
		doc.CreatedAt = ts
	}
	return doc
}

// normalizeTags accepts the two wire variants (a list of strings or a list
// of objects carrying a name) and flattens both to strings.
func normalizeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var tags []string
	for _, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				tags = append(tags, s)
			}
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &obj); err == nil && obj.Name != "" {
			tags = append(tags, obj.Name)
		}
	}
	return tags
}
