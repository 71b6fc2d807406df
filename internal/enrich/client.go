// Package enrich fills in the rating and sales fields the listing phase
// could not extract, by querying the public comment-summary endpoint per
// product and rewriting the records to a second delimited file.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/partsradar/jdharvest/internal/config"
)

// Summary is what one comment-summary lookup yields. Empty fields mean
// the endpoint had nothing usable; callers keep their existing values.
type Summary struct {
	Rating         string
	SalesOrReviews string
}

type summaryEnvelope struct {
	CommentsCount []struct {
		GoodRateShow    float64 `json:"GoodRateShow"`
		CommentCountStr string  `json:"CommentCountStr"`
		CommentCount    int64   `json:"CommentCount"`
	} `json:"CommentsCount"`
}

// SummaryClient fetches comment summaries with an LRU cache in front,
// so the same SKU appearing under several keywords costs one request.
type SummaryClient struct {
	http      *http.Client
	baseURL   string
	userAgent string
	referer   string
	cache     *lru.Cache[string, Summary]
	logger    *slog.Logger
}

func NewSummaryClient(cfg config.EnrichConfig) (*SummaryClient, error) {
	cache, err := lru.New[string, Summary](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary cache: %w", err)
	}

	return &SummaryClient{
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:   cfg.SummaryURL,
		userAgent: cfg.UserAgent,
		referer:   cfg.Referer,
		cache:     cache,
		logger:    slog.Default().With("component", "summary_client"),
	}, nil
}

// Fetch looks up the comment summary for one SKU.
func (c *SummaryClient) Fetch(ctx context.Context, sku string) (Summary, error) {
	if s, ok := c.cache.Get(sku); ok {
		return s, nil
	}

	reqURL := c.baseURL + "?referenceIds=" + url.QueryEscape(sku)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to build summary request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.referer)

	resp, err := c.http.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("summary request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Summary{}, fmt.Errorf("summary request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read summary response: %w", err)
	}

	s, err := parseSummary(body)
	if err != nil {
		return Summary{}, err
	}

	c.cache.Add(sku, s)
	return s, nil
}

func parseSummary(body []byte) (Summary, error) {
	var envelope summaryEnvelope
	if err := json.Unmarshal(unwrapJSONP(body), &envelope); err != nil {
		return Summary{}, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if len(envelope.CommentsCount) == 0 {
		return Summary{}, nil
	}

	entry := envelope.CommentsCount[0]
	var s Summary

	// GoodRateShow is a percentage; the output format is a 0..5 scale
	// with one decimal. A 0% good rate is a real observation and still
	// converts, to "0.0".
	s.Rating = strconv.FormatFloat(entry.GoodRateShow*5/100, 'f', 1, 64)

	if count := strings.TrimSuffix(strings.TrimSpace(entry.CommentCountStr), "+"); count != "" {
		s.SalesOrReviews = count
	} else if entry.CommentCount > 0 {
		s.SalesOrReviews = strconv.FormatInt(entry.CommentCount, 10)
	}

	return s, nil
}

// unwrapJSONP strips a callback wrapper like `cb({...});` down to the
// JSON payload. Bare JSON passes through untouched.
func unwrapJSONP(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}

	open := bytes.IndexByte(trimmed, '(')
	closing := bytes.LastIndexByte(trimmed, ')')
	if open < 0 || closing <= open {
		return trimmed
	}
	return trimmed[open+1 : closing]
}
