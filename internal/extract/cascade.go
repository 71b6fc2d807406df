package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"

	"github.com/partsradar/jdharvest/internal/browser"
	"github.com/partsradar/jdharvest/internal/jsontree"
	"github.com/partsradar/jdharvest/internal/models"
)

// Raw-markup chunk window around each identifier anchor.
const (
	chunkBefore = 200
	chunkAfter  = 1500
)

var chunkAnchorPattern = regexp.MustCompile(`data-sku="(\d+)"`)

// PageResult is what one cascade pass over a page produced. RawCount is
// the number of raw items the winning strategy saw before invalid ones
// (empty identifier) were dropped; "0 valid" and "0 raw" are distinct
// states and only the latter is an operator condition.
type PageResult struct {
	Records  []*models.ProductRecord
	Source   Source
	RawCount int
	Dropped  int
}

// Cascade runs the per-page extraction strategies in strict priority
// order: intercepted API response, rendered DOM, raw markup. The first
// strategy yielding raw items wins.
type Cascade struct {
	driver        browser.Driver
	gate          ResumeGate
	logger        *slog.Logger
	endpointHints []string
	nodeSelector  string
	apiTimeout    time.Duration
}

func NewCascade(driver browser.Driver, gate ResumeGate, endpointHints []string, nodeSelector string, apiTimeout time.Duration) *Cascade {
	return &Cascade{
		driver:        driver,
		gate:          gate,
		logger:        slog.Default().With("component", "cascade"),
		endpointHints: endpointHints,
		nodeSelector:  nodeSelector,
		apiTimeout:    apiTimeout,
	}
}

// ExtractPage extracts one page. When every strategy yields zero raw
// items it blocks on the resume gate (operator intervention) and then
// retries the DOM strategy once before giving up on the page.
func (c *Cascade) ExtractPage(ctx context.Context, keyword string, page int) (PageResult, error) {
	if res, ok := c.tryAPI(keyword, page); ok {
		return res, nil
	}
	if res, ok := c.tryDOM(keyword, page); ok {
		return res, nil
	}
	if res, ok := c.tryChunks(keyword, page); ok {
		return res, nil
	}

	c.logger.Warn("all strategies yielded zero raw items, waiting for operator",
		"keyword", keyword, "page", page)
	if err := c.gate.Wait(ctx); err != nil {
		return PageResult{Source: SourceDOM}, err
	}

	res, _ := c.tryDOM(keyword, page)
	return res, nil
}

func (c *Cascade) tryAPI(keyword string, page int) (PageResult, bool) {
	body, ok := c.driver.InterceptedResponse(c.endpointHints, c.apiTimeout)
	if !ok {
		return PageResult{}, false
	}

	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		c.logger.Debug("intercepted response is not JSON", "error", err)
		return PageResult{}, false
	}

	items := jsontree.FindProducts(tree)
	if len(items) == 0 {
		return PageResult{}, false
	}

	res := PageResult{Source: SourceAPI, RawCount: len(items)}
	for _, item := range items {
		rec, ok := Normalize(RawItem{Source: SourceAPI, API: item}, keyword, page)
		if !ok {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	c.logResult(keyword, page, res)
	return res, true
}

func (c *Cascade) tryDOM(keyword string, page int) (PageResult, bool) {
	var visible []browser.NodeHandle
	for _, node := range c.driver.Nodes(c.nodeSelector) {
		// Zero-height nodes are hidden or lazy-load placeholders.
		if node.VisibleHeight() > 0 {
			visible = append(visible, node)
		}
	}
	if len(visible) == 0 {
		return PageResult{Source: SourceDOM}, false
	}

	res := PageResult{Source: SourceDOM, RawCount: len(visible)}
	for _, node := range visible {
		rec, ok := Normalize(RawItem{Source: SourceDOM, DOM: node}, keyword, page)
		if !ok {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	c.logResult(keyword, page, res)
	return res, true
}

func (c *Cascade) tryChunks(keyword string, page int) (PageResult, bool) {
	markup := c.driver.Markup()
	if markup == "" {
		return PageResult{}, false
	}

	var chunks []string
	for _, loc := range chunkAnchorPattern.FindAllStringIndex(markup, -1) {
		start := loc[0] - chunkBefore
		if start < 0 {
			start = 0
		}
		end := loc[0] + chunkAfter
		if end > len(markup) {
			end = len(markup)
		}
		chunks = append(chunks, markup[start:end])
	}
	if len(chunks) == 0 {
		return PageResult{}, false
	}

	res := PageResult{Source: SourceRaw, RawCount: len(chunks)}
	for _, chunk := range chunks {
		rec, ok := Normalize(RawItem{Source: SourceRaw, Chunk: chunk}, keyword, page)
		if !ok {
			res.Dropped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	c.logResult(keyword, page, res)
	return res, true
}

func (c *Cascade) logResult(keyword string, page int, res PageResult) {
	c.logger.Info("page extracted",
		"keyword", keyword,
		"page", page,
		"source", res.Source.String(),
		"raw", res.RawCount,
		"valid", len(res.Records),
		"dropped", res.Dropped)
}
