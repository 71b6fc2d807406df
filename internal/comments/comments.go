// Package comments batch-collects product reviews from the public
// comment endpoint for a list of SKUs, with a JSON progress file so an
// interrupted crawl resumes where it stopped.
package comments

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/partsradar/jdharvest/internal/config"
	"github.com/partsradar/jdharvest/internal/metrics"
	"github.com/partsradar/jdharvest/internal/models"
	"github.com/partsradar/jdharvest/internal/sink"
)

// skuPattern extracts the digit run that is the actual identifier,
// whatever decoration (guard prefix, URL, quotes) surrounds it.
var skuPattern = regexp.MustCompile(`(\d{5,15})`)

// skuColumnAliases are header names the SKU column has been seen under
// in files produced by this pipeline and by hand.
var skuColumnAliases = []string{
	"sku", "SKU", "sku_id", "SKU_ID", "skuId",
	"product_id", "item_id", "id", "ID", "jd_sku",
}

// ReadSKUsFromCSV extracts the unique SKUs from a delimited file. The
// column is found by alias, falling back to the first column; order of
// first appearance is preserved.
func ReadSKUsFromCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sku file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if peek, _ := br.Peek(3); len(peek) == 3 && peek[0] == 0xEF && peek[1] == 0xBB && peek[2] == 0xBF {
		br.Discard(3)
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read sku file header: %w", err)
	}

	idx := 0
	for _, alias := range skuColumnAliases {
		found := false
		for i, h := range header {
			if strings.TrimSpace(h) == alias {
				idx = i
				found = true
				break
			}
		}
		if found {
			break
		}
	}

	var skus []string
	seen := make(map[string]struct{})
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) <= idx {
			continue
		}
		m := skuPattern.FindStringSubmatch(row[idx])
		if m == nil {
			continue
		}
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		skus = append(skus, m[1])
	}
	return skus, nil
}

// Progress is the resumable crawl state, persisted as JSON.
type Progress struct {
	Completed     []string `json:"completed"`
	Failed        []string `json:"failed"`
	TotalComments int      `json:"total_comments"`
}

// LoadProgress reads the progress file. A missing or unreadable file
// yields empty progress, never an error: the crawl just starts over.
func LoadProgress(path string) Progress {
	var p Progress
	data, err := os.ReadFile(path)
	if err != nil {
		return p
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}
	}
	return p
}

// Save writes the progress file atomically via a temp file rename, so
// a crash mid-write never corrupts the resume state.
func (p Progress) Save(path string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace progress file: %w", err)
	}
	return nil
}

type commentPage struct {
	ProductCommentSummary struct {
		ProductName string `json:"productName"`
	} `json:"productCommentSummary"`
	Comments []struct {
		Nickname        string `json:"nickname"`
		Content         string `json:"content"`
		Score           int    `json:"score"`
		CreationTime    string `json:"creationTime"`
		ReferenceTime   string `json:"referenceTime"`
		ProductColor    string `json:"productColor"`
		ProductSize     string `json:"productSize"`
		UserLevelName   string `json:"userLevelName"`
		Topped          int    `json:"topped"`
		ReplyCount      int    `json:"replyCount"`
		UsefulVoteCount int    `json:"usefulVoteCount"`
	} `json:"comments"`
}

// Crawler fetches comment pages per SKU and appends them to the
// comment sink, checkpointing progress as it goes.
type Crawler struct {
	http     *http.Client
	cfg      config.CommentsConfig
	out      *sink.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	progress Progress

	completed map[string]struct{}
	failed    map[string]struct{}
}

func NewCrawler(cfg config.CommentsConfig, out *sink.Sink, m *metrics.Metrics) *Crawler {
	c := &Crawler{
		http:      &http.Client{Timeout: 10 * time.Second},
		cfg:       cfg,
		out:       out,
		metrics:   m,
		logger:    slog.Default().With("component", "comments"),
		progress:  LoadProgress(cfg.ProgressFile),
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
	}
	for _, sku := range c.progress.Completed {
		c.completed[sku] = struct{}{}
	}
	for _, sku := range c.progress.Failed {
		c.failed[sku] = struct{}{}
	}
	return c
}

// Run crawls up to PagesPerSKU comment pages for every SKU not yet
// completed. With retryFailed the previously failed set is tried
// again instead of being skipped.
func (c *Crawler) Run(ctx context.Context, skus []string, retryFailed bool) error {
	if retryFailed {
		c.failed = make(map[string]struct{})
	}

	var pending []string
	for _, sku := range skus {
		if _, done := c.completed[sku]; done {
			continue
		}
		if _, failed := c.failed[sku]; failed && !retryFailed {
			continue
		}
		pending = append(pending, sku)
	}

	c.logger.Info("starting comment crawl",
		"skus", len(pending), "already_completed", len(c.completed), "pages_per_sku", c.cfg.PagesPerSKU)

	for i, sku := range pending {
		select {
		case <-ctx.Done():
			c.saveProgress()
			return ctx.Err()
		default:
		}

		count, err := c.crawlSKU(ctx, sku)
		if err != nil {
			c.saveProgress()
			return err
		}

		if count > 0 {
			c.completed[sku] = struct{}{}
			delete(c.failed, sku)
			c.progress.TotalComments += count
			c.metrics.AddComments(count)
			c.logger.Info("sku crawled", "sku", sku, "comments", count, "position", fmt.Sprintf("%d/%d", i+1, len(pending)))
		} else {
			c.failed[sku] = struct{}{}
			c.logger.Warn("sku yielded no comments", "sku", sku)
		}

		if (i+1)%10 == 0 {
			c.saveProgress()
		}
		if i < len(pending)-1 {
			if err := sleepJitter(ctx, c.cfg.SKUDelayMin, c.cfg.SKUDelayMax); err != nil {
				c.saveProgress()
				return err
			}
		}
	}

	c.saveProgress()
	c.logger.Info("comment crawl finished",
		"completed", len(c.completed), "failed", len(c.failed), "total_comments", c.progress.TotalComments)
	return nil
}

// crawlSKU pages through one SKU's comments until a page comes back
// empty. Pages are flushed to the sink as they arrive.
func (c *Crawler) crawlSKU(ctx context.Context, sku string) (int, error) {
	total := 0
	for page := 0; page < c.cfg.PagesPerSKU; page++ {
		batch, err := c.fetchPage(ctx, sku, page)
		if err != nil {
			c.logger.Debug("comment page fetch failed", "sku", sku, "page", page, "error", err)
			break
		}
		if len(batch) == 0 {
			break
		}

		rows := make([][]string, 0, len(batch))
		for _, cm := range batch {
			rows = append(rows, cm.Row())
		}
		if err := c.out.Append(rows); err != nil {
			return total, err
		}
		total += len(batch)

		if page < c.cfg.PagesPerSKU-1 {
			if err := sleepJitter(ctx, c.cfg.PageDelayMin, c.cfg.PageDelayMax); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Crawler) fetchPage(ctx context.Context, sku string, page int) ([]*models.Comment, error) {
	params := url.Values{}
	params.Set("productId", sku)
	params.Set("score", "0")
	params.Set("sortType", "5")
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", "10")
	params.Set("isShadowSku", "0")
	params.Set("fold", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CommentURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build comment request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Referer", fmt.Sprintf(models.ItemURLTemplate, sku))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comment request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read comment response: %w", err)
	}

	return parseCommentPage(sku, body)
}

// parseCommentPage decodes one comment page, unwrapping the
// fetchJSON_comment98 callback the endpoint wraps its JSON in.
// Comments with empty content are discarded.
func parseCommentPage(sku string, body []byte) ([]*models.Comment, error) {
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "fetchJSON_comment98") {
		open := strings.Index(text, "(")
		closing := strings.LastIndex(text, ")")
		if open >= 0 && closing > open {
			text = text[open+1 : closing]
		}
	}

	var page commentPage
	if err := json.Unmarshal([]byte(text), &page); err != nil {
		return nil, fmt.Errorf("failed to parse comment page: %w", err)
	}

	now := time.Now()
	var out []*models.Comment
	for _, item := range page.Comments {
		content := strings.TrimSpace(strings.ReplaceAll(item.Content, "\n", " "))
		if content == "" {
			continue
		}
		out = append(out, &models.Comment{
			SKU:           sku,
			ProductName:   page.ProductCommentSummary.ProductName,
			Nickname:      item.Nickname,
			Content:       content,
			Score:         item.Score,
			CreationTime:  item.CreationTime,
			ReferenceTime: item.ReferenceTime,
			ProductColor:  item.ProductColor,
			ProductSize:   item.ProductSize,
			UserLevel:     item.UserLevelName,
			Topped:        item.Topped == 1,
			ReplyCount:    item.ReplyCount,
			UsefulVotes:   item.UsefulVoteCount,
			CollectedAt:   now,
		})
	}
	return out, nil
}

func (c *Crawler) saveProgress() {
	p := Progress{TotalComments: c.progress.TotalComments}
	for sku := range c.completed {
		p.Completed = append(p.Completed, sku)
	}
	for sku := range c.failed {
		p.Failed = append(p.Failed, sku)
	}
	if err := p.Save(c.cfg.ProgressFile); err != nil {
		c.logger.Warn("failed to save progress", "error", err)
	}
	c.progress.Completed = p.Completed
	c.progress.Failed = p.Failed
}

func sleepJitter(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
