// Package collect drives the listing phase: the keyword × page loop
// over the page driver, feeding the extraction cascade and
// checkpointing each keyword once its records are durably flushed.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/partsradar/jdharvest/internal/browser"
	"github.com/partsradar/jdharvest/internal/config"
	"github.com/partsradar/jdharvest/internal/extract"
	"github.com/partsradar/jdharvest/internal/metrics"
	"github.com/partsradar/jdharvest/internal/models"
	"github.com/partsradar/jdharvest/internal/ratelimit"
	"github.com/partsradar/jdharvest/internal/sink"
	"github.com/partsradar/jdharvest/internal/worklist"
)

type Orchestrator struct {
	driver  browser.Driver
	cascade *extract.Cascade
	work    *worklist.WorkList
	out     *sink.Sink
	gate    extract.ResumeGate
	limiter ratelimit.RateLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     config.CollectConfig

	scrollPause time.Duration
	settlePause time.Duration
}

func NewOrchestrator(
	driver browser.Driver,
	cascade *extract.Cascade,
	work *worklist.WorkList,
	out *sink.Sink,
	gate extract.ResumeGate,
	limiter ratelimit.RateLimiter,
	m *metrics.Metrics,
	cfg config.CollectConfig,
) *Orchestrator {
	return &Orchestrator{
		driver:  driver,
		cascade: cascade,
		work:    work,
		out:     out,
		gate:    gate,
		limiter: limiter,
		metrics: m,
		logger:  slog.Default().With("component", "orchestrator"),
		cfg:     cfg,

		scrollPause: 1500 * time.Millisecond,
		settlePause: time.Second,
	}
}

// Run processes every keyword left in the work list. Per keyword:
// NAVIGATE → WAIT_FOR_CONTENT (with CHALLENGE_PAUSE) → extract/advance
// per page → FLUSH → CHECKPOINT. A crash between FLUSH and CHECKPOINT
// re-processes the keyword on restart; duplicates are tolerated
// downstream, lost records are not.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID := uuid.NewString()
	keywords := o.work.Keywords()
	o.logger.Info("starting collection run", "run_id", runID, "keywords", len(keywords))

	total := 0
	for i, keyword := range keywords {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o.logger.Info("collecting keyword", "run_id", runID, "keyword", keyword, "position", fmt.Sprintf("%d/%d", i+1, len(keywords)))

		records, err := o.collectKeyword(ctx, keyword)
		if err != nil {
			// Flush what the keyword produced before failing; the
			// keyword itself stays in the work file for the next run.
			if ferr := o.out.AppendRecords(records); ferr != nil {
				o.logger.Error("failed to flush partial records", "keyword", keyword, "error", ferr)
			}
			return err
		}

		// FLUSH before CHECKPOINT: the keyword leaves the work file
		// only once its records are on disk.
		if err := o.out.AppendRecords(records); err != nil {
			return fmt.Errorf("failed to flush records for %q: %w", keyword, err)
		}
		if err := o.work.Remove(keyword); err != nil {
			return fmt.Errorf("failed to checkpoint keyword %q: %w", keyword, err)
		}
		o.metrics.IncKeyword()
		total += len(records)

		o.logger.Info("keyword completed", "keyword", keyword, "records", len(records))

		if i < len(keywords)-1 {
			if err := sleepCtx(ctx, o.cfg.KeywordDelay); err != nil {
				return err
			}
		}
	}

	o.logger.Info("collection run finished", "run_id", runID, "records", total)
	return nil
}

// collectKeyword runs the page loop for one keyword. Page-driver
// trouble on a single page is not retried beyond the cascade's own
// pause-and-retry; the keyword just ends early with whatever was
// collected so far.
func (o *Orchestrator) collectKeyword(ctx context.Context, keyword string) ([]*models.ProductRecord, error) {
	o.driver.DiscardIntercepted()

	searchURL := fmt.Sprintf(o.cfg.SearchURLTemplate, url.QueryEscape(keyword))
	if err := o.driver.Navigate(searchURL); err != nil {
		// Losing the page driver is not recoverable from here, and
		// checkpointing a keyword that produced nothing would drop it
		// silently. Fail the run and leave the keyword in the file.
		return nil, fmt.Errorf("navigation failed for %q: %w", keyword, err)
	}

	if err := o.waitForContent(ctx); err != nil {
		return nil, err
	}

	var records []*models.ProductRecord
	for page := 1; page <= o.cfg.Pages; page++ {
		if err := o.revealPage(ctx); err != nil {
			return records, err
		}

		res, err := o.cascade.ExtractPage(ctx, keyword, page)
		if err != nil {
			return records, err
		}
		o.metrics.IncPage(res.Source.String())
		o.metrics.AddRecords(len(res.Records), res.Dropped)
		records = append(records, res.Records...)

		if page == o.cfg.Pages {
			break
		}

		o.driver.DiscardIntercepted()
		if !o.advancePage() {
			o.logger.Info("no next page", "keyword", keyword, "last_page", page)
			break
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return records, err
		}
	}

	return records, nil
}

// waitForContent polls for the first identifier-marked node. On timeout
// it checks for a challenge indicator and blocks on the gate until the
// operator clears it, then proceeds regardless.
func (o *Orchestrator) waitForContent(ctx context.Context) error {
	if o.driver.WaitForSelector(o.cfg.NodeSelector, o.cfg.ContentWaitTimeout) {
		return nil
	}

	for o.challengePresent() {
		o.logger.Warn("challenge detected, waiting for operator", "url", o.driver.CurrentURL())
		o.metrics.IncPause()
		if err := o.gate.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) challengePresent() bool {
	if strings.Contains(o.driver.CurrentURL(), o.cfg.ChallengeHost) {
		return true
	}
	return len(o.driver.Nodes(o.cfg.ChallengeSelector)) > 0
}

// revealPage triggers lazy loading: full scrolls to the bottom, then a
// partial scroll back to stabilize the layout. Strategies 2 and 3 only
// see fully rendered content after this.
func (o *Orchestrator) revealPage(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		o.driver.ScrollToBottom()
		if err := sleepCtx(ctx, o.scrollPause); err != nil {
			return err
		}
	}
	o.driver.ScrollUp(300)
	return sleepCtx(ctx, o.settlePause)
}

// advancePage locates and clicks the next-page control. A missing or
// disabled control is the natural end of results, not an error.
func (o *Orchestrator) advancePage() bool {
	nodes := o.driver.Nodes(o.cfg.NextPageSelector)
	if len(nodes) == 0 {
		return false
	}

	next := nodes[0]
	if strings.Contains(next.Attribute("class"), "disabled") {
		return false
	}

	if err := o.driver.Click(next); err != nil {
		o.logger.Warn("failed to click next page", "error", err)
		return false
	}

	// Best effort: give the new page a chance to render before the
	// next extraction pass.
	o.driver.WaitForSelector(o.cfg.NodeSelector, o.cfg.ContentWaitTimeout)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
