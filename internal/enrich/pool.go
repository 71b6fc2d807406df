package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/partsradar/jdharvest/internal/metrics"
	"github.com/partsradar/jdharvest/internal/models"
	"github.com/partsradar/jdharvest/internal/sink"
)

// Pool runs the enrichment pass with a fixed worker count. Every task
// is written to the output sink exactly once, enrichment success or
// not: a failed lookup degrades the record, it never loses it.
type Pool struct {
	client  *SummaryClient
	out     *sink.Sink
	workers int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPool(client *SummaryClient, out *sink.Sink, workers int, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		client:  client,
		out:     out,
		workers: workers,
		metrics: m,
		logger:  slog.Default().With("component", "enrich_pool"),
	}
}

// Stats summarizes one enrichment run.
type Stats struct {
	Enriched      int
	PassedThrough int
	Skipped       int
}

// Run enriches records whose SKU is not yet in the ledger. The ledger
// is the set of SKUs already present in the output file, so re-running
// after an interruption only processes what is missing. Duplicate SKUs
// within the input are written once.
func (p *Pool) Run(ctx context.Context, records []*models.ProductRecord, ledger map[string]struct{}) (Stats, error) {
	var stats Stats

	seen := make(map[string]struct{}, len(ledger))
	for sku := range ledger {
		seen[sku] = struct{}{}
	}

	var tasks []*models.ProductRecord
	for _, rec := range records {
		if rec.SKU != "" {
			if _, done := seen[rec.SKU]; done {
				stats.Skipped++
				p.metrics.IncEnrich("skipped")
				continue
			}
			seen[rec.SKU] = struct{}{}
		}
		tasks = append(tasks, rec)
	}

	runID := uuid.NewString()
	p.logger.Info("starting enrichment", "run_id", runID, "tasks", len(tasks), "skipped", stats.Skipped, "workers", p.workers)
	if len(tasks) == 0 {
		return stats, nil
	}

	var (
		enriched int64
		passed   int64
		written  int64
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)

	taskCh := make(chan *models.ProductRecord)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range taskCh {
				if p.process(ctx, rec) {
					atomic.AddInt64(&enriched, 1)
					p.metrics.IncEnrich("enriched")
				} else {
					atomic.AddInt64(&passed, 1)
					p.metrics.IncEnrich("passthrough")
				}

				if err := p.out.AppendRecords([]*models.ProductRecord{rec}); err != nil {
					errOnce.Do(func() { firstErr = fmt.Errorf("failed to write enriched record: %w", err) })
					continue
				}

				if n := atomic.AddInt64(&written, 1); n%50 == 0 {
					p.logger.Info("enrichment progress", "written", n, "total", len(tasks))
				}
			}
		}()
	}

feed:
	for _, rec := range tasks {
		select {
		case <-ctx.Done():
			break feed
		case taskCh <- rec:
		}
	}
	close(taskCh)
	wg.Wait()

	stats.Enriched = int(atomic.LoadInt64(&enriched))
	stats.PassedThrough = int(atomic.LoadInt64(&passed))

	if firstErr != nil {
		return stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	p.logger.Info("enrichment finished",
		"enriched", stats.Enriched, "passthrough", stats.PassedThrough, "skipped", stats.Skipped)
	return stats, nil
}

// process fills the record's missing fields in place and reports
// whether a lookup actually changed anything. Records that are already
// complete, have no SKU, or whose lookup fails pass through as-is.
func (p *Pool) process(ctx context.Context, rec *models.ProductRecord) bool {
	if rec.URL == "" && rec.SKU != "" {
		rec.URL = fmt.Sprintf(models.ItemURLTemplate, rec.SKU)
	}

	if rec.SKU == "" || !rec.NeedsEnrichment() {
		return false
	}

	summary, err := p.client.Fetch(ctx, rec.SKU)
	if err != nil {
		p.logger.Warn("summary lookup failed, passing record through", "sku", rec.SKU, "error", err)
		return false
	}

	changed := false
	if rec.Rating == "" && summary.Rating != "" {
		rec.Rating = summary.Rating
		changed = true
	}
	sales := rec.SalesOrReviews
	if (sales == "" || sales == "0") && summary.SalesOrReviews != "" {
		rec.SalesOrReviews = summary.SalesOrReviews
		changed = true
	}
	return changed
}
