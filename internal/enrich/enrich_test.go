package enrich

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsradar/jdharvest/internal/config"
	"github.com/partsradar/jdharvest/internal/models"
	"github.com/partsradar/jdharvest/internal/sink"
)

func testEnrichConfig() config.EnrichConfig {
	return config.EnrichConfig{
		SummaryURL:     "https://club.example.com/comment/productCommentSummaries.action",
		Workers:        4,
		RequestTimeout: time.Second,
		CacheSize:      64,
		UserAgent:      "test-agent",
		Referer:        "https://item.example.com/",
	}
}

func newMockedClient(t *testing.T) *SummaryClient {
	t.Helper()
	client, err := NewSummaryClient(testEnrichConfig())
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.http)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Summary
	}{
		{
			name: "percent rating converts to five point scale",
			body: `{"CommentsCount":[{"GoodRateShow":96,"CommentCountStr":"200+","CommentCount":214}]}`,
			want: Summary{Rating: "4.8", SalesOrReviews: "200"},
		},
		{
			name: "count string preferred over numeric count",
			body: `{"CommentsCount":[{"GoodRateShow":100,"CommentCountStr":"5万+","CommentCount":50000}]}`,
			want: Summary{Rating: "5.0", SalesOrReviews: "5万"},
		},
		{
			name: "numeric count fallback",
			body: `{"CommentsCount":[{"GoodRateShow":90,"CommentCount":37}]}`,
			want: Summary{Rating: "4.5", SalesOrReviews: "37"},
		},
		{
			name: "empty comments list",
			body: `{"CommentsCount":[]}`,
			want: Summary{},
		},
		{
			name: "zero good rate still converts",
			body: `{"CommentsCount":[{"GoodRateShow":0,"CommentCountStr":"3+"}]}`,
			want: Summary{Rating: "0.0", SalesOrReviews: "3"},
		},
		{
			name: "jsonp wrapped payload",
			body: `jQuery123({"CommentsCount":[{"GoodRateShow":80,"CommentCountStr":"12+"}]});`,
			want: Summary{Rating: "4.0", SalesOrReviews: "12"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSummary([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSummaryRejectsGarbage(t *testing.T) {
	_, err := parseSummary([]byte("<html>blocked</html>"))
	require.Error(t, err)
}

func TestUnwrapJSONP(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(unwrapJSONP([]byte(`cb({"a":1});`))))
	assert.Equal(t, `{"a":1}`, string(unwrapJSONP([]byte(`  {"a":1}`))))
	assert.Equal(t, `[1,2]`, string(unwrapJSONP([]byte(`[1,2]`))))
}

func TestFetchCachesBySKU(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(200, `{"CommentsCount":[{"GoodRateShow":96,"CommentCountStr":"200+"}]}`))

	for i := 0; i < 3; i++ {
		s, err := client.Fetch(context.Background(), "100001")
		require.NoError(t, err)
		assert.Equal(t, "4.8", s.Rating)
	}

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPoolFillsMissingFields(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(200, `{"CommentsCount":[{"GoodRateShow":96,"CommentCountStr":"200+"}]}`))

	outPath := filepath.Join(t.TempDir(), "enriched.csv")
	out := sink.New(outPath, models.Columns)
	pool := NewPool(client, out, 2, nil)

	records := []*models.ProductRecord{
		{SKU: "100001", Title: "Widget", Price: "12.50", SalesOrReviews: "0"},
	}

	stats, err := pool.Run(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enriched)

	got, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4.8", got[0].Rating)
	assert.Equal(t, "200", got[0].SalesOrReviews)
	assert.Equal(t, "https://item.jd.com/100001.html", got[0].URL)
}

func TestPoolPassesRecordThroughOnLookupFailure(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(500, "server error"))

	outPath := filepath.Join(t.TempDir(), "enriched.csv")
	out := sink.New(outPath, models.Columns)
	pool := NewPool(client, out, 2, nil)

	records := []*models.ProductRecord{
		{SKU: "100001", Title: "Widget", Price: "12.50"},
	}

	stats, err := pool.Run(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Enriched)
	assert.Equal(t, 1, stats.PassedThrough)

	// The record survives with its original fields untouched.
	got, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Widget", got[0].Title)
	assert.Equal(t, "", got[0].Rating)
}

func TestPoolSkipsCompleteRecordsWithoutLookup(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(200, `{"CommentsCount":[]}`))

	outPath := filepath.Join(t.TempDir(), "enriched.csv")
	out := sink.New(outPath, models.Columns)
	pool := NewPool(client, out, 2, nil)

	records := []*models.ProductRecord{
		{SKU: "100001", Title: "Widget", Rating: "4.5", SalesOrReviews: "120"},
	}

	stats, err := pool.Run(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PassedThrough)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())

	got, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestPoolLedgerMakesRerunsIdempotent(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(200, `{"CommentsCount":[{"GoodRateShow":96,"CommentCountStr":"200+"}]}`))

	outPath := filepath.Join(t.TempDir(), "enriched.csv")
	out := sink.New(outPath, models.Columns)
	pool := NewPool(client, out, 2, nil)

	records := []*models.ProductRecord{
		{SKU: "100001", Title: "Widget A"},
		{SKU: "100002", Title: "Widget B"},
	}

	ledger, err := sink.CompletedSKUs(outPath)
	require.NoError(t, err)
	_, err = pool.Run(context.Background(), records, ledger)
	require.NoError(t, err)

	first, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Second run with the rebuilt ledger writes nothing new.
	ledger, err = sink.CompletedSKUs(outPath)
	require.NoError(t, err)
	stats, err := pool.Run(context.Background(), records, ledger)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)

	second, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestPoolDeduplicatesWithinRun(t *testing.T) {
	client := newMockedClient(t)
	httpmock.RegisterResponder("GET", `=~^https://club\.example\.com/`,
		httpmock.NewStringResponder(200, `{"CommentsCount":[]}`))

	outPath := filepath.Join(t.TempDir(), "enriched.csv")
	out := sink.New(outPath, models.Columns)
	pool := NewPool(client, out, 2, nil)

	records := []*models.ProductRecord{
		{SKU: "100001", Title: "Widget", Rating: "4.5", SalesOrReviews: "10"},
		{SKU: "100001", Title: "Widget", Rating: "4.5", SalesOrReviews: "10"},
	}

	stats, err := pool.Run(context.Background(), records, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	got, err := sink.ReadRecords(outPath)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
