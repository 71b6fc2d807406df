package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowRoundTrip(t *testing.T) {
	rec := &ProductRecord{
		CollectedAt:    time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
		Keyword:        "机油滤清器",
		Page:           3,
		SKU:            "100012043978",
		Title:          "博世机油滤芯",
		Price:          "45.90",
		Shop:           "博世汽车配件旗舰店",
		SalesOrReviews: "2万+",
		Rating:         "4.9",
		URL:            "https://item.jd.com/100012043978.html",
	}

	row := rec.Row()
	require.Len(t, row, len(Columns))
	// The persisted SKU carries the guard prefix.
	assert.Equal(t, "\t100012043978", row[3])

	got := RecordFromRow(Columns, row)
	assert.Equal(t, rec.SKU, got.SKU)
	assert.Equal(t, rec.Keyword, got.Keyword)
	assert.Equal(t, rec.Page, got.Page)
	assert.Equal(t, rec.Price, got.Price)
	assert.Equal(t, rec.Rating, got.Rating)
	assert.True(t, rec.CollectedAt.Equal(got.CollectedAt))
}

func TestRecordFromRowToleratesShortRows(t *testing.T) {
	got := RecordFromRow([]string{"keyword", "sku", "title"}, []string{"k", "\t123456"})
	assert.Equal(t, "123456", got.SKU)
	assert.Equal(t, "", got.Title)
}

func TestTrimSKU(t *testing.T) {
	assert.Equal(t, "100001", TrimSKU("\t100001"))
	assert.Equal(t, "100001", TrimSKU("  100001  "))
	assert.Equal(t, "100001", TrimSKU("\t 100001 "))
	assert.Equal(t, "", TrimSKU("\t"))
}

func TestSanitizePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"¥45.90", "45.90"},
		{"￥ 1299.00 起", "1299.00"},
		{"12.5.3", "12.53"},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizePrice(tt.in), "input %q", tt.in)
	}
}

func TestSanitizePriceIdempotent(t *testing.T) {
	inputs := []string{"¥45.90", "1299", "12.5.3", "价格：88元"}
	for _, in := range inputs {
		once := SanitizePrice(in)
		assert.Equal(t, once, SanitizePrice(once), "input %q", in)
	}
}

func TestNeedsEnrichment(t *testing.T) {
	tests := []struct {
		name string
		rec  ProductRecord
		want bool
	}{
		{"complete", ProductRecord{Rating: "4.5", SalesOrReviews: "120"}, false},
		{"missing rating", ProductRecord{SalesOrReviews: "120"}, true},
		{"missing sales", ProductRecord{Rating: "4.5"}, true},
		{"zero sales is a placeholder", ProductRecord{Rating: "4.5", SalesOrReviews: "0"}, true},
		{"whitespace rating", ProductRecord{Rating: "  ", SalesOrReviews: "120"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.NeedsEnrichment())
		})
	}
}
