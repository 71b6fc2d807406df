package models

import (
	"strconv"
	"strings"
	"time"
)

// SKUGuardPrefix is prepended to SKUs when they are persisted as text.
// Spreadsheet tools reinterpret long digit runs as numbers and mangle
// them; the legacy data files use a leading tab to prevent that, so we
// keep writing it and strip it on every read path.
const SKUGuardPrefix = "\t"

// ItemURLTemplate derives a product page URL from a SKU.
const ItemURLTemplate = "https://item.jd.com/%s.html"

// ProductRecord is one observed product occurrence on a search page.
// SKU is the natural key but uniqueness is not enforced: the same
// product showing up on several pages produces several records.
type ProductRecord struct {
	CollectedAt    time.Time
	Keyword        string
	Page           int
	SKU            string
	Title          string
	Price          string
	Shop           string
	SalesOrReviews string
	Rating         string
	URL            string
}

// Columns is the fixed header order of the delimited output files.
var Columns = []string{
	"collected_at", "keyword", "page", "sku", "title",
	"price", "shop", "sales_or_reviews", "rating", "url",
}

// Row renders the record in Columns order. The SKU carries the guard
// prefix so spreadsheet tools keep it textual.
func (r *ProductRecord) Row() []string {
	sku := r.SKU
	if sku != "" {
		sku = SKUGuardPrefix + sku
	}
	return []string{
		r.CollectedAt.Format("2006-01-02 15:04:05"),
		r.Keyword,
		strconv.Itoa(r.Page),
		sku,
		r.Title,
		r.Price,
		r.Shop,
		r.SalesOrReviews,
		r.Rating,
		r.URL,
	}
}

// RecordFromRow rebuilds a record from a delimited row using the header
// that was actually present in the file. Unknown columns are ignored and
// missing ones stay zero-valued.
func RecordFromRow(header, row []string) *ProductRecord {
	get := func(name string) string {
		for i, h := range header {
			if h == name && i < len(row) {
				return row[i]
			}
		}
		return ""
	}

	r := &ProductRecord{
		Keyword:        get("keyword"),
		SKU:            TrimSKU(get("sku")),
		Title:          get("title"),
		Price:          get("price"),
		Shop:           get("shop"),
		SalesOrReviews: get("sales_or_reviews"),
		Rating:         get("rating"),
		URL:            get("url"),
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", get("collected_at")); err == nil {
		r.CollectedAt = ts
	}
	if p, err := strconv.Atoi(get("page")); err == nil {
		r.Page = p
	}
	return r
}

// TrimSKU strips the guard prefix and surrounding whitespace.
func TrimSKU(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, SKUGuardPrefix))
}

// SanitizePrice keeps only digits and the first decimal point. It is
// idempotent: applying it to an already sanitized value is a no-op.
func SanitizePrice(s string) string {
	var b strings.Builder
	dot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' && !dot:
			dot = true
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NeedsEnrichment reports whether the record is missing the fields the
// enrichment pass can fill. A sales value of literally "0" is treated
// as unknown rather than a confirmed zero, matching the collector's
// placeholder convention.
func (r *ProductRecord) NeedsEnrichment() bool {
	if strings.TrimSpace(r.Rating) == "" {
		return true
	}
	sales := strings.TrimSpace(r.SalesOrReviews)
	return sales == "" || sales == "0"
}
