// Package extract turns raw page material into product records. Raw
// items arrive in three incompatible shapes (decoded API payloads, live
// DOM handles, raw markup chunks) and every shape funnels through the
// same normalizer contract.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/partsradar/jdharvest/internal/browser"
	"github.com/partsradar/jdharvest/internal/models"
)

// Source tags where a raw item came from.
type Source int

const (
	SourceAPI Source = iota
	SourceDOM
	SourceRaw
)

func (s Source) String() string {
	switch s {
	case SourceAPI:
		return "api"
	case SourceDOM:
		return "dom"
	case SourceRaw:
		return "raw"
	}
	return "unknown"
}

// RawItem is the tagged union fed to Normalize. Exactly one of the
// payload fields is set, matching Source.
type RawItem struct {
	Source Source
	API    map[string]any
	DOM    browser.NodeHandle
	Chunk  string
}

// Field alias lists, in priority order. Reverse-engineered from
// observed payload variants; first non-empty alias wins.
var (
	apiIdentifierKeys = []string{"skuId", "sku"}
	apiTitleKeys      = []string{"wname", "wareName", "title", "name"}
	apiPriceKeys      = []string{"jdPrice", "price"}
	apiShopKeys       = []string{"shopName", "shop_name"}
	apiSalesKeys      = []string{"commentCount", "comments"}
	apiRatingKeys     = []string{"score", "rating", "goodRate"}
)

var (
	skuAttrPattern   = regexp.MustCompile(`data-sku="(\d+)"`)
	titleAttrPattern = regexp.MustCompile(`title="([^"]+)"`)
	currencyPattern  = regexp.MustCompile(`[¥￥]\s*(\d+(?:\.\d+)?)`)
	priceBoxPattern  = regexp.MustCompile(`[¥￥]?\s*(\d+(?:\.\d+)?)`)
	rawPricePattern  = regexp.MustCompile(`class="p-price".*?(\d+\.\d+)`)
	shopNamePattern  = regexp.MustCompile(`([^\s<>"]+?(?:旗舰店|专营店|官方店|自营))`)
	shopNoisePattern = regexp.MustCompile(`(进店|关注|自营)`)

	reviewSuffixPattern  = regexp.MustCompile(`(\d+\.?\d*万?\+?)(?:条)?评价`)
	reviewPeoplePattern  = regexp.MustCompile(`(?:已有)?(\d+)人评价`)
	reviewLabeledPattern = regexp.MustCompile(`评论[数量]?\s*[:：]?\s*(\d+)`)
	reviewWanPattern     = regexp.MustCompile(`(\d+\.?\d*万\+?)`)
	reviewJSONPattern    = regexp.MustCompile(`commentCount["']?\s*[:：]\s*["']?(\d+)`)

	ratingScorePattern   = regexp.MustCompile(`(\d+\.?\d*)分`)
	ratingPercentPattern = regexp.MustCompile(`好评率?\s*[:：]?\s*(\d+)%`)
	ratingLabeledPattern = regexp.MustCompile(`(?i)(?:评分|score)["']?\s*[:：]\s*["']?(\d+\.?\d*)`)
)

const defaultShop = "京东"

// Normalize maps one raw item to a record. It returns false whenever
// the identifier trims to empty: a record without a SKU carries no
// downstream value and must never reach the sink. Any other missing
// field is left empty and the record still flows forward.
func Normalize(item RawItem, keyword string, page int) (*models.ProductRecord, bool) {
	rec := &models.ProductRecord{
		CollectedAt: time.Now(),
		Keyword:     keyword,
		Page:        page,
	}

	switch item.Source {
	case SourceAPI:
		normalizeAPI(item.API, rec)
	case SourceDOM:
		normalizeDOM(item.DOM, rec)
	case SourceRaw:
		normalizeChunk(item.Chunk, rec)
	}

	rec.SKU = models.TrimSKU(rec.SKU)
	if rec.SKU == "" {
		return nil, false
	}

	rec.Price = models.SanitizePrice(rec.Price)
	rec.Title = strings.TrimSpace(rec.Title)
	rec.Shop = strings.TrimSpace(rec.Shop)
	rec.URL = fmt.Sprintf(models.ItemURLTemplate, rec.SKU)
	return rec, true
}

func normalizeAPI(m map[string]any, rec *models.ProductRecord) {
	rec.SKU = firstField(m, apiIdentifierKeys)
	rec.Title = firstField(m, apiTitleKeys)
	rec.Price = firstField(m, apiPriceKeys)

	rec.Shop = nestedShop(m)
	if rec.Shop == "" {
		rec.Shop = firstField(m, apiShopKeys)
	}
	if rec.Shop == "" {
		rec.Shop = defaultShop
	}

	rec.SalesOrReviews = firstField(m, apiSalesKeys)
	if rec.SalesOrReviews == "" {
		rec.SalesOrReviews = "0"
	}
	rec.Rating = firstField(m, apiRatingKeys)
}

func normalizeDOM(node browser.NodeHandle, rec *models.ProductRecord) {
	rec.SKU = node.Attribute("data-sku")

	fullText := node.Text()

	rec.Title = strings.TrimSpace(node.ChildAttribute("img", "alt"))
	if rec.Title == "" {
		rec.Title = strings.TrimSpace(node.ChildText(".p-name em"))
	}
	if len(rec.Title) < 3 {
		rec.Title = longestTitleLine(fullText)
	}

	if m := priceBoxPattern.FindStringSubmatch(node.ChildText(".p-price")); m != nil {
		rec.Price = m[1]
	} else if m := currencyPattern.FindStringSubmatch(fullText); m != nil {
		rec.Price = m[1]
	}

	commitText := node.ChildText(".p-commit")
	rec.SalesOrReviews = extractReviewCount(commitText)
	if rec.SalesOrReviews == "0" {
		rec.SalesOrReviews = extractReviewCount(fullText)
	}
	if rec.SalesOrReviews == "0" {
		if attr := node.Attribute("data-comment"); attr != "" {
			rec.SalesOrReviews = attr
		}
	}

	rec.Rating = extractRating(node.ChildText(".p-score"))
	if rec.Rating == "" {
		rec.Rating = extractRating(commitText)
	}
	if rec.Rating == "" {
		rec.Rating = extractRating(fullText)
	}
	if rec.Rating == "" {
		rec.Rating = node.Attribute("data-score")
	}

	rec.Shop = strings.TrimSpace(node.ChildText(".p-shop a"))
	if rec.Shop == "" {
		rec.Shop = strings.TrimSpace(shopNoisePattern.ReplaceAllString(node.ChildText(".p-shop"), ""))
	}
	if rec.Shop == "" {
		if m := shopNamePattern.FindStringSubmatch(fullText); m != nil {
			rec.Shop = m[1]
		}
	}
	if rec.Shop == "" {
		rec.Shop = defaultShop
	}
}

func normalizeChunk(chunk string, rec *models.ProductRecord) {
	if m := skuAttrPattern.FindStringSubmatch(chunk); m != nil {
		rec.SKU = m[1]
	}

	if m := titleAttrPattern.FindStringSubmatch(chunk); m != nil {
		rec.Title = m[1]
	}

	if m := currencyPattern.FindStringSubmatch(chunk); m != nil {
		rec.Price = m[1]
	} else if m := rawPricePattern.FindStringSubmatch(chunk); m != nil {
		rec.Price = m[1]
	}

	rec.SalesOrReviews = extractReviewCount(chunk)
	rec.Rating = extractRating(chunk)

	// The chunk is a bounded slice of markup, usually with broken tags
	// at both ends. goquery tolerates that, so tag-text recovery for
	// the fields the attribute regexes missed goes through it.
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(chunk)); err == nil {
		if rec.Title == "" {
			rec.Title = strings.TrimSpace(doc.Find(".p-name em").First().Text())
		}
		if rec.Title == "" {
			rec.Title = strings.TrimSpace(doc.Find("em").First().Text())
		}
		rec.Shop = strings.TrimSpace(doc.Find(".p-shop a").First().Text())
	}
	if rec.Shop == "" {
		if m := shopNamePattern.FindStringSubmatch(chunk); m != nil {
			rec.Shop = m[1]
		}
	}
	if rec.Shop == "" {
		rec.Shop = defaultShop
	}
}

// firstField reads the first non-empty alias, coercing JSON numbers to
// their shortest decimal form.
func firstField(m map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := coerceString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func nestedShop(m map[string]any) string {
	gs, ok := m["goodShop"].(map[string]any)
	if !ok {
		return ""
	}
	return coerceString(gs["goodShopName"])
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool, nil:
		return ""
	default:
		return ""
	}
}

// extractReviewCount recovers a review/sales count from rendered text.
// Counts come in several textual forms ("1.2万+条评价", "已有3000人评价",
// bare "5万+"); "0" means nothing matched.
func extractReviewCount(text string) string {
	if text == "" {
		return "0"
	}
	if m := reviewSuffixPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reviewPeoplePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reviewLabeledPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reviewWanPattern.FindStringSubmatch(text); m != nil && strings.Contains(m[1], "万") {
		return m[1]
	}
	if m := reviewJSONPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return "0"
}

// extractRating recovers a 0-5 rating from rendered text. A bare
// percentage ("好评率 98%") is converted to the 5-point scale.
func extractRating(text string) string {
	if text == "" {
		return ""
	}
	if m := ratingScorePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := ratingPercentPattern.FindStringSubmatch(text); m != nil {
		percent, err := strconv.Atoi(m[1])
		if err == nil {
			return strconv.FormatFloat(float64(percent)*5/100, 'f', 1, 64)
		}
	}
	if m := ratingLabeledPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func longestTitleLine(text string) string {
	best := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 8 && !strings.ContainsAny(line, "¥￥") && len(line) > len(best) {
			best = line
		}
	}
	return best
}
