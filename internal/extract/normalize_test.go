package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNode struct {
	attrs      map[string]string
	text       string
	childText  map[string]string
	childAttrs map[string]string
	height     float64
}

func (n *stubNode) Attribute(name string) string { return n.attrs[name] }
func (n *stubNode) Text() string                 { return n.text }
func (n *stubNode) ChildText(selector string) string {
	return n.childText[selector]
}
func (n *stubNode) ChildAttribute(selector, attribute string) string {
	return n.childAttrs[selector+"/"+attribute]
}
func (n *stubNode) VisibleHeight() float64 { return n.height }

func TestNormalizeAPI(t *testing.T) {
	item := RawItem{
		Source: SourceAPI,
		API: map[string]any{
			"skuId":        float64(100012043978),
			"wname":        "汽车机油滤清器 适配大众",
			"jdPrice":      "￥45.90",
			"goodShop":     map[string]any{"goodShopName": "博世汽车配件旗舰店"},
			"commentCount": "2万+",
			"score":        "4.9",
		},
	}

	rec, ok := Normalize(item, "机油滤清器", 3)
	require.True(t, ok)
	assert.Equal(t, "100012043978", rec.SKU)
	assert.Equal(t, "汽车机油滤清器 适配大众", rec.Title)
	assert.Equal(t, "45.90", rec.Price)
	assert.Equal(t, "博世汽车配件旗舰店", rec.Shop)
	assert.Equal(t, "2万+", rec.SalesOrReviews)
	assert.Equal(t, "4.9", rec.Rating)
	assert.Equal(t, "https://item.jd.com/100012043978.html", rec.URL)
	assert.Equal(t, "机油滤清器", rec.Keyword)
	assert.Equal(t, 3, rec.Page)
}

func TestNormalizeAPIAliasFallbacks(t *testing.T) {
	item := RawItem{
		Source: SourceAPI,
		API: map[string]any{
			"sku":      "200001",
			"wareName": "Widget",
			"price":    float64(12.5),
			"shopName": "Some Shop",
		},
	}

	rec, ok := Normalize(item, "widget", 1)
	require.True(t, ok)
	assert.Equal(t, "200001", rec.SKU)
	assert.Equal(t, "Widget", rec.Title)
	assert.Equal(t, "12.5", rec.Price)
	assert.Equal(t, "Some Shop", rec.Shop)
	// Missing sales is the "0" placeholder, marking it for enrichment.
	assert.Equal(t, "0", rec.SalesOrReviews)
	assert.True(t, rec.NeedsEnrichment())
}

func TestNormalizeAPIDefaultsShopToMarketplace(t *testing.T) {
	rec, ok := Normalize(RawItem{Source: SourceAPI, API: map[string]any{"skuId": "1"}}, "k", 1)
	require.True(t, ok)
	assert.Equal(t, "京东", rec.Shop)
}

func TestNormalizeRejectsEmptyIdentifier(t *testing.T) {
	tests := []struct {
		name string
		item RawItem
	}{
		{"api missing sku", RawItem{Source: SourceAPI, API: map[string]any{"wname": "x"}}},
		{"api whitespace sku", RawItem{Source: SourceAPI, API: map[string]any{"skuId": "   "}}},
		{"chunk without anchor", RawItem{Source: SourceRaw, Chunk: `<div class="p-price">¥9.90</div>`}},
		{"dom without attribute", RawItem{Source: SourceDOM, DOM: &stubNode{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Normalize(tt.item, "k", 1)
			assert.False(t, ok)
			assert.Nil(t, rec)
		})
	}
}

func TestNormalizeDOM(t *testing.T) {
	node := &stubNode{
		attrs: map[string]string{"data-sku": "\t 300055"},
		text:  "进店\n博世汽车配件旗舰店\n¥89.00\n已有5000人评价\n9.6分",
		childText: map[string]string{
			".p-price":  "¥ 89.00",
			".p-commit": "已有5000人评价",
			".p-shop a": "博世汽车配件旗舰店",
		},
		childAttrs: map[string]string{"img/alt": "博世机油滤芯 0986AF0065"},
		height:     220,
	}

	rec, ok := Normalize(RawItem{Source: SourceDOM, DOM: node}, "机油滤芯", 2)
	require.True(t, ok)
	// Guard prefix and whitespace stripped from the attribute value.
	assert.Equal(t, "300055", rec.SKU)
	assert.Equal(t, "博世机油滤芯 0986AF0065", rec.Title)
	assert.Equal(t, "89.00", rec.Price)
	assert.Equal(t, "5000", rec.SalesOrReviews)
	assert.Equal(t, "博世汽车配件旗舰店", rec.Shop)
}

func TestNormalizeChunk(t *testing.T) {
	chunk := `<li data-sku="100012043978" class="gl-item">
		<div class="p-img"><img title="汽车空调滤芯 活性炭" src="x.jpg"></div>
		<div class="p-price"><em>¥</em><i>59.90</i>¥ 59.90</div>
		<div class="p-commit">2万+条评价</div>
		<div class="p-shop"><a>马勒汽车配件专营店</a></div>`

	rec, ok := Normalize(RawItem{Source: SourceRaw, Chunk: chunk}, "空调滤芯", 1)
	require.True(t, ok)
	assert.Equal(t, "100012043978", rec.SKU)
	assert.Equal(t, "汽车空调滤芯 活性炭", rec.Title)
	assert.Equal(t, "59.90", rec.Price)
	assert.Equal(t, "2万+", rec.SalesOrReviews)
	assert.Equal(t, "马勒汽车配件专营店", rec.Shop)
}

func TestNormalizeChunkTagTextRecovery(t *testing.T) {
	// No title attribute anywhere; the em text inside p-name is the only
	// usable title.
	chunk := `<li data-sku="555001"><div class="p-name"><em>大灯灯泡 H7 12V</em></div>
		<div class="p-shop"><a>欧司朗官方店</a></div>`

	rec, ok := Normalize(RawItem{Source: SourceRaw, Chunk: chunk}, "大灯", 1)
	require.True(t, ok)
	assert.Equal(t, "大灯灯泡 H7 12V", rec.Title)
	assert.Equal(t, "欧司朗官方店", rec.Shop)
}

func TestExtractReviewCount(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"1.2万+条评价", "1.2万+"},
		{"200+条评价", "200+"},
		{"已有3000人评价", "3000"},
		{"评论数: 450", "450"},
		{"销量 5万+", "5万+"},
		{`"commentCount":"1234"`, "1234"},
		{"no numbers here", "0"},
		{"", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractReviewCount(tt.text), "input %q", tt.text)
	}
}

func TestExtractRating(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"9.6分", "9.6"},
		{"好评率 98%", "4.9"},
		{"好评率98%", "4.9"},
		{`"score": "4.7"`, "4.7"},
		{"nothing", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractRating(tt.text), "input %q", tt.text)
	}
}

func TestSourceString(t *testing.T) {
	assert.Equal(t, "api", SourceAPI.String())
	assert.Equal(t, "dom", SourceDOM.String())
	assert.Equal(t, "raw", SourceRaw.String())
}
