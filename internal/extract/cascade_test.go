package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partsradar/jdharvest/internal/browser"
)

type cascadeDriver struct {
	apiBody []byte
	nodes   []browser.NodeHandle
	markup  string

	apiCalls    int
	nodesCalls  int
	markupCalls int
}

func (d *cascadeDriver) Navigate(string) error                      { return nil }
func (d *cascadeDriver) WaitForSelector(string, time.Duration) bool { return true }
func (d *cascadeDriver) ScrollToBottom()                            {}
func (d *cascadeDriver) ScrollUp(int)                               {}
func (d *cascadeDriver) CurrentURL() string                         { return "" }
func (d *cascadeDriver) DiscardIntercepted()                        {}
func (d *cascadeDriver) Click(browser.NodeHandle) error             { return nil }

func (d *cascadeDriver) Nodes(string) []browser.NodeHandle {
	d.nodesCalls++
	return d.nodes
}

func (d *cascadeDriver) Markup() string {
	d.markupCalls++
	return d.markup
}

func (d *cascadeDriver) InterceptedResponse([]string, time.Duration) ([]byte, bool) {
	d.apiCalls++
	if d.apiBody == nil {
		return nil, false
	}
	return d.apiBody, true
}

type signalGate struct {
	calls    int
	onSignal func()
}

func (g *signalGate) Wait(ctx context.Context) error {
	g.calls++
	if g.onSignal != nil {
		g.onSignal()
	}
	return ctx.Err()
}

func newTestCascade(driver *cascadeDriver, gate ResumeGate) *Cascade {
	return NewCascade(driver, gate, []string{"api"}, "[data-sku]", 10*time.Millisecond)
}

func visibleNode(sku string) browser.NodeHandle {
	return &stubNode{
		attrs:  map[string]string{"data-sku": sku},
		text:   "¥19.90\n200+条评价",
		height: 180,
	}
}

func TestCascadeAPIWins(t *testing.T) {
	driver := &cascadeDriver{
		apiBody: []byte(`{"wareList":[{"skuId":"100001","wname":"Widget","jdPrice":"12.50"}]}`),
		nodes:   []browser.NodeHandle{visibleNode("999999")},
		markup:  `<li data-sku="888888"></li>`,
	}
	c := newTestCascade(driver, &signalGate{})

	res, err := c.ExtractPage(context.Background(), "widget", 1)
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "100001", res.Records[0].SKU)

	// Lower-priority strategies never ran.
	assert.Equal(t, 0, driver.nodesCalls)
	assert.Equal(t, 0, driver.markupCalls)
}

func TestCascadeFallsBackToDOM(t *testing.T) {
	driver := &cascadeDriver{
		nodes:  []browser.NodeHandle{visibleNode("100002")},
		markup: `<li data-sku="888888"></li>`,
	}
	c := newTestCascade(driver, &signalGate{})

	res, err := c.ExtractPage(context.Background(), "widget", 1)
	require.NoError(t, err)
	assert.Equal(t, SourceDOM, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "100002", res.Records[0].SKU)
	assert.Equal(t, 0, driver.markupCalls)
}

func TestCascadeFallsBackToRawMarkup(t *testing.T) {
	hidden := &stubNode{attrs: map[string]string{"data-sku": "100003"}, height: 0}
	driver := &cascadeDriver{
		nodes:  []browser.NodeHandle{hidden},
		markup: `<li data-sku="100003" class="gl-item"><img title="Widget"><div class="p-price">¥ 5.00</div></li>`,
	}
	c := newTestCascade(driver, &signalGate{})

	res, err := c.ExtractPage(context.Background(), "widget", 1)
	require.NoError(t, err)
	// Hidden nodes do not count as a DOM yield; the chunk strategy wins.
	assert.Equal(t, SourceRaw, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "100003", res.Records[0].SKU)
	assert.Equal(t, "Widget", res.Records[0].Title)
}

func TestCascadeWaitsForOperatorWhenEmpty(t *testing.T) {
	driver := &cascadeDriver{}
	gate := &signalGate{}
	gate.onSignal = func() {
		// Operator refreshed the page; products are rendered now.
		driver.nodes = []browser.NodeHandle{visibleNode("100004")}
	}
	c := newTestCascade(driver, gate)

	res, err := c.ExtractPage(context.Background(), "widget", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, gate.calls)
	assert.Equal(t, SourceDOM, res.Source)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "100004", res.Records[0].SKU)
}

func TestCascadeReturnsGateError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCascade(&cascadeDriver{}, &signalGate{})
	_, err := c.ExtractPage(ctx, "widget", 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCascadeCountsDroppedItems(t *testing.T) {
	driver := &cascadeDriver{
		apiBody: []byte(`{"goodsList":[
			{"skuId":"100005","jdPrice":"1.00"},
			{"wname":"no identifier","jdPrice":"2.00"}
		]}`),
	}
	c := newTestCascade(driver, &signalGate{})

	res, err := c.ExtractPage(context.Background(), "widget", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RawCount)
	assert.Equal(t, 1, res.Dropped)
	require.Len(t, res.Records, 1)
}
