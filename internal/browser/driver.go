package browser

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// NodeHandle is a read-only view of one rendered DOM node. The extract
// package works against this instead of playwright types so normalizers
// can be tested without a browser.
type NodeHandle interface {
	// Attribute returns the attribute value, or "" when absent.
	Attribute(name string) string
	// Text returns the node's full rendered text.
	Text() string
	// ChildText returns the text of the first child matching selector,
	// or "" when there is none.
	ChildText(selector string) string
	// ChildAttribute returns an attribute of the first matching child.
	ChildAttribute(selector, attribute string) string
	// VisibleHeight is the rendered height in pixels; zero means the
	// node is hidden or a lazy-load placeholder.
	VisibleHeight() float64
}

// Driver is the page-driver capability the pipeline depends on. It is
// not safe for concurrent use: the listing phase owns one driver and
// uses it from a single goroutine.
type Driver interface {
	Navigate(url string) error
	WaitForSelector(selector string, timeout time.Duration) bool
	ScrollToBottom()
	ScrollUp(pixels int)
	Nodes(selector string) []NodeHandle
	CurrentURL() string
	Markup() string
	// InterceptedResponse returns the most recent captured network
	// response whose URL contains one of the fragments, waiting up to
	// timeout for one to arrive.
	InterceptedResponse(fragments []string, timeout time.Duration) ([]byte, bool)
	// DiscardIntercepted drops captured responses, so a following read
	// cannot observe a payload from a previous page.
	DiscardIntercepted()
	Click(node NodeHandle) error
}

type capturedResponse struct {
	url  string
	body []byte
}

// PageDriver implements Driver on a playwright page.
type PageDriver struct {
	page   playwright.Page
	logger *slog.Logger

	mu       sync.Mutex
	captured []capturedResponse
}

// NewPageDriver wraps page and starts capturing responses whose URLs
// contain any of hints. Capture runs on playwright's event goroutine;
// reads go through the mutex.
func NewPageDriver(page playwright.Page, hints []string) *PageDriver {
	d := &PageDriver{
		page:   page,
		logger: slog.Default().With("component", "page_driver"),
	}

	page.OnResponse(func(resp playwright.Response) {
		url := resp.URL()
		if !containsAny(url, hints) {
			return
		}
		body, err := resp.Body()
		if err != nil {
			d.logger.Debug("failed to read intercepted body", "url", url, "error", err)
			return
		}
		d.mu.Lock()
		d.captured = append(d.captured, capturedResponse{url: url, body: body})
		if len(d.captured) > 32 {
			d.captured = d.captured[len(d.captured)-32:]
		}
		d.mu.Unlock()
	})

	return d
}

func (d *PageDriver) Navigate(url string) error {
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (d *PageDriver) WaitForSelector(selector string, timeout time.Duration) bool {
	_, err := d.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (d *PageDriver) ScrollToBottom() {
	if _, err := d.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		d.logger.Debug("scroll to bottom failed", "error", err)
	}
}

func (d *PageDriver) ScrollUp(pixels int) {
	if _, err := d.page.Evaluate(fmt.Sprintf(`window.scrollBy(0, -%d)`, pixels)); err != nil {
		d.logger.Debug("scroll up failed", "error", err)
	}
}

func (d *PageDriver) Nodes(selector string) []NodeHandle {
	locator := d.page.Locator(selector)
	count, err := locator.Count()
	if err != nil {
		d.logger.Debug("failed to count nodes", "selector", selector, "error", err)
		return nil
	}

	nodes := make([]NodeHandle, 0, count)
	for i := 0; i < count; i++ {
		nodes = append(nodes, &pwNode{loc: locator.Nth(i)})
	}
	return nodes
}

func (d *PageDriver) CurrentURL() string {
	return d.page.URL()
}

func (d *PageDriver) Markup() string {
	content, err := d.page.Content()
	if err != nil {
		d.logger.Debug("failed to read page markup", "error", err)
		return ""
	}
	return content
}

func (d *PageDriver) InterceptedResponse(fragments []string, timeout time.Duration) ([]byte, bool) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		for i := len(d.captured) - 1; i >= 0; i-- {
			if containsAny(d.captured[i].url, fragments) {
				body := d.captured[i].body
				d.mu.Unlock()
				return body, true
			}
		}
		d.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (d *PageDriver) DiscardIntercepted() {
	d.mu.Lock()
	d.captured = d.captured[:0]
	d.mu.Unlock()
}

func (d *PageDriver) Click(node NodeHandle) error {
	n, ok := node.(*pwNode)
	if !ok {
		return fmt.Errorf("node does not belong to this driver")
	}
	if err := n.loc.Click(); err != nil {
		return fmt.Errorf("failed to click node: %w", err)
	}
	return nil
}

const childReadTimeout = 150.0 // ms; field reads must not stall the page loop

type pwNode struct {
	loc playwright.Locator
}

func (n *pwNode) Attribute(name string) string {
	v, err := n.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(childReadTimeout),
	})
	if err != nil {
		return ""
	}
	return v
}

func (n *pwNode) Text() string {
	v, err := n.loc.TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(childReadTimeout),
	})
	if err != nil {
		return ""
	}
	return v
}

func (n *pwNode) ChildText(selector string) string {
	child := n.loc.Locator(selector).First()
	count, err := child.Count()
	if err != nil || count == 0 {
		return ""
	}
	v, err := child.TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(childReadTimeout),
	})
	if err != nil {
		return ""
	}
	return v
}

func (n *pwNode) ChildAttribute(selector, attribute string) string {
	child := n.loc.Locator(selector).First()
	count, err := child.Count()
	if err != nil || count == 0 {
		return ""
	}
	v, err := child.GetAttribute(attribute, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(childReadTimeout),
	})
	if err != nil {
		return ""
	}
	return v
}

func (n *pwNode) VisibleHeight() float64 {
	box, err := n.loc.BoundingBox()
	if err != nil || box == nil {
		return 0
	}
	return box.Height
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}
