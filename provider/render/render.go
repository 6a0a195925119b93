// Package render drives the page rendering needed by sources that only
// expose quotes through a client-side rendered marketplace
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sig-0/p2pquotes/provider/httpx"
)

var (
	// ErrSelectorTimeout is returned when the awaited selector never shows up
	ErrSelectorTimeout = errors.New("selector wait timed out")

	errNoPage     = errors.New("no page loaded")
	errNotWaited  = errors.New("page not rendered, wait for a selector first")
	errInvalidURL = errors.New("invalid page URL")
)

// Browser is a headless page session
type Browser interface {
	// LoadPage navigates to the given URL
	LoadPage(ctx context.Context, pageURL string) error

	// WaitForSelector blocks until the selector is present, or the timeout elapses
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// ReadRows returns the inner text of every cell, for each row matching the selector
	ReadRows(ctx context.Context, rowSelector string) ([][]string, error)
}

// Poster posts a JSON body and returns the raw response
type Poster interface {
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
}

type waitForSelector struct {
	Selector string `json:"selector"`
	Timeout  int64  `json:"timeout"` // ms
}

// contentRequest is the body of a browserless-compatible /content call
type contentRequest struct {
	WaitForSelector *waitForSelector `json:"waitForSelector,omitempty"`
	URL             string           `json:"url"`
}

// Remote renders pages through a headless rendering service,
// and parses the rendered HTML locally
type Remote struct {
	client   Poster
	endpoint string

	doc     *goquery.Document
	pageURL string

	mux sync.Mutex
}

// NewRemote creates a new rendering session against the given endpoint
// (ex. http://browserless:3000/content?token=...)
func NewRemote(client Poster, endpoint string) *Remote {
	return &Remote{
		client:   client,
		endpoint: endpoint,
	}
}

// LoadPage sets the page for the session.
// The page is rendered once a selector is awaited
func (r *Remote) LoadPage(_ context.Context, pageURL string) error {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", errInvalidURL, pageURL)
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	r.pageURL = pageURL
	r.doc = nil

	return nil
}

func (r *Remote) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.pageURL == "" {
		return errNoPage
	}

	req := contentRequest{
		URL: r.pageURL,
		WaitForSelector: &waitForSelector{
			Selector: selector,
			Timeout:  timeout.Milliseconds(),
		},
	}

	raw, err := r.client.PostJSON(ctx, r.endpoint, req)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusRequestTimeout ||
				statusErr.StatusCode == http.StatusGatewayTimeout) {
			return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
		}

		return fmt.Errorf("unable to render page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unable to construct query doc: %w", err)
	}

	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
	}

	r.doc = doc

	return nil
}

func (r *Remote) ReadRows(_ context.Context, rowSelector string) ([][]string, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if r.doc == nil {
		return nil, errNotWaited
	}

	rows := make([][]string, 0)

	r.doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := make([]string, 0)

		row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, InnerText(cell))
		})

		rows = append(rows, cells)
	})

	return rows, nil
}

// blockElements are rendered on their own line
var blockElements = map[string]struct{}{
	"div":     {},
	"p":       {},
	"li":      {},
	"ul":      {},
	"ol":      {},
	"tr":      {},
	"section": {},
	"h1":      {},
	"h2":      {},
	"h3":      {},
	"h4":      {},
}

// InnerText approximates the browser innerText of the selection:
// block elements break lines, and whitespace is collapsed per line
func InnerText(s *goquery.Selection) string {
	var b strings.Builder

	writeText(&b, s)

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}

	return strings.Join(out, "\n")
}

func writeText(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)

		switch name {
		case "#text":
			b.WriteString(c.Text())
		case "br":
			b.WriteByte('\n')
		case "script", "style", "#comment":
		default:
			if _, ok := blockElements[name]; !ok {
				writeText(b, c)

				return
			}

			b.WriteByte('\n')
			writeText(b, c)
			b.WriteByte('\n')
		}
	})
}
