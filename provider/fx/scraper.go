package fx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sig-0/p2pquotes/provider/price"
	"github.com/sig-0/p2pquotes/storage/types"
)

var (
	errMissingRate = errors.New("rate element not found")
	errInvalidRate = errors.New("invalid rate")
)

// Getter fetches a page
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Scraper reads the rate off a currency converter page.
// The URL template may reference {from} and {to}
type Scraper struct {
	client   Getter
	url      string
	selector string
}

// NewScraper creates a new converter page scraper
func NewScraper(client Getter, urlTemplate, selector string) *Scraper {
	return &Scraper{
		client:   client,
		url:      urlTemplate,
		selector: selector,
	}
}

func (s *Scraper) GetRate(ctx context.Context, from, to types.Currency) (float64, error) {
	url := strings.NewReplacer(
		"{from}", from.String(),
		"{to}", to.String(),
	).Replace(s.url)

	raw, err := s.client.Get(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("%w: unable to fetch converter page: %w", ErrUnavailable, err)
	}

	// Construct document for parsing
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: unable to construct query doc: %w", ErrUnavailable, err)
	}

	sel := doc.Find(s.selector).First()
	if sel.Length() == 0 {
		return 0, fmt.Errorf("%w: %w (%s)", ErrUnavailable, errMissingRate, s.selector)
	}

	rate, ok := price.Clean(strings.TrimSpace(sel.Text()))
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", ErrUnavailable, errInvalidRate, sel.Text())
	}

	return rate, nil
}
