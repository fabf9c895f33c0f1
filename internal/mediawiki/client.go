package mediawiki

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/wikipath/internal/continuation"
)

// DefaultEndpoint is the English Wikipedia API.
const DefaultEndpoint = "https://en.wikipedia.org/w/api.php"

// Fetcher retrieves the raw body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Client issues the discovery and link-lookup calls.
type Client struct {
	endpoint string
	fetcher  Fetcher
}

// NewClient validates the endpoint and returns a Client.
func NewClient(endpoint string, fetcher Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q must be absolute", endpoint)
	}
	return &Client{endpoint: endpoint, fetcher: fetcher}, nil
}

// AllPages requests one page of the allpages generator at cursor.
func (c *Client) AllPages(ctx context.Context, cursor continuation.Cursor) (*Response, error) {
	rawURL, err := DiscoveryURL(c.endpoint, cursor)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, rawURL)
}

// Links requests one page of outgoing links for up to MaxTitles titles at cursor.
func (c *Client) Links(ctx context.Context, titles []string, cursor continuation.Cursor) (*Response, error) {
	rawURL, err := LinksURL(c.endpoint, titles, cursor)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, rawURL)
}

func (c *Client) get(ctx context.Context, rawURL string) (*Response, error) {
	body, err := c.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	resp, err := Decode(body)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.URL = rawURL
		}
		return nil, err
	}
	return resp, nil
}

// MaxTitles is the largest batch a single link lookup may carry.
const MaxTitles = 10

// DiscoveryURL builds the allpages generator request.
func DiscoveryURL(endpoint string, cursor continuation.Cursor) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("generator", "allpages")
	q.Set("formatversion", "2")
	q.Set("plnamespace", "0")
	q.Set("pllimit", "max")
	q.Set("gapnamespace", "0")
	q.Set("gaplimit", "max")
	q.Set("gapdir", "ascending")
	q.Set("gapfilterredir", "nonredirects")
	cursor.Apply(q)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LinksURL builds the prop=links request for titles.
func LinksURL(endpoint string, titles []string, cursor continuation.Cursor) (string, error) {
	if len(titles) == 0 {
		return "", errors.New("at least one title required")
	}
	if len(titles) > MaxTitles {
		return "", fmt.Errorf("at most %d titles per request, got %d", MaxTitles, len(titles))
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("prop", "links")
	q.Set("formatversion", "2")
	q.Set("pllimit", "max")
	q.Set("titles", strings.Join(titles, "|"))
	cursor.Apply(q)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
