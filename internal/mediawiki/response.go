// Package mediawiki talks to the MediaWiki query API: it builds the two request shapes the crawlers
// use, fetches them through a pluggable transport and decodes the response envelope.
package mediawiki

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/wikipath/internal/continuation"
)

// ErrMalformedResponse matches every response body that could not be decoded into an envelope.
var ErrMalformedResponse = errors.New("malformed upstream response")

// Response is the subset of the query envelope the crawlers consume.
type Response struct {
	Continue *continuation.Cursor `json:"continue,omitempty"`
	Query    *Query               `json:"query,omitempty"`
	Error    *APIError            `json:"error,omitempty"`
}

// Query holds the entries collection of a response.
type Query struct {
	Pages []Page `json:"pages"`
}

// Page is one article entry. Links is only present for prop=links lookups.
type Page struct {
	Title   string `json:"title"`
	Missing bool   `json:"missing,omitempty"`
	Links   []Link `json:"links,omitempty"`
}

// Link is an outgoing link of a page.
type Link struct {
	Title string `json:"title"`
}

// APIError is the error object the API returns in place of a result.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// DecodeError carries the raw body of a response that could not be used.
type DecodeError struct {
	URL  string
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response from %s: %v", e.URL, e.Err)
}

// Unwrap exposes both ErrMalformedResponse and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Err}
}

// Decode parses a response body. API error envelopes are reported as decode failures because they
// carry neither pages nor continuation state.
func Decode(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Body: body, Err: err}
	}
	if resp.Error != nil {
		return nil, &DecodeError{Body: body, Err: resp.Error}
	}
	return &resp, nil
}

// HasQuery reports whether the response carried a query section at all.
func (r *Response) HasQuery() bool {
	return r != nil && r.Query != nil
}

// Done reports whether the continuation envelope is absent.
func (r *Response) Done() bool {
	return r == nil || r.Continue == nil
}

// Pages returns the entries of the query section, or nil.
func (r *Response) Pages() []Page {
	if !r.HasQuery() {
		return nil
	}
	return r.Query.Pages
}

// Titles returns the title of every page in response order.
func (r *Response) Titles() []string {
	pages := r.Pages()
	titles := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Title == "" {
			continue
		}
		titles = append(titles, p.Title)
	}
	return titles
}

// LinkTitles flattens the links of p.
func (p Page) LinkTitles() []string {
	out := make([]string, 0, len(p.Links))
	for _, l := range p.Links {
		out = append(out, l.Title)
	}
	return out
}
