// Package continuation models the pagination state returned by the MediaWiki query API.
//
// The API hands back up to three opaque tokens. They are positional state rather than data: a
// caller persists them verbatim and replays them verbatim to get the next page.
package continuation

import (
	"fmt"
	"net/url"
)

// Query parameter names understood by the upstream API.
const (
	ParamOuter     = "continue"
	ParamGenerator = "gapcontinue"
	ParamList      = "plcontinue"
)

// Cursor is one page position. An empty field means the token is absent.
type Cursor struct {
	Generator string `json:"gapcontinue,omitempty"`
	List      string `json:"plcontinue,omitempty"`
	Outer     string `json:"continue,omitempty"`
}

// IsZero reports whether no token is set, which is the position of the very first request.
func (c Cursor) IsZero() bool {
	return c.Generator == "" && c.List == "" && c.Outer == ""
}

// Merge computes the cursor for the request that follows a response carrying next.
//
// Generator is carried forward from c when next omits it. List and Outer always come from next,
// even when that clears them.
func (c Cursor) Merge(next Cursor) Cursor {
	merged := Cursor{
		Generator: next.Generator,
		List:      next.List,
		Outer:     next.Outer,
	}
	if merged.Generator == "" {
		merged.Generator = c.Generator
	}
	return merged
}

// Apply writes every non-empty token into q.
func (c Cursor) Apply(q url.Values) {
	if c.Outer != "" {
		q.Set(ParamOuter, c.Outer)
	}
	if c.Generator != "" {
		q.Set(ParamGenerator, c.Generator)
	}
	if c.List != "" {
		q.Set(ParamList, c.List)
	}
}

func (c Cursor) String() string {
	return fmt.Sprintf("continue=%q gapcontinue=%q plcontinue=%q", c.Outer, c.Generator, c.List)
}
