// Package graph holds the immutable in-memory link graph and its path queries.
package graph

import "errors"

var (
	// ErrUnknownTitle reports a start or end title that is not in the graph.
	ErrUnknownTitle = errors.New("graph: unknown title")
	// ErrNoPath reports that the end article is unreachable from the start article.
	ErrNoPath = errors.New("graph: no path")
)

// Article is one stored row: its numeric id, title and outbound edges as article ids.
type Article struct {
	ID    int
	Title string
	Links []int
}

// Index is the adjacency-list graph built once at startup. It is never mutated after Build
// and is safe for concurrent readers.
type Index struct {
	adjacency [][]int
	titles    []string
	ids       map[string]int
	articles  int
	dropped   int
}

// Build sizes the graph to the largest id and fills it from rows. Ids without a row get no
// title and no edges. Edge targets outside the id range are dropped and counted.
func Build(rows []Article) *Index {
	maxID := -1
	for _, row := range rows {
		if row.ID > maxID {
			maxID = row.ID
		}
	}
	size := maxID + 1

	idx := &Index{
		adjacency: make([][]int, size),
		titles:    make([]string, size),
		ids:       make(map[string]int, len(rows)),
	}
	for _, row := range rows {
		if row.ID < 0 {
			continue
		}
		edges := make([]int, 0, len(row.Links))
		for _, target := range row.Links {
			if target < 0 || target >= size {
				idx.dropped++
				continue
			}
			edges = append(edges, target)
		}
		idx.adjacency[row.ID] = edges
		idx.titles[row.ID] = row.Title
		idx.ids[row.Title] = row.ID
		idx.articles++
	}
	return idx
}

// Len returns the number of articles loaded.
func (g *Index) Len() int {
	return g.articles
}

// Nodes returns the size of the id space, including ids with no article.
func (g *Index) Nodes() int {
	return len(g.adjacency)
}

// DroppedEdges returns how many edges Build discarded.
func (g *Index) DroppedEdges() int {
	return g.dropped
}

// Lookup resolves a title to its id.
func (g *Index) Lookup(title string) (int, bool) {
	id, ok := g.ids[title]
	return id, ok
}

// Title returns the title stored for id, or "" if there is none.
func (g *Index) Title(id int) string {
	if id < 0 || id >= len(g.titles) {
		return ""
	}
	return g.titles[id]
}

// Neighbors returns the outbound edges of id. Callers must not modify the result.
func (g *Index) Neighbors(id int) []int {
	if id < 0 || id >= len(g.adjacency) {
		return nil
	}
	return g.adjacency[id]
}
