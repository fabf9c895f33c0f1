// Package linkcrawl fetches the outgoing links of every pending article with a pool of
// paced workers feeding a single storage writer.
package linkcrawl

import "github.com/JakeFAU/wikipath/internal/mediawiki"

// Batch is a group of titles looked up together in one links request.
type Batch struct {
	Seq    int
	Titles []string
}

// Partition splits titles into consecutive batches of at most size titles. Sizes outside
// 1..mediawiki.MaxTitles fall back to mediawiki.MaxTitles.
func Partition(titles []string, size int) []Batch {
	if size <= 0 || size > mediawiki.MaxTitles {
		size = mediawiki.MaxTitles
	}
	batches := make([]Batch, 0, (len(titles)+size-1)/size)
	for start := 0; start < len(titles); start += size {
		end := min(start+size, len(titles))
		batches = append(batches, Batch{
			Seq:    len(batches),
			Titles: titles[start:end:end],
		})
	}
	return batches
}
