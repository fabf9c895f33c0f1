package linkcrawl

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/metrics"
)

// LinkStore persists a title's link list.
type LinkStore interface {
	UpdateLinks(ctx context.Context, title string, links []string) error
}

// WriteStats counts what the writer did.
type WriteStats struct {
	Written int
	Failed  int
}

// Writer is the only goroutine that writes link lists to storage.
type Writer struct {
	store  LinkStore
	logger *zap.Logger
}

// NewWriter builds a Writer.
func NewWriter(store LinkStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// Run writes every result until results is closed. A failed write is logged and the title
// stays pending for the next run.
func (w *Writer) Run(ctx context.Context, results <-chan Result) WriteStats {
	var stats WriteStats
	for r := range results {
		if err := w.store.UpdateLinks(ctx, r.Title, r.Links); err != nil {
			stats.Failed++
			w.logger.Error("update links failed", zap.String("title", r.Title), zap.Error(err))
			continue
		}
		stats.Written++
		metrics.IncLinksWritten()
	}
	return stats
}
