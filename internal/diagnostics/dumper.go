// Package diagnostics keeps copies of upstream bodies that could not be decoded.
package diagnostics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/mediawiki"
)

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Dumper names malformed bodies by time and content hash and writes them to a BlobStore.
// A nil *Dumper, or one without a store, discards everything.
type Dumper struct {
	store  BlobStore
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Dumper.
type Option func(*Dumper)

// WithClock overrides the time source used in object names.
func WithClock(now func() time.Time) Option {
	return func(d *Dumper) {
		d.now = now
	}
}

// New builds a Dumper writing below prefix.
func New(store BlobStore, prefix string, logger *zap.Logger, opts ...Option) *Dumper {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dumper{
		store:  store,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ObjectPath returns the name a body is stored under.
func (d *Dumper) ObjectPath(operation string, body []byte, at time.Time) string {
	sum := sha256.Sum256(body)
	name := fmt.Sprintf("%s-%s.json", at.UTC().Format("20060102T150405.000000000Z"), hex.EncodeToString(sum[:8]))
	return path.Join(d.prefix, operation, name)
}

// Dump writes the body carried by a *mediawiki.DecodeError in err's chain. It returns ""
// when err carries no body or the Dumper has no store.
func (d *Dumper) Dump(ctx context.Context, operation string, err error) (string, error) {
	if d == nil || d.store == nil {
		return "", nil
	}
	var decodeErr *mediawiki.DecodeError
	if !errors.As(err, &decodeErr) {
		return "", nil
	}

	objectPath := d.ObjectPath(operation, decodeErr.Body, d.now())
	uri, putErr := d.store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(decodeErr.Body))
	if putErr != nil {
		return "", fmt.Errorf("dump malformed body: %w", putErr)
	}
	return uri, nil
}

// Record dumps err and logs the outcome. Failures to write are logged, never returned.
func (d *Dumper) Record(ctx context.Context, operation string, err error) {
	if d == nil {
		return
	}
	uri, dumpErr := d.Dump(ctx, operation, err)
	if dumpErr != nil {
		d.logger.Warn("malformed body not saved", zap.String("operation", operation), zap.Error(dumpErr))
		return
	}
	if uri != "" {
		var decodeErr *mediawiki.DecodeError
		if errors.As(err, &decodeErr) {
			d.logger.Info("malformed body saved",
				zap.String("operation", operation),
				zap.String("url", decodeErr.URL),
				zap.String("uri", uri),
			)
		}
	}
}
