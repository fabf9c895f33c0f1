package linkcrawl

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/continuation"
	"github.com/JakeFAU/wikipath/internal/diagnostics"
	"github.com/JakeFAU/wikipath/internal/mediawiki"
	"github.com/JakeFAU/wikipath/internal/policy/retry"
	"github.com/JakeFAU/wikipath/internal/storage/memory"
)

var fastConfig = Config{
	Workers:     3,
	BatchSize:   2,
	MaxRetries:  2,
	RetryBase:   time.Millisecond,
	RetryMax:    2 * time.Millisecond,
	MaxRestarts: 2,
}

func TestWorkerFollowsContinuationInOrder(t *testing.T) {
	t.Parallel()

	upstream := upstreamFunc(func(_ context.Context, batch []string, cur continuation.Cursor) (*mediawiki.Response, error) {
		assert.Equal(t, []string{"Earth", "Mars"}, batch)
		switch cur.List {
		case "":
			return page(&continuation.Cursor{List: "p2", Outer: "||"},
				mediawiki.Page{Title: "Earth", Links: links("Moon", "Sun")},
				mediawiki.Page{Title: "Mars"},
			), nil
		case "p2":
			return page(&continuation.Cursor{List: "p3", Outer: "||"},
				mediawiki.Page{Title: "Earth", Links: links("Venus")},
				mediawiki.Page{Title: "Mars", Links: links("Phobos")},
			), nil
		default:
			return page(nil, mediawiki.Page{Title: "Mars", Links: links("Deimos")}), nil
		}
	})

	w := newTestWorker(upstream, make(chan Result, 4))
	results, err := w.crawlBatch(context.Background(), Batch{Titles: []string{"Earth", "Mars"}})
	require.NoError(t, err)
	assert.Equal(t, []Result{
		{Title: "Earth", Links: []string{"Moon", "Sun", "Venus"}},
		{Title: "Mars", Links: []string{"Phobos", "Deimos"}},
	}, results)
}

func TestWorkerStopsWhenQuerySectionMissing(t *testing.T) {
	t.Parallel()

	calls := 0
	upstream := upstreamFunc(func(context.Context, []string, continuation.Cursor) (*mediawiki.Response, error) {
		calls++
		return &mediawiki.Response{Continue: &continuation.Cursor{List: "more"}}, nil
	})

	w := newTestWorker(upstream, make(chan Result, 1))
	results, err := w.crawlBatch(context.Background(), Batch{Titles: []string{"A"}})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, calls)
}

func TestMalformedPageSendsNothing(t *testing.T) {
	t.Parallel()

	upstream := upstreamFunc(func(_ context.Context, _ []string, cur continuation.Cursor) (*mediawiki.Response, error) {
		if cur.IsZero() {
			return page(&continuation.Cursor{List: "p2"}, mediawiki.Page{Title: "A", Links: links("B")}), nil
		}
		return mediawiki.Decode([]byte("<html>maintenance</html>"))
	})

	results := make(chan Result, 4)
	w := newTestWorker(upstream, results)
	w.queue = NewWorkQueue([]Batch{{Titles: []string{"A"}}})

	err := w.Run(context.Background())
	require.ErrorIs(t, err, mediawiki.ErrMalformedResponse)
	assert.Empty(t, results)
}

func TestWorkerRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	var attempts int
	upstream := upstreamFunc(func(context.Context, []string, continuation.Cursor) (*mediawiki.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return page(nil, mediawiki.Page{Title: "A", Links: links("B")}), nil
	})

	results := make(chan Result, 1)
	w := newTestWorker(upstream, results)
	w.queue = NewWorkQueue([]Batch{{Titles: []string{"A"}}})

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, Result{Title: "A", Links: []string{"B"}}, <-results)
}

func TestWorkerSkipsBatchWhenRetriesExhausted(t *testing.T) {
	t.Parallel()

	upstream := upstreamFunc(func(_ context.Context, batch []string, _ continuation.Cursor) (*mediawiki.Response, error) {
		if batch[0] == "Down" {
			return nil, errors.New("status 503")
		}
		return page(nil, mediawiki.Page{Title: batch[0], Links: links("X")}), nil
	})

	results := make(chan Result, 2)
	w := newTestWorker(upstream, results)
	w.queue = NewWorkQueue([]Batch{{Seq: 0, Titles: []string{"Up"}}, {Seq: 1, Titles: []string{"Down"}}})

	require.NoError(t, w.Run(context.Background()))
	close(results)
	var got []Result
	for r := range results {
		got = append(got, r)
	}
	assert.Equal(t, []Result{{Title: "Up", Links: []string{"X"}}}, got)
}

func TestWorkerPacesRequests(t *testing.T) {
	t.Parallel()

	pacer := &countingPacer{}
	upstream := upstreamFunc(func(_ context.Context, _ []string, cur continuation.Cursor) (*mediawiki.Response, error) {
		if cur.IsZero() {
			return page(&continuation.Cursor{List: "next"}, mediawiki.Page{Title: "A"}), nil
		}
		return page(nil, mediawiki.Page{Title: "A"}), nil
	})

	w := newTestWorker(upstream, make(chan Result, 1))
	w.pacer = pacer
	_, err := w.crawlBatch(context.Background(), Batch{Titles: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"test-worker", "test-worker"}, pacer.keys)
}

func TestWorkerReleasesPacerOnExit(t *testing.T) {
	t.Parallel()

	pacer := &countingPacer{}
	w := newTestWorker(upstreamFunc(func(context.Context, []string, continuation.Cursor) (*mediawiki.Response, error) {
		return page(nil, mediawiki.Page{Title: "A"}), nil
	}), make(chan Result, 1))
	w.queue = NewWorkQueue(Partition([]string{"A"}, 10))
	w.pacer = pacer

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []string{"test-worker"}, pacer.keys)
	assert.Equal(t, []string{"test-worker"}, pacer.forgotten)
}

func TestCrawlerWritesEveryPendingTitle(t *testing.T) {
	t.Parallel()

	store := newFakeStore("Alpha", "Beta", "Gamma", "Delta", "Epsilon")
	c := New(store, echoUpstream(nil), nil, zap.NewNop(), fastConfig)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 5, stats.Pending)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 5, stats.Written)
	assert.Zero(t, stats.Restarts)

	for _, title := range []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"} {
		assert.Equal(t, []string{title + "/1", title + "/2"}, store.links(title))
	}
}

func TestCrawlerRestartsAfterMalformedResponse(t *testing.T) {
	t.Parallel()

	store := newFakeStore("Alpha", "Beta", "Gamma", "Delta")
	var (
		mu     sync.Mutex
		failed bool
	)
	poison := func(batch []string) bool {
		mu.Lock()
		defer mu.Unlock()
		if !failed && contains(batch, "Beta") {
			failed = true
			return true
		}
		return false
	}
	blobs := memory.NewBlobStore()
	c := New(store, echoUpstream(poison), diagnostics.New(blobs, "malformed", nil), nil, fastConfig)

	stats, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Restarts)
	assert.Equal(t, 2, stats.Runs)
	assert.Len(t, blobs.Paths(), 1)
	for _, title := range []string{"Alpha", "Beta", "Gamma", "Delta"} {
		assert.Equal(t, []string{title + "/1", title + "/2"}, store.links(title), title)
	}
	assert.Empty(t, store.pending())
}

func TestCrawlerGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()

	store := newFakeStore("Alpha", "Beta")
	cfg := fastConfig
	cfg.MaxRestarts = 1
	c := New(store, echoUpstream(func([]string) bool { return true }), nil, nil, cfg)

	stats, err := c.Run(context.Background())
	require.ErrorIs(t, err, mediawiki.ErrMalformedResponse)
	assert.ErrorContains(t, err, "gave up after 1 restarts")
	assert.Equal(t, 2, stats.Runs)
	assert.Len(t, store.pending(), 2)
}

func TestCrawlerNothingPending(t *testing.T) {
	t.Parallel()

	calls := 0
	upstream := upstreamFunc(func(context.Context, []string, continuation.Cursor) (*mediawiki.Response, error) {
		calls++
		return nil, errors.New("unexpected")
	})
	stats, err := New(newFakeStore(), upstream, nil, nil, fastConfig).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Written)
	assert.Zero(t, calls)
}

func TestCrawlerWriteFailuresKeepTitlesPending(t *testing.T) {
	t.Parallel()

	store := newFakeStore("Alpha", "Beta")
	store.failTitle = "Beta"
	stats, err := New(store, echoUpstream(nil), nil, nil, fastConfig).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"Beta"}, store.pending())
}

func TestCrawlerStoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.pendingErr = errors.New("connection refused")
	_, err := New(store, echoUpstream(nil), nil, nil, fastConfig).Run(context.Background())
	require.ErrorContains(t, err, "load pending titles")
}

func TestCrawlerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	upstream := upstreamFunc(func(ctx context.Context, batch []string, _ continuation.Cursor) (*mediawiki.Response, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := fastConfig
	cfg.Stagger = time.Hour

	_, err := New(newFakeStore("A", "B", "C"), upstream, nil, nil, cfg).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func newTestWorker(upstream Upstream, results chan<- Result) *Worker {
	return &Worker{
		name:     "test-worker",
		queue:    NewWorkQueue(nil),
		upstream: upstream,
		pacer:    &countingPacer{},
		policy:   testPolicy(),
		results:  results,
		logger:   zap.NewNop(),
	}
}

func testPolicy() *retry.ExponentialPolicy {
	return retry.NewExponentialPolicy(retry.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}, mediawiki.ErrMalformedResponse)
}

type upstreamFunc func(ctx context.Context, titles []string, cursor continuation.Cursor) (*mediawiki.Response, error)

func (f upstreamFunc) Links(ctx context.Context, titles []string, cursor continuation.Cursor) (*mediawiki.Response, error) {
	return f(ctx, titles, cursor)
}

// echoUpstream answers every batch in two continuation pages: title/1 then title/2.
// poison, when it returns true for a batch, makes the second page malformed.
func echoUpstream(poison func(batch []string) bool) Upstream {
	return upstreamFunc(func(_ context.Context, batch []string, cur continuation.Cursor) (*mediawiki.Response, error) {
		suffix := "/1"
		next := &continuation.Cursor{List: "second", Outer: "||"}
		if cur.List == "second" {
			if poison != nil && poison(batch) {
				return mediawiki.Decode([]byte(`{"query":`))
			}
			suffix = "/2"
			next = nil
		}
		pages := make([]mediawiki.Page, 0, len(batch))
		for _, title := range batch {
			pages = append(pages, mediawiki.Page{Title: title, Links: links(title + suffix)})
		}
		return page(next, pages...), nil
	})
}

func page(next *continuation.Cursor, pages ...mediawiki.Page) *mediawiki.Response {
	return &mediawiki.Response{Continue: next, Query: &mediawiki.Query{Pages: pages}}
}

func links(titles ...string) []mediawiki.Link {
	out := make([]mediawiki.Link, 0, len(titles))
	for _, t := range titles {
		out = append(out, mediawiki.Link{Title: t})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type countingPacer struct {
	mu        sync.Mutex
	keys      []string
	forgotten []string
}

func (p *countingPacer) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, key)
}

func (p *countingPacer) Wait(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string][]string
	failTitle  string
	pendingErr error
}

func newFakeStore(titles ...string) *fakeStore {
	rows := make(map[string][]string, len(titles))
	for _, t := range titles {
		rows[t] = nil
	}
	return &fakeStore{rows: rows}
}

func (s *fakeStore) PendingTitles(context.Context) ([]string, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return s.pending(), nil
}

func (s *fakeStore) UpdateLinks(_ context.Context, title string, links []string) error {
	if title == s.failTitle {
		return errors.New("write conflict")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[title] = append([]string(nil), links...)
	return nil
}

func (s *fakeStore) pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for title, links := range s.rows {
		if len(links) == 0 {
			out = append(out, title)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

func (s *fakeStore) links(title string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[title]
}
