// Package postgres provides the Postgres-backed article and cursor store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wikipath/internal/continuation"
	"github.com/JakeFAU/wikipath/internal/graph"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ArticleStore persists discovery cursors and article rows.
type ArticleStore struct {
	pool pgxPool
}

// NewArticleStore connects a pool using the provided config.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArticleStore{pool: pool}, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool pgxPool) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArticleStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the requests and articles tables if they are missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LatestCursor returns the most recently saved discovery cursor, or the zero cursor
// when nothing has been saved yet.
func (s *ArticleStore) LatestCursor(ctx context.Context) (continuation.Cursor, error) {
	const query = `
		SELECT COALESCE(continue, ''), COALESCE(pl_continue, ''), COALESCE(gap_continue, '')
		FROM requests
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var cur continuation.Cursor
	err := s.pool.QueryRow(ctx, query).Scan(&cur.Outer, &cur.List, &cur.Generator)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return continuation.Cursor{}, nil
		}
		return continuation.Cursor{}, fmt.Errorf("load latest cursor: %w", err)
	}
	return cur, nil
}

// SaveCursor appends cur to the request log. Empty tokens are stored as NULL.
func (s *ArticleStore) SaveCursor(ctx context.Context, cur continuation.Cursor) error {
	const query = `INSERT INTO requests (continue, pl_continue, gap_continue) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, nullable(cur.Outer), nullable(cur.List), nullable(cur.Generator)); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// InsertTitles adds titles with empty links, ignoring ones that already exist.
// It returns the number of new rows.
func (s *ArticleStore) InsertTitles(ctx context.Context, titles []string) (int64, error) {
	if len(titles) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO articles (title)
		SELECT unnest($1::text[])
		ON CONFLICT (title) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, titles)
	if err != nil {
		return 0, fmt.Errorf("insert titles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingTitles lists every article whose links have not been crawled, in descending title order.
func (s *ArticleStore) PendingTitles(ctx context.Context) ([]string, error) {
	const query = `SELECT title FROM articles WHERE links = '{}' ORDER BY title DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan pending title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending titles: %w", err)
	}
	return titles, nil
}

// UpdateLinks replaces the link list of title.
func (s *ArticleStore) UpdateLinks(ctx context.Context, title string, links []string) error {
	if links == nil {
		links = []string{}
	}
	const query = `UPDATE articles SET links = $2 WHERE title = $1`
	if _, err := s.pool.Exec(ctx, query, title, links); err != nil {
		return fmt.Errorf("update links for %q: %w", title, err)
	}
	return nil
}

// Articles loads every article with its condensed adjacency.
func (s *ArticleStore) Articles(ctx context.Context) ([]graph.Article, error) {
	const query = `SELECT id, title, condensed_links FROM articles ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []graph.Article
	for rows.Next() {
		var (
			id    int32
			title string
			links []int32
		)
		if err := rows.Scan(&id, &title, &links); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		edges := make([]int, len(links))
		for i, l := range links {
			edges[i] = int(l)
		}
		articles = append(articles, graph.Article{ID: int(id), Title: title, Links: edges})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return articles, nil
}

// SearchTitles returns up to limit titles containing q, case-insensitively, shortest first.
func (s *ArticleStore) SearchTitles(ctx context.Context, q string, limit int) ([]string, error) {
	const query = `
		SELECT title FROM articles
		WHERE lower(title) LIKE $1 ESCAPE '\'
		ORDER BY length(title) ASC, title ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, LikePattern(q), limit)
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", err)
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles: %w", err)
	}
	return titles, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern lowercases q, escapes LIKE metacharacters and wraps it for a substring match.
func LikePattern(q string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
