package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikipath/internal/continuation"
	"github.com/JakeFAU/wikipath/internal/graph"
)

func newMockStore(t *testing.T) (*ArticleStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewArticleStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func ptr(s string) *string { return &s }

func TestNewArticleStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewArticleStoreWithPool(nil)
	require.Error(t, err)
}

func TestNewArticleStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewArticleStore(context.Background(), Config{})
	require.Error(t, err)

	_, err = NewArticleStore(context.Background(), Config{DSN: "::not a dsn::"})
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS requests")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestCursor(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM requests")).
		WillReturnRows(pgxmock.NewRows([]string{"continue", "pl_continue", "gap_continue"}).
			AddRow("gapcontinue||", "", "Bee"))

	cur, err := store.LatestCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, continuation.Cursor{Generator: "Bee", Outer: "gapcontinue||"}, cur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestCursorEmptyLog(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM requests")).WillReturnError(pgx.ErrNoRows)

	cur, err := store.LatestCursor(context.Background())
	require.NoError(t, err)
	assert.True(t, cur.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestCursorError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM requests")).WillReturnError(errors.New("conn refused"))

	_, err := store.LatestCursor(context.Background())
	require.ErrorContains(t, err, "load latest cursor")
}

func TestSaveCursorStoresNullForEmptyTokens(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WithArgs(ptr("gapcontinue||"), (*string)(nil), ptr("Bee")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.SaveCursor(context.Background(), continuation.Cursor{Generator: "Bee", Outer: "gapcontinue||"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTitles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	titles := []string{"Alpha", "Beta"}
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (title) DO NOTHING")).
		WithArgs(titles).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.InsertTitles(context.Background(), titles)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTitlesEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	inserted, err := store.InsertTitles(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingTitles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE links = '{}' ORDER BY title DESC")).
		WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("Zeta").AddRow("Alpha"))

	titles, err := store.PendingTitles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Zeta", "Alpha"}, titles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLinks(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE articles SET links = $2 WHERE title = $1")).
		WithArgs("Earth", []string{"Moon", "Sun"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE articles SET links")).
		WithArgs("Void", []string{}).
		WillReturnError(errors.New("deadlock"))

	require.NoError(t, store.UpdateLinks(context.Background(), "Earth", []string{"Moon", "Sun"}))
	err := store.UpdateLinks(context.Background(), "Void", nil)
	require.ErrorContains(t, err, `update links for "Void"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArticles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, condensed_links FROM articles")).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "condensed_links"}).
			AddRow(int32(0), "A", []int32{1, 2}).
			AddRow(int32(2), "C", []int32{}))

	rows, err := store.Articles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []graph.Article{
		{ID: 0, Title: "A", Links: []int{1, 2}},
		{ID: 2, Title: "C", Links: []int{}},
	}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchTitles(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY length(title) ASC, title ASC")).
		WithArgs(`%100\%\_c%`, 10).
		WillReturnRows(pgxmock.NewRows([]string{"title"}).AddRow("100%_C").AddRow("100%_Cotton"))

	titles, err := store.SearchTitles(context.Background(), "100%_C", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"100%_C", "100%_Cotton"}, titles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchTitlesNoMatchesIsEmptySlice(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM articles")).
		WithArgs("%zzz%", 10).
		WillReturnRows(pgxmock.NewRows([]string{"title"}))

	titles, err := store.SearchTitles(context.Background(), "ZZZ", 10)
	require.NoError(t, err)
	assert.NotNil(t, titles)
	assert.Empty(t, titles)
}

func TestLikePattern(t *testing.T) {
	t.Parallel()

	testCases := map[string]string{
		"Paris":    "%paris%",
		"50%":      `%50\%%`,
		"snake_ca": `%snake\_ca%`,
		`back\`:    `%back\\%`,
		"":         "%%",
	}
	for in, want := range testCases {
		assert.Equal(t, want, LikePattern(in), "input %q", in)
	}
}
