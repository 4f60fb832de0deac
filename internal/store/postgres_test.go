package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/parsera-labs/dispatch/internal/model"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements and serves canned rows.
type fakeDB struct {
	execs   []execCall
	execTag pgconn.CommandTag
	execErr error
	row     pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return f.execTag, f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

// scanFunc adapts a closure to pgx.Row.
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

func testCrawler() model.Crawler {
	return model.Crawler{
		ID:        uuid.New(),
		Name:      "price-watch",
		UserID:    uuid.New(),
		TimerRule: "0 0 6 * * *",
		Priority:  model.PriorityCommon,
		Notification: model.NotificationOptions{
			Level: model.NotifyJobsDone,
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Site: model.Site{
			ID:        uuid.New(),
			Domain:    "shop.example.com",
			StartPage: "https://shop.example.com/catalog",
			PageXPaths: map[string]string{
				"price": "//span[@class='price']",
			},
		},
	}
}

func TestSaveCrawler_SerializesNestedDocuments(t *testing.T) {
	t.Parallel()
	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	s := &PostgresStore{db: db}

	c := testCrawler()
	require.NoError(t, s.SaveCrawler(context.Background(), c))

	require.Len(t, db.execs, 1)
	call := db.execs[0]
	require.Contains(t, call.sql, "INSERT INTO crawlers")
	require.Contains(t, call.sql, "ON CONFLICT (id) DO UPDATE")
	require.Len(t, call.args, 10)
	require.Equal(t, c.ID, call.args[0])

	var site model.Site
	require.NoError(t, json.Unmarshal(call.args[6].([]byte), &site))
	require.Equal(t, c.Site, site)
}

func TestGetCrawler_DecodesJSONBColumns(t *testing.T) {
	t.Parallel()
	want := testCrawler()
	notification, err := json.Marshal(want.Notification)
	require.NoError(t, err)
	site, err := json.Marshal(want.Site)
	require.NoError(t, err)

	db := &fakeDB{row: scanFunc(func(dest ...any) error {
		*dest[0].(*uuid.UUID) = want.ID
		*dest[1].(*string) = want.Name
		*dest[2].(*uuid.UUID) = want.UserID
		*dest[3].(*string) = want.TimerRule
		*dest[4].(*string) = string(want.Priority)
		*dest[5].(*[]byte) = notification
		*dest[6].(*[]byte) = site
		*dest[8].(*time.Time) = want.CreatedAt
		*dest[9].(*time.Time) = want.UpdatedAt
		return nil
	})}
	s := &PostgresStore{db: db}

	got, err := s.GetCrawler(context.Background(), want.ID)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGetCrawler_NoRowsIsNotFound(t *testing.T) {
	t.Parallel()
	db := &fakeDB{row: scanFunc(func(...any) error { return pgx.ErrNoRows })}
	s := &PostgresStore{db: db}

	_, err := s.GetCrawler(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkPageDone_MissingPageIsNotFound(t *testing.T) {
	t.Parallel()
	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	s := &PostgresStore{db: db}

	err := s.MarkPageDone(context.Background(), uuid.New(), time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSavePage_UpsertKeepsReparseCount(t *testing.T) {
	t.Parallel()
	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	s := &PostgresStore{db: db}

	p := model.StartPage(testCrawler())
	p.TimesReparsed = 3
	require.NoError(t, s.SavePage(context.Background(), p))

	require.Len(t, db.execs, 1)
	call := db.execs[0]
	require.Contains(t, call.sql, "INSERT INTO pages")
	require.True(t, strings.Contains(call.sql, "times_reparsed = EXCLUDED.times_reparsed"))
	require.Equal(t, 3, call.args[6])
}
