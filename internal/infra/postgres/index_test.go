package postgres

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/platform/database"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

var testPool *pgxpool.Pool

// TestMain は pgvector コンテナを起動する。Docker が使えない場合や -short 指定時はスキップする。
func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	flag.Parse()
	if testing.Short() {
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping postgres tests: %v\n", err)
		return m.Run()
	}
	if err := pool.Client.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "skipping postgres tests: docker unavailable: %v\n", err)
		return m.Run()
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=ticketrag",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=ticketrag",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping postgres tests: could not start container: %v\n", err)
		return m.Run()
	}
	defer func() {
		_ = pool.Purge(resource)
	}()
	_ = resource.Expire(120)

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid container port: %v\n", err)
		return 1
	}
	params := database.ConnectionParams{
		Host:     "localhost",
		Port:     port,
		User:     "ticketrag",
		Password: "secret",
		DBName:   "ticketrag",
		SSLMode:  "disable",
	}

	pool.MaxWait = 60 * time.Second
	var db *database.DB
	if err := pool.Retry(func() error {
		var err error
		db, err = database.New(context.Background(), params)
		return err
	}); err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to postgres: %v\n", err)
		return 1
	}
	defer db.Close()

	testPool = db.Pool
	return m.Run()
}

func newTestIndex(t *testing.T, dimension int) *Index {
	t.Helper()
	if testPool == nil {
		t.Skip("postgres not available")
	}

	table := fmt.Sprintf("ticket_chunks_%d", time.Now().UnixNano())
	idx, err := NewIndex(testPool, dimension,
		WithTable(table),
		WithIndexLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})
	return idx
}

func TestIndex_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	err := idx.Add(ctx,
		[][]float32{{0, 0, 0}, {1, 0, 0}, {3, 0, 0}},
		[]search.Metadata{
			{Filename: "Refunds", Text: "We refund within 30 days."},
			{Filename: "Shipping", Text: "We ship worldwide."},
			{Filename: "Billing", Text: "Invoices are monthly."},
		},
	)
	require.NoError(t, err)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	docs, err := idx.Search(ctx, []float32{0.9, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Shipping", docs[0].Metadata.Filename)
	assert.Equal(t, "We ship worldwide.", docs[0].Metadata.Text)
	assert.InDelta(t, 0.01, docs[0].Score, 1e-4)
	assert.Equal(t, "Refunds", docs[1].Metadata.Filename)
	assert.InDelta(t, 0.81, docs[1].Score, 1e-4)
}

func TestIndex_SearchEmpty(t *testing.T) {
	idx := newTestIndex(t, 3)

	docs, err := idx.Search(context.Background(), []float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIndex_AddMismatchLeavesTableUntouched(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	err := idx.Add(ctx, [][]float32{{1, 2, 3}}, nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	err = idx.Add(ctx, [][]float32{{1, 2}}, []search.Metadata{{Filename: "x"}})
	assert.ErrorIs(t, err, search.ErrDimensionMismatch)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndex_Truncate(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 3)

	require.NoError(t, idx.Add(ctx, [][]float32{{1, 2, 3}}, []search.Metadata{{Filename: "x", Text: "y"}}))
	require.NoError(t, idx.Truncate(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
