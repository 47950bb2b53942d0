package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/platform/database"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// DefaultTable はチャンクを格納するテーブル名
const DefaultTable = "ticket_chunks"

// Index は pgvector を使用した search.Index 実装。
// スコアは二乗L2距離で返し、メモリ実装と同じしきい値で扱えるようにする。
type Index struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
	logger    *slog.Logger
}

// IndexOption は Index のオプション設定
type IndexOption func(*Index)

// WithTable はテーブル名を上書きする
func WithTable(table string) IndexOption {
	return func(i *Index) {
		if table != "" {
			i.table = table
		}
	}
}

// WithIndexLogger は Index にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex は新しい Index を作成する
func NewIndex(pool *pgxpool.Pool, dimension int, opts ...IndexOption) (*Index, error) {
	if dimension <= 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, fmt.Sprintf("dimension must be positive: %d", dimension))
	}
	idx := &Index{
		pool:      pool,
		table:     DefaultTable,
		dimension: dimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}
	return idx, nil
}

// EnsureSchema は vector 拡張とテーブルを作成する
func (i *Index) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{i.table}.Sanitize()
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         BIGSERIAL PRIMARY KEY,
			filename   TEXT NOT NULL,
			content    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, i.dimension),
	}
	for _, stmt := range statements {
		if _, err := i.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Truncate はすべてのエントリを削除する
func (i *Index) Truncate(ctx context.Context) error {
	if _, err := i.pool.Exec(ctx, "TRUNCATE "+pgx.Identifier{i.table}.Sanitize()); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", i.table, err)
	}
	return nil
}

// Dimension はベクトル次元数を返す
func (i *Index) Dimension() int { return i.dimension }

// Metric は距離指標を返す
func (i *Index) Metric() search.Metric { return search.MetricSquaredL2 }

// Add はベクトルとメタデータの組を1トランザクションで追加する
func (i *Index) Add(ctx context.Context, vectors [][]float32, metadatas []search.Metadata) error {
	if len(vectors) != len(metadatas) {
		return apperror.New(apperror.ErrInvalidInput,
			fmt.Sprintf("vectors and metadatas length mismatch: %d != %d", len(vectors), len(metadatas)))
	}
	for n, v := range vectors {
		if len(v) != i.dimension {
			return apperror.Wrap(apperror.ErrInvalidInput, fmt.Sprintf("vector %d", n),
				fmt.Errorf("%w: got %d want %d", search.ErrDimensionMismatch, len(v), i.dimension))
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (filename, content, embedding) VALUES ($1, $2, $3)",
		pgx.Identifier{i.table}.Sanitize())

	_, err := database.Transact(ctx, i.pool, func(tx pgx.Tx) (struct{}, error) {
		batch := &pgx.Batch{}
		for n := range vectors {
			batch.Queue(query, metadatas[n].Filename, metadatas[n].Text, pgvector.NewVector(vectors[n]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("failed to insert chunks: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	i.logger.Debug("added entries to index", "table", i.table, "added", len(vectors))
	return nil
}

// Search はクエリに近い上位 k 件を距離の昇順で返す
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]search.RetrievedDocument, error) {
	if len(query) != i.dimension {
		return nil, apperror.Wrap(apperror.ErrInvalidInput, "query vector",
			fmt.Errorf("%w: got %d want %d", search.ErrDimensionMismatch, len(query), i.dimension))
	}
	if k <= 0 {
		return []search.RetrievedDocument{}, nil
	}

	sql := fmt.Sprintf(`SELECT filename, content, power(embedding <-> $1, 2) AS score
		FROM %s
		ORDER BY embedding <-> $1, id
		LIMIT $2`, pgx.Identifier{i.table}.Sanitize())

	rows, err := i.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", i.table, err)
	}
	defer rows.Close()

	results := make([]search.RetrievedDocument, 0, k)
	for rows.Next() {
		var doc search.RetrievedDocument
		if err := rows.Scan(&doc.Metadata.Filename, &doc.Metadata.Text, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// Count は格納件数を返す
func (i *Index) Count(ctx context.Context) (int, error) {
	var count int64
	if err := i.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{i.table}.Sanitize()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", i.table, err)
	}
	return int(count), nil
}

// インターフェース実装の確認
var _ search.Index = (*Index)(nil)
