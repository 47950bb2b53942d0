// Package memory はプロセス内で完結する厳密なベクトルインデックスを提供する。
//
// 全件走査の二乗L2距離で検索し、bbolt の単一ファイルにスナップショットを保存できる。
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// Index は二乗L2距離による全件走査のベクトルインデックス。
// 構築は一度、読み取りは並行に行われる前提で RWMutex で保護する。
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	metadatas []search.Metadata
	logger    *slog.Logger
}

// IndexOption は Index のオプション設定
type IndexOption func(*Index)

// WithIndexLogger は Index にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) {
		i.logger = logger
	}
}

// NewIndex は指定次元の空のインデックスを作成する
func NewIndex(dimension int, opts ...IndexOption) (*Index, error) {
	if dimension <= 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, fmt.Sprintf("dimension must be positive: %d", dimension))
	}
	idx := &Index{
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

// Dimension はベクトル次元数を返す
func (i *Index) Dimension() int { return i.dimension }

// Metric は距離指標を返す
func (i *Index) Metric() search.Metric { return search.MetricSquaredL2 }

// Add はベクトルとメタデータの組を追加する。
// 検証に失敗した場合はインデックスを変更しない。
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
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([][]float32, len(vectors))
	for n, v := range vectors {
		copied[n] = append([]float32(nil), v...)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.vectors = append(i.vectors, copied...)
	i.metadatas = append(i.metadatas, metadatas...)

	i.logger.Debug("added entries to index", "added", len(vectors), "total", len(i.vectors))
	return nil
}

// Search はクエリに近い上位 k 件を距離の昇順で返す。
// 空のインデックスや k <= 0 の場合は空のスライスを返す。
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]search.RetrievedDocument, error) {
	if len(query) != i.dimension {
		return nil, apperror.Wrap(apperror.ErrInvalidInput, "query vector",
			fmt.Errorf("%w: got %d want %d", search.ErrDimensionMismatch, len(query), i.dimension))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	if k <= 0 || len(i.vectors) == 0 {
		return []search.RetrievedDocument{}, nil
	}

	results := make([]search.RetrievedDocument, len(i.vectors))
	for n, v := range i.vectors {
		results[n] = search.RetrievedDocument{
			Score:    squaredL2(query, v),
			Metadata: i.metadatas[n],
		}
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score < results[b].Score })

	return results[:min(k, len(results))], nil
}

// Count は格納件数を返す
func (i *Index) Count(ctx context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.vectors), nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for n := range a {
		d := float64(a[n]) - float64(b[n])
		sum += d * d
	}
	return sum
}

// インターフェース実装の確認
var (
	_ search.Index       = (*Index)(nil)
	_ search.Snapshotter = (*Index)(nil)
)
