package search

import (
	"context"
	"errors"
)

// ErrDimensionMismatch はベクトル次元がインデックスの次元と一致しない場合のエラー
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Index はベクトルとメタデータを対で保持し、近傍検索を提供するインターフェース。
// i 番目のベクトルと i 番目のメタデータは常に同じチャンクを指す。
type Index interface {
	// Add はベクトルとメタデータを対で追加する。長さが異なる場合は状態を変更せずエラーを返す。
	Add(ctx context.Context, vectors [][]float32, metadatas []Metadata) error

	// Search は距離の昇順で最大 k 件を返す。空のインデックスでは空スライスを返す。
	Search(ctx context.Context, query []float32, k int) ([]RetrievedDocument, error)

	// Count は格納済みエントリ数を返す
	Count(ctx context.Context) (int, error)

	// Dimension はベクトル次元数を返す
	Dimension() int

	// Metric は距離尺度を返す
	Metric() Metric
}

// Snapshotter はインデックス全体をファイルへ保存・復元できるインデックスが実装する。
// ベクトルとメタデータは常に一体で保存・復元される。
type Snapshotter interface {
	Save(path string) error
	Load(path string) error
}
