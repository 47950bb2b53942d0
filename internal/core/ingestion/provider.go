package ingestion

import "context"

// DocumentSource はドキュメントの供給元を表すインターフェース
type DocumentSource interface {
	// Load は (名前, 本文) のドキュメント一覧を順序付きで返す
	Load(ctx context.Context) ([]Document, error)
}

// Embedder はチャンクテキストのEmbedding生成インターフェース
type Embedder interface {
	// BatchEmbed はバッチで Embedding を生成する
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はベクトル次元数を返す
	Dimension() int

	// MaxBatchSize は1回の呼び出しで送れる最大件数を返す
	MaxBatchSize() int
}
