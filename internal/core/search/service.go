package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// DefaultTopK は検索件数の指定がない場合の既定値
const DefaultTopK = 5

// Embedder はクエリテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchService はクエリのEmbeddingと近傍検索を提供する
type SearchService struct {
	index       Index
	embedder    Embedder
	defaultTopK int
	logger      *slog.Logger
}

// SearchServiceOption は SearchService のオプション設定
type SearchServiceOption func(*SearchService)

// WithSearchLogger は SearchService にロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchServiceOption {
	return func(s *SearchService) {
		s.logger = logger
	}
}

// WithDefaultTopK は既定の検索件数を上書きする
func WithDefaultTopK(k int) SearchServiceOption {
	return func(s *SearchService) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(index Index, embedder Embedder, opts ...SearchServiceOption) *SearchService {
	svc := &SearchService{
		index:       index,
		embedder:    embedder,
		defaultTopK: DefaultTopK,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// DefaultTopK は既定の検索件数を返す
func (s *SearchService) DefaultTopK() int {
	return s.defaultTopK
}

// Retrieve はクエリをEmbeddingに変換し、上位 k 件のドキュメントを返す。
// k が 0 以下の場合は既定値を使う。
func (s *SearchService) Retrieve(ctx context.Context, query string, k int) ([]RetrievedDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperror.New(apperror.ErrInvalidInput, "query is required")
	}
	if k <= 0 {
		k = s.defaultTopK
	}

	s.logger.Debug("embedding user query", "queryLength", len(query))
	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrRetrieval, "failed to embed query", err)
	}
	if dim := s.index.Dimension(); len(queryVector) != dim {
		return nil, apperror.Wrap(apperror.ErrRetrieval, "query embedding does not match index",
			fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(queryVector), dim))
	}

	docs, err := s.index.Search(ctx, queryVector, k)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrRetrieval, "vector search failed", err)
	}

	s.logger.Debug("retrieved documents", "k", k, "results", len(docs))
	return docs, nil
}
