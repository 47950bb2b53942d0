package openai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// Embedder は OpenAI 互換の Embeddings API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はインデックスの既定次元（all-MiniLM-L6-v2 と同じ）
	DefaultEmbeddingDimension = 384
	// MaxEmbeddingBatchSize は1リクエストあたりの最大入力件数
	MaxEmbeddingBatchSize = 100
)

type embedderOptions struct {
	model             string
	dimension         int
	baseURL           string
	requestsPerSecond float64
	requestOptions    []option.RequestOption
	logger            *slog.Logger
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は API のベースURLを上書きする（ローカルの互換サーバー向け）
func WithEmbeddingBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithEmbeddingRateLimit は1秒あたりのリクエスト数の上限を設定する（0 以下は無制限）
func WithEmbeddingRateLimit(requestsPerSecond float64) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestsPerSecond = requestsPerSecond
	}
}

// WithEmbeddingRequestOptions は SDK のリクエストオプションを追加する
func WithEmbeddingRequestOptions(opts ...option.RequestOption) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}

// WithEmbedderLogger は Embedder にロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = logger
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) (*Embedder, error) {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if options.dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive: %d", options.dimension)
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(options.baseURL))
	}
	requestOptions = append(requestOptions, options.requestOptions...)

	limit := rate.Inf
	if options.requestsPerSecond > 0 {
		limit = rate.Limit(options.requestsPerSecond)
	}

	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Embedder{
		client:    openai.NewClient(requestOptions...),
		model:     options.model,
		dimension: options.dimension,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}, nil
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "no texts provided")
	}
	if len(texts) > MaxEmbeddingBatchSize {
		return nil, apperror.New(apperror.ErrInvalidInput,
			fmt.Sprintf("batch size %d exceeds maximum of %d", len(texts), MaxEmbeddingBatchSize))
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperror.New(apperror.ErrInvalidInput, fmt.Sprintf("text %d is empty", i))
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, 0, len(data))
	for _, d := range data {
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		if len(vector) != e.dimension {
			e.logger.Warn("embedding dimension differs from configuration",
				"model", e.model,
				"got", len(vector),
				"want", e.dimension,
			)
		}
		embeddings = append(embeddings, vector)
	}

	e.logger.Debug("generated embeddings", "model", e.model, "count", len(embeddings))
	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す
func (e *Embedder) MaxBatchSize() int {
	return MaxEmbeddingBatchSize
}

// インターフェース実装の確認
var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ search.Embedder    = (*Embedder)(nil)
)
