package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// defaultBatchSize は Embedder.MaxBatchSize() が無効な値を返した場合のフォールバック
const defaultBatchSize = 100

// IndexService はドキュメントからインデックスを構築するユースケースを提供する
type IndexService struct {
	chunker  *Chunker
	embedder Embedder
	index    search.Index
	logger   *slog.Logger
}

// IndexServiceOption は IndexService のオプション設定
type IndexServiceOption func(*IndexService)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(s *IndexService) {
		s.logger = logger
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(chunker *Chunker, embedder Embedder, index search.Index, opts ...IndexServiceOption) *IndexService {
	svc := &IndexService{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// BuildFromSource はドキュメントソースからロードしてインデックスを構築する
func (s *IndexService) BuildFromSource(ctx context.Context, source DocumentSource) (*BuildResult, error) {
	docs, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "no documents found")
	}
	s.logger.Info("loaded documents", "documents", len(docs))

	return s.Build(ctx, docs)
}

// Build はドキュメントをチャンク化・Embeddingしてインデックスへ追加する
func (s *IndexService) Build(ctx context.Context, docs []Document) (*BuildResult, error) {
	startTime := time.Now()

	split, err := s.chunker.Split(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk documents: %w", err)
	}
	if len(split.Chunks) == 0 {
		return nil, apperror.New(apperror.ErrInvalidInput,
			fmt.Sprintf("no chunks produced from %d documents (%d failed)", len(docs), len(split.Failures)))
	}

	vectors, chunks, err := s.EmbedChunks(ctx, split.Chunks)
	if err != nil {
		return nil, err
	}

	metadatas := make([]search.Metadata, len(chunks))
	for i, chunk := range chunks {
		metadatas[i] = search.Metadata{
			Filename: chunk.Metadata.Filename,
			Text:     chunk.Text,
		}
	}

	if err := s.index.Add(ctx, vectors, metadatas); err != nil {
		return nil, fmt.Errorf("failed to populate index: %w", err)
	}

	total, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count index entries: %w", err)
	}

	result := &BuildResult{
		Documents: len(docs),
		Chunks:    len(chunks),
		Failures:  split.Failures,
		Duration:  time.Since(startTime),
	}

	s.logger.Info("index build completed",
		"documents", result.Documents,
		"chunks", result.Chunks,
		"failures", len(result.Failures),
		"indexSize", total,
		"duration", result.Duration,
	)
	return result, nil
}

// EmbedChunks はチャンクをバッチ単位でEmbeddingし、チャンクと同じ順序のベクトルを返す。
// ベクトル次元が Embedder の設定と異なる場合は即座に失敗する。
func (s *IndexService) EmbedChunks(ctx context.Context, chunks []Chunk) ([][]float32, []Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil, apperror.New(apperror.ErrInvalidInput, "no chunks to embed")
	}

	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		s.logger.Warn("Embedder.MaxBatchSize() returned invalid value, using fallback",
			"maxBatchSize", batchSize,
			"fallback", defaultBatchSize,
		)
		batchSize = defaultBatchSize
	}

	dimension := s.embedder.Dimension()
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		batch, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to embed chunks [%d:%d]: %w", start, end, err)
		}
		if len(batch) != len(texts) {
			return nil, nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(batch), len(texts))
		}

		for i, vector := range batch {
			if len(vector) != dimension {
				return nil, nil, apperror.Wrap(apperror.ErrInvalidInput,
					fmt.Sprintf("chunk %d of %s", chunks[start+i].Position, chunks[start+i].Metadata.Filename),
					fmt.Errorf("%w: got %d want %d", search.ErrDimensionMismatch, len(vector), dimension))
			}
		}
		vectors = append(vectors, batch...)

		s.logger.Debug("embedded batch", "start", start, "end", end)
	}

	return vectors, chunks, nil
}
