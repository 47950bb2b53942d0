package ticket

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// Retriever はクエリに近いドキュメントを取得するインターフェース
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]search.RetrievedDocument, error)
}

var _ Retriever = (*search.SearchService)(nil)

// ResolveService はチケット解決のビジネスロジックを提供する
type ResolveService struct {
	retriever Retriever
	assembler *PromptAssembler
	generator *Generator
	schema    *ResponseSchema
	threshold float64
	polarity  Polarity
	logger    *slog.Logger
}

// ResolveServiceOption は ResolveService のオプション設定
type ResolveServiceOption func(*ResolveService)

// WithResolveLogger は ResolveService にロガーを設定する
func WithResolveLogger(logger *slog.Logger) ResolveServiceOption {
	return func(s *ResolveService) {
		s.logger = logger
	}
}

// WithRelevancyGate は関連性ゲートのしきい値とスコアの向きを設定する
func WithRelevancyGate(threshold float64, polarity Polarity) ResolveServiceOption {
	return func(s *ResolveService) {
		s.threshold = threshold
		s.polarity = polarity
	}
}

// NewResolveService は新しいResolveServiceを作成する
func NewResolveService(
	retriever Retriever,
	assembler *PromptAssembler,
	generator *Generator,
	schema *ResponseSchema,
	opts ...ResolveServiceOption,
) *ResolveService {
	svc := &ResolveService{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		schema:    schema,
		threshold: DefaultRelevancyThreshold,
		polarity:  PolarityLower,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Resolve はチケットに対して RAG ベースで構造化回答を生成する
func (s *ResolveService) Resolve(ctx context.Context, params ResolveParams) (*ResolveResult, error) {
	// 1. バリデーション（バックエンドに触れる前に行う）
	if strings.TrimSpace(params.Query) == "" {
		return nil, apperror.New(apperror.ErrInvalidInput, "query is required")
	}
	topK := params.TopK.OrElse(0)
	if params.TopK.IsPresent() && topK <= 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "top_k must be positive")
	}

	ticketID := uuid.NewString()
	logger := s.logger.With("ticketID", ticketID)

	// 2. Embedding + 近傍検索
	logger.Info("retrieving documents", "topK", topK)
	docs, err := s.retriever.Retrieve(ctx, params.Query, topK)
	if err != nil {
		logger.Error("retrieval failed", "error", err)
		return nil, err
	}

	// 3. 関連性ゲート
	mean := MeanScore(docs)
	relevant := IsRelevant(docs, s.threshold, s.polarity)
	logger.Info("relevancy checked",
		"documents", len(docs),
		"meanScore", mean,
		"threshold", s.threshold,
		"polarity", s.polarity,
		"relevant", relevant,
	)

	result := &ResolveResult{
		TicketID:  ticketID,
		Sources:   docs,
		Relevant:  relevant,
		MeanScore: mean,
	}

	// 4. フォールバック
	if !relevant {
		logger.Info("no relevant documents, returning fallback response")
		result.Response = FallbackResponse()
		return result, nil
	}

	// 5. プロンプト構築 + 生成
	contextDocs := make([]search.RetrievedDocument, 0, len(docs)+len(params.ExtraContext))
	contextDocs = append(contextDocs, docs...)
	for _, extra := range params.ExtraContext {
		contextDocs = append(contextDocs, search.RetrievedDocument{Metadata: extra})
	}

	prompt, err := s.assembler.Build(params.Query, contextDocs)
	if err != nil {
		return nil, err
	}
	logger.Info("prompt assembled",
		"contextDocuments", len(contextDocs),
		"tokens", s.assembler.TokenCount(prompt),
	)

	resp, err := s.generator.Generate(ctx, prompt, s.schema)
	if err != nil {
		logger.Error("generation failed", "error", err)
		return nil, err
	}

	logger.Info("ticket resolved",
		"actionRequired", resp.ActionRequired,
		"references", len(resp.References),
	)
	result.Response = resp
	return result, nil
}
