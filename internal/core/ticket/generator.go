package ticket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// JSONRequest は JSON 出力を要求する LLM 呼び出しのパラメータ
type JSONRequest struct {
	Prompt      string
	SchemaName  string
	Description string
	Schema      map[string]any
	Temperature float64
}

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	// GenerateJSON はスキーマに沿った JSON テキストを生成する
	GenerateJSON(ctx context.Context, req JSONRequest) (string, error)
}

// Generator は LLM 出力を検証して TicketResponse に変換する
type Generator struct {
	llm         LLMClient
	temperature float64
	logger      *slog.Logger
}

// GeneratorOption は Generator のオプション設定
type GeneratorOption func(*Generator)

// WithTemperature はサンプリング温度を設定する（既定 0）
func WithTemperature(t float64) GeneratorOption {
	return func(g *Generator) {
		g.temperature = t
	}
}

// WithGeneratorLogger は Generator にロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// NewGenerator は新しいGeneratorを作成する
func NewGenerator(llm LLMClient, opts ...GeneratorOption) *Generator {
	g := &Generator{
		llm:    llm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Generate はプロンプトから構造化されたレスポンスを生成する。
// 通信失敗と空レスポンスは ErrGenerationFailed、スキーマ不適合は ErrSchemaValidation を返す。
func (g *Generator) Generate(ctx context.Context, prompt string, schema *ResponseSchema) (*TicketResponse, error) {
	if schema == nil {
		return nil, apperror.New(apperror.ErrInvalidInput, "response schema is required")
	}

	g.logger.Info("sending request to LLM", "schema", schema.Name, "promptLength", len(prompt))
	text, err := g.llm.GenerateJSON(ctx, JSONRequest{
		Prompt:      prompt,
		SchemaName:  schema.Name,
		Description: schema.Description,
		Schema:      schema.Schema,
		Temperature: g.temperature,
	})
	if err != nil {
		g.logger.Error("LLM generation failed", "error", err)
		return nil, apperror.Wrap(apperror.ErrGenerationFailed, "LLM request failed", err)
	}
	if strings.TrimSpace(text) == "" {
		g.logger.Error("empty response from LLM")
		return nil, apperror.New(apperror.ErrGenerationFailed, "empty response from model")
	}

	g.logger.Debug("raw LLM response", "response", text)

	if err := schema.Validate(text); err != nil {
		g.logger.Error("schema validation failed", "error", err)
		return nil, apperror.Wrap(apperror.ErrSchemaValidation, "LLM returned invalid schema", err)
	}

	var resp TicketResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, apperror.Wrap(apperror.ErrSchemaValidation, "failed to decode LLM response", err)
	}
	if err := resp.ActionRequired.Validate(); err != nil {
		return nil, apperror.Wrap(apperror.ErrSchemaValidation, "LLM returned invalid action", err)
	}
	if resp.References == nil {
		resp.References = []string{}
	}

	g.logger.Info("response validated successfully", "actionRequired", resp.ActionRequired)
	return &resp, nil
}
