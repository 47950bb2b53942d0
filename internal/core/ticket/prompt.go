package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// DefaultMaxContextChars はコンテキストドキュメント1件あたりの最大文字数
const DefaultMaxContextChars = 1000

// ErrPromptTooLarge はプロンプトがトークン上限を超えた場合のエラー
var ErrPromptTooLarge = errors.New("prompt exceeds token budget")

// TokenCounter はトークン数の計測インターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

const systemRole = `You are a Knowledge Assistant that can analyze customer support queries and return structured, relevant, and helpful responses.

TASK:
Resolve the customer ticket strictly using the provided context.

RULES:
You will be provided with QUERY CONTEXT. Use only the QUERY CONTEXT to answer questions. Do not answer from yourself or infer hallucinations.
If an answer cannot be derived from the context, respond that the information is unavailable.
Cite the exact document sources using the filenames from the QUERY CONTEXT given.
Determine the action to take using the action list provided. Do not infer an action that is not mentioned from the list.
Return only the response in the valid JSON output format provided. Do not include markdown. Do not include explanations. Use the examples provided to structure response.`

// fewShotExample はインコンテキスト学習用の固定例
var fewShotExample = struct {
	Query   string
	Context []search.RetrievedDocument
	Output  TicketResponse
}{
	Query: "My domain was suspended and I didn't get any notice. How can I reactivate it?",
	Context: []search.RetrievedDocument{{
		Metadata: search.Metadata{
			Filename: "Domain Suspension Policy",
			Text:     "Your domain may have been suspended due to a violation of policy or missing WHOIS information. Please update your WHOIS details and contact support.",
		},
	}},
	Output: TicketResponse{
		Answer:         "Your domain may have been suspended due to a violation of policy or missing WHOIS information. Please update your WHOIS details and contact support.",
		References:     []string{"Domain Suspension Policy"},
		ActionRequired: ActionEscalateToAbuseTeam,
	},
}

// PromptAssembler はチケット解決用のプロンプトを固定テンプレートで組み立てる
type PromptAssembler struct {
	maxContextChars int
	maxTokens       int
	counter         TokenCounter
	logger          *slog.Logger
}

// PromptAssemblerOption は PromptAssembler のオプション設定
type PromptAssemblerOption func(*PromptAssembler)

// WithMaxContextChars はドキュメント1件あたりの最大文字数を設定する
func WithMaxContextChars(n int) PromptAssemblerOption {
	return func(p *PromptAssembler) {
		if n > 0 {
			p.maxContextChars = n
		}
	}
}

// WithTokenCounter はトークン計測器を設定する
func WithTokenCounter(counter TokenCounter) PromptAssemblerOption {
	return func(p *PromptAssembler) {
		p.counter = counter
	}
}

// WithMaxPromptTokens はプロンプト全体のトークン上限を設定する（0 は無制限）。
// TokenCounter が設定されていない場合は無視される。
func WithMaxPromptTokens(n int) PromptAssemblerOption {
	return func(p *PromptAssembler) {
		p.maxTokens = n
	}
}

// WithPromptLogger は PromptAssembler にロガーを設定する
func WithPromptLogger(logger *slog.Logger) PromptAssemblerOption {
	return func(p *PromptAssembler) {
		p.logger = logger
	}
}

// NewPromptAssembler は新しいPromptAssemblerを作成する
func NewPromptAssembler(opts ...PromptAssemblerOption) *PromptAssembler {
	p := &PromptAssembler{
		maxContextChars: DefaultMaxContextChars,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Build はクエリとコンテキストドキュメントからプロンプトを構築する
func (p *PromptAssembler) Build(query string, docs []search.RetrievedDocument) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", apperror.New(apperror.ErrInvalidInput, "query is required")
	}
	if len(docs) == 0 {
		return "", apperror.New(apperror.ErrInvalidInput, "context documents are required")
	}

	var sb strings.Builder

	sb.WriteString(systemRole)
	sb.WriteString("\n\n")

	sb.WriteString("OUTPUT SCHEMA:\n")
	sb.WriteString(FormatOutputSchema())
	sb.WriteString("\n\n")

	sb.WriteString("ACTION LIST:\n")
	sb.WriteString(FormatActions())
	sb.WriteString("\n\n")

	sb.WriteString("FEW-SHOT EXAMPLE:\n")
	sb.WriteString("Query: ")
	sb.WriteString(fewShotExample.Query)
	sb.WriteString("\nContext:\n")
	sb.WriteString(p.FormatContextDocuments(fewShotExample.Context))
	sb.WriteString("\nExample Response:\n")
	sb.WriteString(toJSON(fewShotExample.Output))
	sb.WriteString("\n\n")

	sb.WriteString("QUERY CONTEXT:\n")
	sb.WriteString(p.FormatContextDocuments(docs))
	sb.WriteString("\n\n")

	sb.WriteString("USER QUERY:\n")
	sb.WriteString(query)
	sb.WriteString("\n")

	prompt := sb.String()

	if p.counter != nil && p.maxTokens > 0 {
		tokens := p.counter.CountTokens(prompt)
		if tokens > p.maxTokens {
			p.logger.Warn("prompt exceeds token budget", "tokens", tokens, "maxTokens", p.maxTokens)
			return "", apperror.Wrap(apperror.ErrInvalidInput,
				fmt.Sprintf("%d tokens > %d", tokens, p.maxTokens), ErrPromptTooLarge)
		}
	}

	p.logger.Debug("prompt built", "documents", len(docs), "length", len(prompt))
	return prompt, nil
}

// TokenCount はプロンプトのトークン数を返す。TokenCounter 未設定時は 0。
func (p *PromptAssembler) TokenCount(prompt string) int {
	if p.counter == nil {
		return 0
	}
	return p.counter.CountTokens(prompt)
}

// FormatContextDocuments はドキュメントを番号とファイル名付きで整形する。
// 本文は maxContextChars 文字で切り詰める。
func (p *PromptAssembler) FormatContextDocuments(docs []search.RetrievedDocument) string {
	if len(docs) == 0 {
		return "[No documents provided]"
	}

	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		parts = append(parts, fmt.Sprintf("[Document %d] (filename: %s)\n%s",
			i+1, doc.Metadata.Filename, truncateRunes(doc.Metadata.Text, p.maxContextChars)))
	}
	return strings.Join(parts, "\n\n")
}

// outputFormat は出力形式の説明。フィールド順がそのままプロンプトに現れる。
type outputFormat struct {
	Answer         string   `json:"answer"`
	References     []string `json:"references"`
	ActionRequired string   `json:"action_required"`
}

// FormatOutputSchema は出力形式の説明を返す
func FormatOutputSchema() string {
	return toJSON(outputFormat{
		Answer:         "A clear and concise answer to the customer's question based on the provided context",
		References:     []string{"List of document references"},
		ActionRequired: "Return exactly one value from the ACTION LIST",
	})
}

// FormatActions は対応一覧を返す
func FormatActions() string {
	names := make([]string, len(Actions))
	for i, a := range Actions {
		names[i] = fmt.Sprintf("%q", string(a))
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func toJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
