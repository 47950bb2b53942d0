package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

const (
	// DefaultChunkSize はチャンクあたりの最大文字数の既定値
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は隣接チャンク間で共有する文字数の既定値
	DefaultChunkOverlap = 100
)

// ErrInvalidDocument はドキュメント本文が分割できない場合のエラー
var ErrInvalidDocument = errors.New("invalid document content")

// defaultSeparators は大きな単位から順に試す区切り文字（段落、行、文、単語、文字）
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker はドキュメントを重なりのあるテキスト窓に分割する。
// 長さはすべて文字数（Unicode コードポイント）で数える。
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
	logger       *slog.Logger
}

// ChunkerOption は Chunker のオプション設定
type ChunkerOption func(*Chunker)

// WithChunkerLogger は Chunker にロガーを設定する
func WithChunkerLogger(logger *slog.Logger) ChunkerOption {
	return func(c *Chunker) {
		c.logger = logger
	}
}

// NewChunker は新しい Chunker を作成する。
// chunkSize > chunkOverlap >= 0 を満たさない場合はエラーを返す。
func NewChunker(chunkSize, chunkOverlap int, opts ...ChunkerOption) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, fmt.Sprintf("chunk size must be positive: %d", chunkSize))
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, apperror.New(apperror.ErrInvalidInput,
			fmt.Sprintf("chunk overlap must be in [0, %d): %d", chunkSize, chunkOverlap))
	}

	c := &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// ChunkSize はチャンクの最大文字数を返す
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap は重なり文字数を返す
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Split はすべてのドキュメントをチャンクに分割する。
// 個別ドキュメントの失敗は Failures に記録し、そのドキュメントはチャンクを生成しない。
func (c *Chunker) Split(ctx context.Context, docs []Document) (*SplitResult, error) {
	if len(docs) == 0 {
		return nil, apperror.New(apperror.ErrInvalidInput, "documents must be provided")
	}

	result := &SplitResult{}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunks, err := c.SplitDocument(doc)
		if err != nil {
			c.logger.Warn("failed to split document", "filename", doc.Name, "error", err)
			result.Failures = append(result.Failures, SplitFailure{Document: doc.Name, Err: err})
			continue
		}

		c.logger.Info("split document", "filename", doc.Name, "chunks", len(chunks))
		result.Chunks = append(result.Chunks, chunks...)
	}

	c.logger.Info("chunking completed",
		"documents", len(docs),
		"chunks", len(result.Chunks),
		"failures", len(result.Failures),
	)
	return result, nil
}

// SplitDocument は単一ドキュメントをメタデータ付きチャンクに分割する
func (c *Chunker) SplitDocument(doc Document) ([]Chunk, error) {
	if !utf8.ValidString(doc.Content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidDocument, doc.Name)
	}

	texts := c.SplitText(doc.Content)
	chunks := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, Chunk{
			Text:     text,
			Metadata: ChunkMetadata{Filename: doc.Name},
			Position: i,
		})
	}
	return chunks, nil
}

// SplitText はテキストを chunkSize 以下の窓に分割する
func (c *Chunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.splitRecursive(text, c.separators)
}

// splitRecursive はテキストに含まれる最大の区切りで分割し、
// なお長すぎる断片は次の区切りで再帰的に分割する
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var final, pending []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < c.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			final = append(final, c.merge(pending)...)
			pending = nil
		}
		if len(next) == 0 {
			// これ以上分割できない断片も空白を除き、空なら捨てる
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				final = append(final, trimmed)
			}
		} else {
			final = append(final, c.splitRecursive(piece, next)...)
		}
	}
	if len(pending) > 0 {
		final = append(final, c.merge(pending)...)
	}
	return final
}

// merge は短い断片を chunkSize 以内にまとめる。
// 窓を出力するたびに末尾 chunkOverlap 文字以内の断片を次の窓へ持ち越す。
func (c *Chunker) merge(pieces []string) []string {
	var out []string
	var current []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > c.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				out = append(out, chunk)
			}
			for total > c.chunkOverlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// splitKeepSeparator は区切りを直前の断片の末尾に残したまま分割する。
// 区切りが空文字の場合は1文字ずつに分割する。
func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.SplitAfter(text, separator)
	pieces := parts[:0]
	for _, p := range parts {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
