package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(size, overlap, WithChunkerLogger(discardLogger()))
	require.NoError(t, err)
	return c
}

func TestNewChunker_RejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{name: "zero size", size: 0, overlap: 0},
		{name: "negative overlap", size: 10, overlap: -1},
		{name: "overlap equals size", size: 10, overlap: 10},
		{name: "overlap exceeds size", size: 10, overlap: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.size, tt.overlap)
			assert.ErrorIs(t, err, apperror.ErrInvalidInput)
		})
	}
}

func TestChunker_SmallDocumentYieldsSingleChunk(t *testing.T) {
	c := newTestChunker(t, DefaultChunkSize, DefaultChunkOverlap)

	result, err := c.Split(context.Background(), []Document{
		{Name: "Refunds", Content: "We refund within 30 days."},
	})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Empty(t, result.Failures)

	chunk := result.Chunks[0]
	assert.Equal(t, "We refund within 30 days.", chunk.Text)
	assert.Equal(t, "Refunds", chunk.Metadata.Filename)
	assert.Equal(t, 0, chunk.Position)
}

func TestChunker_RespectsSizeAndOverlap(t *testing.T) {
	words := make([]string, 60)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	text := strings.Join(words, " ")

	const size, overlap = 40, 12
	c := newTestChunker(t, size, overlap)

	chunks := c.SplitText(text)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), size, "chunk %d too long", i)
		assert.Contains(t, text, chunk, "chunk %d is not a contiguous span of the input", i)
	}

	joined := strings.Join(chunks, " ")
	for _, w := range words {
		assert.Contains(t, joined, w)
	}

	for i := 1; i < len(chunks); i++ {
		shared := sharedBoundary(chunks[i-1], chunks[i])
		assert.LessOrEqual(t, utf8.RuneCountInString(shared), overlap, "chunks %d and %d overlap too much", i-1, i)
	}
}

func TestChunker_SplitsUnbrokenTextByCharacters(t *testing.T) {
	text := strings.Repeat("abcdefghij", 5)
	c := newTestChunker(t, 20, 5)

	chunks := c.SplitText(text)
	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.Equal(t, 20, utf8.RuneCountInString(chunk))
	}
	assert.True(t, strings.HasPrefix(chunks[1], chunks[0][15:]))
	assert.True(t, strings.HasSuffix(text, chunks[2]))
}

func TestChunker_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("返金は三十日以内です。", 10)
	c := newTestChunker(t, 25, 5)

	chunks := c.SplitText(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 25)
	}
}

func TestChunker_PrefersParagraphBoundaries(t *testing.T) {
	text := "First paragraph about refunds.\n\nSecond paragraph about shipping."
	c := newTestChunker(t, 40, 0)

	chunks := c.SplitText(text)
	assert.Equal(t, []string{
		"First paragraph about refunds.",
		"Second paragraph about shipping.",
	}, chunks)
}

func TestChunker_WhitespaceOnlyDocumentYieldsNoChunks(t *testing.T) {
	c := newTestChunker(t, 100, 10)

	chunks, err := c.SplitDocument(Document{Name: "Blank", Content: " \n\n\t "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunker_SplitRejectsEmptyInput(t *testing.T) {
	c := newTestChunker(t, 100, 10)

	_, err := c.Split(context.Background(), nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestChunker_SplitRecordsPerDocumentFailures(t *testing.T) {
	c := newTestChunker(t, 100, 10)

	result, err := c.Split(context.Background(), []Document{
		{Name: "Broken", Content: "bad \xff\xfe bytes"},
		{Name: "Shipping", Content: "We ship worldwide."},
	})
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "Broken", result.Failures[0].Document)
	assert.ErrorIs(t, result.Failures[0].Err, ErrInvalidDocument)

	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "Shipping", result.Chunks[0].Metadata.Filename)
}

func TestChunker_SplitStopsOnCancelledContext(t *testing.T) {
	c := newTestChunker(t, 100, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Split(ctx, []Document{{Name: "Refunds", Content: "We refund within 30 days."}})
	assert.ErrorIs(t, err, context.Canceled)
}

// sharedBoundary は a の接尾辞かつ b の接頭辞である最長の文字列を返す
func sharedBoundary(a, b string) string {
	for n := min(len(a), len(b)); n > 0; n-- {
		if strings.HasSuffix(a, b[:n]) {
			return b[:n]
		}
	}
	return ""
}

func TestChunker_MinimumSizeEmitsNoBlankChunks(t *testing.T) {
	c := newTestChunker(t, 1, 0)
	text := "Refunds\n\nare issued\nwithin 30 days."

	chunks := c.SplitText(text)
	require.NotEmpty(t, chunks)

	var joined strings.Builder
	for _, chunk := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(chunk))
		assert.Equal(t, strings.TrimSpace(chunk), chunk)
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 1)
		joined.WriteString(chunk)
	}
	assert.Equal(t, strings.Join(strings.Fields(text), ""), joined.String())
}
