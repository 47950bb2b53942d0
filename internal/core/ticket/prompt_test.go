package ticket

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

type fixedCounter int

func (c fixedCounter) CountTokens(text string) int { return int(c) }

func sampleDocs() []search.RetrievedDocument {
	return []search.RetrievedDocument{
		{Score: 0.2, Metadata: search.Metadata{Filename: "Refunds", Text: "We refund within 30 days."}},
		{Score: 0.4, Metadata: search.Metadata{Filename: "Shipping", Text: "We ship worldwide."}},
	}
}

func TestPromptAssembler_BuildSectionOrder(t *testing.T) {
	p := NewPromptAssembler(WithPromptLogger(discardLogger()))

	prompt, err := p.Build("How do refunds work?", sampleDocs())
	require.NoError(t, err)

	markers := []string{
		"You are a Knowledge Assistant",
		"OUTPUT SCHEMA:",
		"ACTION LIST:",
		"FEW-SHOT EXAMPLE:",
		"QUERY CONTEXT:",
		"USER QUERY:",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		require.NotEqual(t, -1, idx, "missing section %q", m)
		assert.Greater(t, idx, last, "section %q out of order", m)
		last = idx
	}

	assert.Contains(t, prompt, "[Document 1] (filename: Refunds)\nWe refund within 30 days.")
	assert.Contains(t, prompt, "[Document 2] (filename: Shipping)\nWe ship worldwide.")
	assert.True(t, strings.HasSuffix(prompt, "USER QUERY:\nHow do refunds work?\n"))
	for _, a := range Actions {
		assert.Contains(t, prompt, string(a))
	}
}

func TestPromptAssembler_BuildIsDeterministic(t *testing.T) {
	p := NewPromptAssembler(WithPromptLogger(discardLogger()))

	first, err := p.Build("query", sampleDocs())
	require.NoError(t, err)
	second, err := p.Build("query", sampleDocs())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPromptAssembler_BuildRejectsInvalidInput(t *testing.T) {
	p := NewPromptAssembler(WithPromptLogger(discardLogger()))

	_, err := p.Build("", sampleDocs())
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = p.Build("query", nil)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestPromptAssembler_TruncatesContextByRunes(t *testing.T) {
	p := NewPromptAssembler(WithMaxContextChars(5), WithPromptLogger(discardLogger()))

	out := p.FormatContextDocuments([]search.RetrievedDocument{
		{Metadata: search.Metadata{Filename: "Japanese", Text: "返金は三十日以内です"}},
	})
	assert.Equal(t, "[Document 1] (filename: Japanese)\n返金は三十", out)
	assert.True(t, utf8.ValidString(out))
}

func TestPromptAssembler_FormatContextDocumentsEmpty(t *testing.T) {
	p := NewPromptAssembler()
	assert.Equal(t, "[No documents provided]", p.FormatContextDocuments(nil))
}

func TestPromptAssembler_TokenBudget(t *testing.T) {
	t.Run("exceeds budget", func(t *testing.T) {
		p := NewPromptAssembler(WithTokenCounter(fixedCounter(500)), WithMaxPromptTokens(100), WithPromptLogger(discardLogger()))

		_, err := p.Build("query", sampleDocs())
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)
		assert.ErrorIs(t, err, ErrPromptTooLarge)
	})

	t.Run("within budget", func(t *testing.T) {
		p := NewPromptAssembler(WithTokenCounter(fixedCounter(50)), WithMaxPromptTokens(100), WithPromptLogger(discardLogger()))

		prompt, err := p.Build("query", sampleDocs())
		require.NoError(t, err)
		assert.Equal(t, 50, p.TokenCount(prompt))
	})

	t.Run("no counter", func(t *testing.T) {
		p := NewPromptAssembler(WithMaxPromptTokens(1), WithPromptLogger(discardLogger()))

		prompt, err := p.Build("query", sampleDocs())
		require.NoError(t, err)
		assert.Zero(t, p.TokenCount(prompt))
	})
}

func TestFormatOutputSchema(t *testing.T) {
	schema := FormatOutputSchema()
	assert.Contains(t, schema, `"answer"`)
	assert.Contains(t, schema, `"references"`)
	assert.Contains(t, schema, `"action_required"`)

	answer := strings.Index(schema, `"answer"`)
	references := strings.Index(schema, `"references"`)
	action := strings.Index(schema, `"action_required"`)
	assert.Less(t, answer, references)
	assert.Less(t, references, action)
}
