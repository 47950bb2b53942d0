package container

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/ticket"
	"github.com/jinford/ticket-rag/internal/infra/memory"
	"github.com/jinford/ticket-rag/internal/platform/config"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

const testDimension = 4

type constantEmbedder struct{}

func (constantEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (constantEmbedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (constantEmbedder) Dimension() int    { return testDimension }
func (constantEmbedder) MaxBatchSize() int { return 10 }

type cannedLLM struct {
	calls int
}

func (l *cannedLLM) GenerateJSON(_ context.Context, _ ticket.JSONRequest) (string, error) {
	l.calls++
	return `{"answer":"Refunds are processed within 5 days.","references":["Refund Policy"],"action_required":"none"}`, nil
}

type staticSource struct {
	docs []ingestion.Document
	err  error
}

func (s staticSource) Load(_ context.Context) ([]ingestion.Document, error) {
	return s.docs, s.err
}

type fixedCounter struct{}

func (fixedCounter) CountTokens(text string) int { return len(text) / 4 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Embedding.Dimension = testDimension
	cfg.Index.Backend = config.BackendMemory
	cfg.Index.SnapshotPath = filepath.Join(t.TempDir(), "index.db")
	cfg.Index.LoadSnapshot = false
	return cfg
}

func testSource() staticSource {
	return staticSource{docs: []ingestion.Document{
		{Name: "Refund Policy", Content: "Refunds are processed within 5 days of the request."},
		{Name: "Domain Suspension Policy", Content: "Domains may be suspended for abuse reports."},
	}}
}

func newTestContainer(t *testing.T, cfg *config.Config, llm ticket.LLMClient, source ingestion.DocumentSource, extra ...ContainerOption) *ServiceContainer {
	t.Helper()
	opts := []ContainerOption{
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(constantEmbedder{}),
		WithContainerLLMClient(llm),
		WithContainerDocumentSource(source),
		WithContainerTokenCounter(fixedCounter{}),
	}
	c := New(cfg, append(opts, extra...)...)
	t.Cleanup(c.Close)
	return c
}

func TestResolveServiceBeforeInitialize(t *testing.T) {
	c := newTestContainer(t, testConfig(t), &cannedLLM{}, testSource())

	assert.False(t, c.Ready())
	_, err := c.ResolveService()
	assert.ErrorIs(t, err, apperror.ErrNotReady)

	status := c.Status()
	assert.Equal(t, StateNotInitialized, status.Embedder)
	assert.Equal(t, StateNotInitialized, status.Index)
	assert.False(t, status.Ready)
}

func TestInitializeBuildsIndexAndResolves(t *testing.T) {
	llm := &cannedLLM{}
	c := newTestContainer(t, testConfig(t), llm, testSource())

	require.NoError(t, c.Initialize(context.Background()))
	assert.True(t, c.Ready())

	status := c.Status()
	assert.Equal(t, StateReady, status.Embedder)
	assert.Equal(t, StateReady, status.Index)
	assert.Equal(t, StateReady, status.Generator)
	assert.Equal(t, 2, status.IndexSize)
	assert.True(t, status.Ready)

	svc, err := c.ResolveService()
	require.NoError(t, err)

	result, err := svc.Resolve(context.Background(), ticket.ResolveParams{Query: "How long do refunds take?"})
	require.NoError(t, err)
	assert.True(t, result.Relevant)
	assert.Equal(t, ticket.ActionNone, result.Response.ActionRequired)
	assert.Equal(t, 1, llm.calls)
}

func TestInitializeLoadsSnapshot(t *testing.T) {
	cfg := testConfig(t)

	builder := newTestContainer(t, cfg, &cannedLLM{}, testSource())
	result, err := builder.RebuildIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Chunks)

	cfg.Index.LoadSnapshot = true
	failing := staticSource{err: errors.New("source must not be read")}
	c := newTestContainer(t, cfg, &cannedLLM{}, failing)

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, 2, c.Status().IndexSize)
}

func TestInitializeSnapshotMissing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.LoadSnapshot = true

	c := newTestContainer(t, cfg, &cannedLLM{}, testSource())

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, apperror.ErrDependencyInit)
	assert.False(t, c.Ready())
	assert.Equal(t, StateFailed, c.Status().Index)
}

func TestInitializeEmptySource(t *testing.T) {
	c := newTestContainer(t, testConfig(t), &cannedLLM{}, staticSource{})

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, apperror.ErrDependencyInit)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	assert.False(t, c.Ready())
}

func TestInitializeDimensionMismatch(t *testing.T) {
	index, err := memory.NewIndex(testDimension + 1)
	require.NoError(t, err)

	c := newTestContainer(t, testConfig(t), &cannedLLM{}, testSource(), WithContainerIndex(index))

	err = c.Initialize(context.Background())
	assert.ErrorIs(t, err, apperror.ErrDependencyInit)
	assert.False(t, c.Ready())
	assert.Equal(t, StateFailed, c.Status().Index)
}

func TestInitializeMissingAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.APIKey = ""

	c := New(cfg, WithContainerLogger(discardLogger()))
	t.Cleanup(c.Close)

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, apperror.ErrDependencyInit)
	assert.Equal(t, StateFailed, c.Status().Embedder)
}

func TestRebuildIndexRejectsPopulatedMemoryIndex(t *testing.T) {
	c := newTestContainer(t, testConfig(t), &cannedLLM{}, testSource())
	require.NoError(t, c.Initialize(context.Background()))

	_, err := c.RebuildIndex(context.Background())
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}
