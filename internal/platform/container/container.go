package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	coreingestion "github.com/jinford/ticket-rag/internal/core/ingestion"
	coresearch "github.com/jinford/ticket-rag/internal/core/search"
	coreticket "github.com/jinford/ticket-rag/internal/core/ticket"
	"github.com/jinford/ticket-rag/internal/infra/filesystem"
	"github.com/jinford/ticket-rag/internal/infra/memory"
	"github.com/jinford/ticket-rag/internal/infra/openai"
	"github.com/jinford/ticket-rag/internal/infra/postgres"
	"github.com/jinford/ticket-rag/internal/platform/config"
	"github.com/jinford/ticket-rag/internal/platform/database"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

// Embedder は構築時・検索時の両方で使う Embedding 生成器
type Embedder interface {
	coreingestion.Embedder
	coresearch.Embedder
}

// ComponentState はコンポーネントの初期化状態
type ComponentState string

const (
	StateNotInitialized ComponentState = "not_initialized"
	StateReady          ComponentState = "ready"
	StateFailed         ComponentState = "failed"
)

// Status はコンテナの準備状況
type Status struct {
	Embedder  ComponentState `json:"embedder"`
	Index     ComponentState `json:"index"`
	Generator ComponentState `json:"generator"`
	Backend   string         `json:"backend"`
	IndexSize int            `json:"index_size"`
	Ready     bool           `json:"ready"`
}

// ServiceContainer はチケット解決に必要な依存関係を保持する。
// New で構築し、Initialize で外部依存の初期化とインデックス構築を明示的に行う。
type ServiceContainer struct {
	cfg     *config.Config
	options containerOptions
	logger  *slog.Logger

	mu             sync.RWMutex
	embedder       Embedder
	index          coresearch.Index
	indexService   *coreingestion.IndexService
	searchService  *coresearch.SearchService
	resolveService *coreticket.ResolveService
	database       *database.DB
	status         Status

	ready atomic.Bool
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     Embedder
	index        coresearch.Index
	llmClient    coreticket.LLMClient
	source       coreingestion.DocumentSource
	tokenCounter coreticket.TokenCounter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerIndex はベクトルインデックスを差し替える
func WithContainerIndex(index coresearch.Index) ContainerOption {
	return func(opts *containerOptions) {
		opts.index = index
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client coreticket.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerDocumentSource はドキュメントの供給元を差し替える
func WithContainerDocumentSource(source coreingestion.DocumentSource) ContainerOption {
	return func(opts *containerOptions) {
		opts.source = source
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter coreticket.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// New は設定からコンテナを生成する。外部依存にはまだ接続しない。
func New(cfg *config.Config, opts ...ContainerOption) *ServiceContainer {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &ServiceContainer{
		cfg:     cfg,
		options: options,
		logger:  options.logger,
		status: Status{
			Embedder:  StateNotInitialized,
			Index:     StateNotInitialized,
			Generator: StateNotInitialized,
			Backend:   cfg.Index.Backend,
		},
	}
}

// Initialize は Embedder・インデックス・生成器を初期化し、インデックスを用意する。
// いずれかの失敗は ErrDependencyInit として返し、コンテナは未準備のまま残る。
func (c *ServiceContainer) Initialize(ctx context.Context) error {
	c.logger.Info("initializing services", "backend", c.cfg.Index.Backend)

	if err := c.initRetrieval(ctx); err != nil {
		return err
	}
	if err := c.initGenerator(); err != nil {
		return err
	}
	if err := c.populateIndex(ctx); err != nil {
		c.setState(func(s *Status) { s.Index = StateFailed })
		return apperror.Wrap(apperror.ErrDependencyInit, "インデックスの構築に失敗しました", err)
	}

	c.refreshSize(ctx)
	c.ready.Store(true)
	c.setState(func(s *Status) { s.Ready = true })

	c.logger.Info("services initialized", "indexSize", c.Status().IndexSize)
	return nil
}

// OpenIndex は Embedder とインデックスのみを初期化する（CLI 用）
func (c *ServiceContainer) OpenIndex(ctx context.Context) error {
	return c.initRetrieval(ctx)
}

// RebuildIndex はドキュメントを読み込み直してインデックスを再構築する。
// memory バックエンドではスナップショットも保存する。
func (c *ServiceContainer) RebuildIndex(ctx context.Context) (*coreingestion.BuildResult, error) {
	if err := c.initRetrieval(ctx); err != nil {
		return nil, err
	}

	var result *coreingestion.BuildResult
	err := c.withBuildLock(ctx, func(ctx context.Context) error {
		switch idx := c.Index().(type) {
		case *postgres.Index:
			if err := idx.Truncate(ctx); err != nil {
				return err
			}
		case *memory.Index:
			if n, _ := idx.Count(ctx); n > 0 {
				return apperror.New(apperror.ErrInvalidInput, "memory index is already populated")
			}
		}

		var err error
		result, err = c.indexService.BuildFromSource(ctx, c.documentSource())
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := c.saveSnapshot(); err != nil {
		return nil, err
	}

	c.refreshSize(ctx)
	return result, nil
}

// Ready は初期化が完了しているかを返す
func (c *ServiceContainer) Ready() bool {
	return c.ready.Load()
}

// Status は各コンポーネントの状態を返す
func (c *ServiceContainer) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ResolveService は初期化済みの ResolveService を返す。未初期化の場合は ErrNotReady。
func (c *ServiceContainer) ResolveService() (*coreticket.ResolveService, error) {
	if !c.Ready() {
		return nil, apperror.New(apperror.ErrNotReady, "services are still initializing")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolveService, nil
}

// Index はベクトルインデックスを返す（未初期化時は nil）
func (c *ServiceContainer) Index() coresearch.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// Config は設定を返す
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.database != nil {
		c.database.Close()
		c.database = nil
	}
}

func (c *ServiceContainer) initRetrieval(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.searchService != nil {
		return nil
	}

	// Embedder (OpenAI 互換)
	embedder := c.options.embedder
	if embedder == nil {
		e, err := openai.NewEmbedder(
			c.cfg.Embedding.APIKey,
			openai.WithEmbeddingModel(c.cfg.Embedding.Model),
			openai.WithEmbeddingDimension(c.cfg.Embedding.Dimension),
			openai.WithEmbeddingBaseURL(c.cfg.Embedding.BaseURL),
			openai.WithEmbeddingRateLimit(c.cfg.Embedding.RequestsPerSecond),
			openai.WithEmbedderLogger(c.logger),
		)
		if err != nil {
			c.status.Embedder = StateFailed
			return apperror.Wrap(apperror.ErrDependencyInit, "Embedder 初期化に失敗しました", err)
		}
		embedder = e
	}
	c.status.Embedder = StateReady

	// Index
	index := c.options.index
	if index == nil {
		var err error
		index, err = c.newIndex(ctx)
		if err != nil {
			c.status.Index = StateFailed
			return apperror.Wrap(apperror.ErrDependencyInit, "インデックス初期化に失敗しました", err)
		}
	}
	if index.Dimension() != embedder.Dimension() {
		c.status.Index = StateFailed
		return apperror.Wrap(apperror.ErrDependencyInit, "インデックス初期化に失敗しました",
			fmt.Errorf("%w: index %d, embedder %d", coresearch.ErrDimensionMismatch, index.Dimension(), embedder.Dimension()))
	}
	c.status.Index = StateReady

	chunker, err := coreingestion.NewChunker(c.cfg.Chunking.Size, c.cfg.Chunking.Overlap,
		coreingestion.WithChunkerLogger(c.logger))
	if err != nil {
		return apperror.Wrap(apperror.ErrDependencyInit, "Chunker 初期化に失敗しました", err)
	}

	c.embedder = embedder
	c.index = index
	c.indexService = coreingestion.NewIndexService(chunker, embedder, index, coreingestion.WithIndexLogger(c.logger))
	c.searchService = coresearch.NewSearchService(index, embedder,
		coresearch.WithSearchLogger(c.logger),
		coresearch.WithDefaultTopK(c.cfg.Retrieval.TopK),
	)
	return nil
}

func (c *ServiceContainer) newIndex(ctx context.Context) (coresearch.Index, error) {
	switch c.cfg.Index.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     c.cfg.Database.Host,
			Port:     c.cfg.Database.Port,
			User:     c.cfg.Database.User,
			Password: c.cfg.Database.Password,
			DBName:   c.cfg.Database.DBName,
			SSLMode:  c.cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		idx, err := postgres.NewIndex(db.Pool, c.cfg.Embedding.Dimension, postgres.WithIndexLogger(c.logger))
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := idx.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		c.database = db
		return idx, nil
	default:
		return memory.NewIndex(c.cfg.Embedding.Dimension, memory.WithIndexLogger(c.logger))
	}
}

func (c *ServiceContainer) initGenerator() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	llm := c.options.llmClient
	if llm == nil {
		client, err := openai.NewClient(
			c.cfg.LLM.APIKey,
			openai.WithModel(c.cfg.LLM.Model),
			openai.WithBaseURL(c.cfg.LLM.BaseURL),
			openai.WithTimeout(c.cfg.LLM.Timeout),
			openai.WithClientLogger(c.logger),
		)
		if err != nil {
			c.status.Generator = StateFailed
			return apperror.Wrap(apperror.ErrDependencyInit, "OpenAI LLMクライアント初期化に失敗しました", err)
		}
		llm = client
	}

	counter := c.options.tokenCounter
	if counter == nil {
		tc, err := newTokenCounter()
		switch {
		case err == nil:
			counter = tc
		case c.cfg.Prompt.MaxTokens > 0:
			c.status.Generator = StateFailed
			return apperror.Wrap(apperror.ErrDependencyInit, "TokenCounter 初期化に失敗しました", err)
		default:
			c.logger.Warn("token counter unavailable, prompt token counts disabled", "error", err)
		}
	}

	schema, err := coreticket.TicketResponseSchema()
	if err != nil {
		c.status.Generator = StateFailed
		return apperror.Wrap(apperror.ErrDependencyInit, "レスポンススキーマの初期化に失敗しました", err)
	}

	polarity, err := coreticket.ParsePolarity(c.cfg.Retrieval.RelevancyPolarity)
	if err != nil {
		return apperror.Wrap(apperror.ErrDependencyInit, "関連性ゲートの設定が不正です", err)
	}

	assemblerOpts := []coreticket.PromptAssemblerOption{
		coreticket.WithMaxContextChars(c.cfg.Prompt.MaxContextChars),
		coreticket.WithMaxPromptTokens(c.cfg.Prompt.MaxTokens),
		coreticket.WithPromptLogger(c.logger),
	}
	if counter != nil {
		assemblerOpts = append(assemblerOpts, coreticket.WithTokenCounter(counter))
	}

	c.resolveService = coreticket.NewResolveService(
		c.searchService,
		coreticket.NewPromptAssembler(assemblerOpts...),
		coreticket.NewGenerator(llm,
			coreticket.WithTemperature(c.cfg.LLM.Temperature),
			coreticket.WithGeneratorLogger(c.logger),
		),
		schema,
		coreticket.WithRelevancyGate(c.cfg.Retrieval.RelevancyThreshold, polarity),
		coreticket.WithResolveLogger(c.logger),
	)
	c.status.Generator = StateReady
	return nil
}

// populateIndex は起動時にインデックスを用意する。
// memory はスナップショット読み込みまたはドキュメントからの構築、postgres は空の場合のみ構築する。
func (c *ServiceContainer) populateIndex(ctx context.Context) error {
	return c.withBuildLock(ctx, func(ctx context.Context) error {
		index := c.Index()

		count, err := index.Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			c.logger.Info("index already populated", "entries", count)
			return nil
		}

		if snap, ok := index.(coresearch.Snapshotter); ok && c.cfg.Index.LoadSnapshot {
			return snap.Load(c.cfg.Index.SnapshotPath)
		}

		_, err = c.indexService.BuildFromSource(ctx, c.documentSource())
		return err
	})
}

// buildLocker はプロセス間で構築を排他できるインデックスが実装する
type buildLocker interface {
	WithBuildLock(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ buildLocker = (*postgres.Index)(nil)

func (c *ServiceContainer) withBuildLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if locker, ok := c.Index().(buildLocker); ok {
		return locker.WithBuildLock(ctx, fn)
	}
	return fn(ctx)
}

func (c *ServiceContainer) saveSnapshot() error {
	snap, ok := c.Index().(coresearch.Snapshotter)
	if !ok || c.cfg.Index.SnapshotPath == "" {
		return nil
	}
	return snap.Save(c.cfg.Index.SnapshotPath)
}

func (c *ServiceContainer) documentSource() coreingestion.DocumentSource {
	if c.options.source != nil {
		return c.options.source
	}
	return filesystem.NewLoader(c.cfg.Data.Dir, filesystem.WithLoaderLogger(c.logger))
}

func (c *ServiceContainer) refreshSize(ctx context.Context) {
	index := c.Index()
	if index == nil {
		return
	}
	n, err := index.Count(ctx)
	if err != nil {
		c.logger.Warn("failed to count index entries", "error", err)
		return
	}
	c.setState(func(s *Status) { s.IndexSize = n })
}

func (c *ServiceContainer) setState(fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
}
