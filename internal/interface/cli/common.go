package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jinford/ticket-rag/internal/platform/config"
	"github.com/jinford/ticket-rag/internal/platform/container"
	"github.com/jinford/ticket-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer

	logCloser io.Closer
}

// NewAppContext は設定ファイルを読み込み、ロガーとサービスコンテナを作成する。
// 外部依存への接続は各コマンドが必要に応じて行う。
func NewAppContext(envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	logCfg.File = cfg.Log.File
	appLogger, closer := logger.New(logCfg)

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)

	return &AppContext{
		Config:    cfg,
		Container: container.New(cfg, opts...),
		logCloser: closer,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
	if ac.logCloser != nil {
		_ = ac.logCloser.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}
