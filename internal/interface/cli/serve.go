package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/interface/httpapi"
)

// ServeAction はHTTPサーバを起動し、並行してサービスを初期化するコマンドのアクション。
// 初期化が終わるまで /ready と /resolve-ticket は 503 を返す。
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	serverCfg := appCtx.Config.Server
	if addr := cmd.String("addr"); addr != "" {
		serverCfg.Addr = addr
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:            serverCfg.Addr,
		AllowedOrigins:  serverCfg.AllowedOrigins,
		ReadTimeout:     serverCfg.ReadTimeout,
		WriteTimeout:    serverCfg.WriteTimeout,
		ShutdownTimeout: serverCfg.ShutdownTimeout,
	}, appCtx.Container, httpapi.WithServerLogger(appCtx.Logger()))

	return serveWhileInitializing(ctx, server.Run, appCtx.Container.Initialize)
}

// serveWhileInitializing は run でサーバを起動したまま initialize を実行する。
// 初期化に失敗した場合はサーバを停止してエラーを返す。
func serveWhileInitializing(ctx context.Context, run, initialize func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- run(ctx)
	}()

	initErr := make(chan error, 1)
	go func() {
		initErr <- initialize(ctx)
	}()

	select {
	case err := <-runErr:
		// サーバが先に終了した場合は初期化も打ち切る
		cancel()
		<-initErr
		return err
	case err := <-initErr:
		if err != nil {
			cancel()
			<-runErr
			return fmt.Errorf("サービスの初期化に失敗: %w", err)
		}
	}

	return <-runErr
}
