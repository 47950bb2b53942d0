package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/ticket-rag/internal/interface/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ticket-rag",
		Usage: "サポートドキュメントを根拠にチケットへ構造化回答を返す RAG サービス",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "インデックスを用意してHTTPサーバを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は SERVER_ADDR）",
					},
				},
				Action: appcli.ServeAction,
			},
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "build",
						Usage: "ドキュメントを読み込みインデックスを構築",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "data-dir",
								Usage: "ドキュメントディレクトリ（省略時は DATA_DIR）",
							},
						},
						Action: appcli.IndexBuildAction,
					},
					{
						Name:   "stats",
						Usage:  "インデックスの状態を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.IndexStatsAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "チケット本文を入力して回答を表示",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "検索で取得したドキュメントを表示",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索件数（省略時は RETRIEVAL_TOP_K）",
					},
				},
				Action: appcli.AskAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
