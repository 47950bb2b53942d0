package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/platform/config"
)

// IndexBuildAction はドキュメントからインデックスを構築するコマンドのアクション
func IndexBuildAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if dir := cmd.String("data-dir"); dir != "" {
		appCtx.Config.Data.Dir = dir
	}

	appCtx.Logger().Info("インデックス構築を開始", "dataDir", appCtx.Config.Data.Dir, "backend", appCtx.Config.Index.Backend)

	result, err := appCtx.Container.RebuildIndex(ctx)
	if err != nil {
		appCtx.Logger().Error("インデックス構築に失敗しました", "error", err)
		return fmt.Errorf("インデックス構築に失敗: %w", err)
	}

	printBuildResult(os.Stdout, appCtx.Config, result)
	return nil
}

// IndexStatsAction はインデックスの状態を表示するコマンドのアクション
func IndexStatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.OpenIndex(ctx); err != nil {
		return fmt.Errorf("インデックスのオープンに失敗: %w", err)
	}

	index := appCtx.Container.Index()
	if snap, ok := index.(search.Snapshotter); ok {
		if err := snap.Load(appCtx.Config.Index.SnapshotPath); err != nil {
			return fmt.Errorf("スナップショットの読み込みに失敗: %w", err)
		}
	}

	count, err := index.Count(ctx)
	if err != nil {
		return fmt.Errorf("インデックス件数の取得に失敗: %w", err)
	}

	printIndexStats(os.Stdout, appCtx.Config, index, count)
	return nil
}

func printBuildResult(w io.Writer, cfg *config.Config, result *ingestion.BuildResult) {
	fmt.Fprintln(w, "✓ インデックスを構築しました")

	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")
	table.Append("バックエンド", cfg.Index.Backend)
	table.Append("ドキュメント数", fmt.Sprintf("%d", result.Documents))
	table.Append("チャンク数", fmt.Sprintf("%d", result.Chunks))
	table.Append("分割失敗", fmt.Sprintf("%d", len(result.Failures)))
	table.Append("所要時間", result.Duration.String())
	if cfg.Index.Backend == config.BackendMemory {
		table.Append("スナップショット", cfg.Index.SnapshotPath)
	}
	table.Render()

	for _, f := range result.Failures {
		fmt.Fprintf(w, "  分割失敗: %s (%v)\n", f.Document, f.Err)
	}
}

func printIndexStats(w io.Writer, cfg *config.Config, index search.Index, count int) {
	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")
	table.Append("バックエンド", cfg.Index.Backend)
	table.Append("エントリ数", fmt.Sprintf("%d", count))
	table.Append("次元数", fmt.Sprintf("%d", index.Dimension()))
	table.Append("距離尺度", string(index.Metric()))
	table.Render()
}
