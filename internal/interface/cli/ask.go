package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ticket-rag/internal/core/ticket"
)

// AskAction は単一チケットを解決して結果を表示するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	showSources := cmd.Bool("show-sources")

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Initialize(ctx); err != nil {
		return fmt.Errorf("サービスの初期化に失敗: %w", err)
	}

	svc, err := appCtx.Container.ResolveService()
	if err != nil {
		return err
	}

	params := ticket.ResolveParams{Query: question}
	if cmd.IsSet("top-k") {
		params.TopK = mo.Some(int(cmd.Int("top-k")))
	}

	result, err := svc.Resolve(ctx, params)
	if err != nil {
		appCtx.Logger().Error("チケット解決に失敗しました", "error", err)
		return fmt.Errorf("チケット解決に失敗: %w", err)
	}

	printResolveResult(os.Stdout, result, showSources)
	return nil
}

func printResolveResult(w io.Writer, result *ticket.ResolveResult, showSources bool) {
	resp := result.Response
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "action_required: %s\n", resp.ActionRequired)
	if len(resp.References) > 0 {
		fmt.Fprintf(w, "references: %s\n", strings.Join(resp.References, ", "))
	}
	fmt.Fprintf(w, "ticket_id: %s\n", result.TicketID)

	if !showSources {
		return
	}

	fmt.Fprintf(w, "\n--- 参照ソース (平均スコア: %.4f, 関連: %t) ---\n", result.MeanScore, result.Relevant)
	table := tablewriter.NewWriter(w)
	table.Header("#", "ファイル", "スコア", "抜粋")
	for i, doc := range result.Sources {
		table.Append(
			fmt.Sprintf("%d", i+1),
			doc.Metadata.Filename,
			fmt.Sprintf("%.4f", doc.Score),
			excerpt(doc.Metadata.Text, 60),
		)
	}
	table.Render()
}

// excerpt は改行を除いた先頭 n 文字を返す
func excerpt(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "…"
}
