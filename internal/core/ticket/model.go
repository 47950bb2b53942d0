package ticket

import (
	"fmt"

	"github.com/samber/mo"

	"github.com/jinford/ticket-rag/internal/core/search"
)

// ActionRequired はチケットに対して取るべき対応を表す
type ActionRequired string

const (
	ActionNone                ActionRequired = "none"
	ActionEscalateToAbuseTeam ActionRequired = "escalate_to_abuse_team"
	ActionEscalateToLegalTeam ActionRequired = "escalate_to_legal_team"
	ActionEscalateToSalesTeam ActionRequired = "escalate_to_sales_team"
	ActionFollowUpRequired    ActionRequired = "follow_up_required"
)

// Actions は許可された対応の一覧（プロンプトとスキーマで同じ順序を使う）
var Actions = []ActionRequired{
	ActionNone,
	ActionEscalateToAbuseTeam,
	ActionEscalateToLegalTeam,
	ActionEscalateToSalesTeam,
	ActionFollowUpRequired,
}

// Validate は既知の値かどうかを検証する
func (a ActionRequired) Validate() error {
	for _, known := range Actions {
		if a == known {
			return nil
		}
	}
	return fmt.Errorf("unknown action_required: %q", string(a))
}

// TicketResponse はチケットへの構造化された回答
type TicketResponse struct {
	Answer         string         `json:"answer"`
	References     []string       `json:"references"`
	ActionRequired ActionRequired `json:"action_required"`
}

// FallbackAnswer は関連ドキュメントが見つからなかった場合の定型回答
const FallbackAnswer = "We could not find information in our support documentation to resolve this ticket. A support agent will follow up with you shortly."

// FallbackResponse は関連性ゲートを通過しなかった場合の定型レスポンスを返す
func FallbackResponse() *TicketResponse {
	return &TicketResponse{
		Answer:         FallbackAnswer,
		References:     []string{},
		ActionRequired: ActionFollowUpRequired,
	}
}

// ResolveParams はチケット解決のパラメータを表す
type ResolveParams struct {
	Query        string            // チケット本文（ユーザーの質問）
	TopK         mo.Option[int]    // 検索件数（未指定時は SearchService の既定値）
	ExtraContext []search.Metadata // 呼び出し側が追加で渡すコンテキスト（関連性ゲートには含めない）
}

// ResolveResult はチケット解決の結果を表す
type ResolveResult struct {
	TicketID  string
	Response  *TicketResponse
	Sources   []search.RetrievedDocument // 検索で取得したドキュメント
	Relevant  bool                       // 関連性ゲートを通過したかどうか
	MeanScore float64
}
