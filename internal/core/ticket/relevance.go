package ticket

import (
	"fmt"

	"github.com/jinford/ticket-rag/internal/core/search"
)

// DefaultRelevancyThreshold は関連性ゲートの既定しきい値
const DefaultRelevancyThreshold = 0.6

// Polarity はスコアの向きを表す
type Polarity string

const (
	// PolarityLower は距離スコア（小さいほど類似）
	PolarityLower Polarity = "lower"
	// PolarityHigher は類似度スコア（大きいほど類似）
	PolarityHigher Polarity = "higher"
)

// ParsePolarity は文字列から Polarity を得る
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(s); p {
	case PolarityLower, PolarityHigher:
		return p, nil
	default:
		return "", fmt.Errorf("unknown relevancy polarity: %q", s)
	}
}

// MeanScore は検索結果スコアの平均を返す。空の場合は 0。
func MeanScore(docs []search.RetrievedDocument) float64 {
	if len(docs) == 0 {
		return 0
	}
	var sum float64
	for _, d := range docs {
		sum += d.Score
	}
	return sum / float64(len(docs))
}

// IsRelevant は平均スコアがしきい値を満たすかを判定する。
// ドキュメントが0件の場合は常に false。
func IsRelevant(docs []search.RetrievedDocument, threshold float64, polarity Polarity) bool {
	if len(docs) == 0 {
		return false
	}
	mean := MeanScore(docs)
	if polarity == PolarityHigher {
		return mean >= threshold
	}
	return mean <= threshold
}
