package search

// Metadata はインデックスの各ベクトルに対応付けるチャンク情報を表す
type Metadata struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// RetrievedDocument はベクトル検索の結果を表す。
// Score は距離であり、小さいほど類似している。
type RetrievedDocument struct {
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Metric はインデックスの距離尺度を表す
type Metric string

const (
	// MetricSquaredL2 は二乗ユークリッド距離（小さいほど類似）
	MetricSquaredL2 Metric = "squared_l2"
)
