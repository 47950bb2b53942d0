package ingestion

import "time"

// Document はロード済みのサポートドキュメントを表す
type Document struct {
	Name    string // ドキュメント名（ファイル名由来）
	Content string // 本文
}

// ChunkMetadata はチャンクの出典情報を表す
type ChunkMetadata struct {
	Filename string `json:"filename"`
}

// Chunk はドキュメントから切り出したテキスト窓を表す
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Position int           `json:"position"` // ドキュメント内での順序
}

// SplitFailure は分割に失敗したドキュメントを表す
type SplitFailure struct {
	Document string
	Err      error
}

// SplitResult はチャンク分割の結果を表す。
// 一部のドキュメントが失敗しても、成功分のチャンクは Chunks に含まれる。
type SplitResult struct {
	Chunks   []Chunk
	Failures []SplitFailure
}

// BuildResult はインデックス構築の結果を表す
type BuildResult struct {
	Documents int
	Chunks    int
	Failures  []SplitFailure
	Duration  time.Duration
}
