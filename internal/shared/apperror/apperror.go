// Package apperror はレイヤーをまたいで共有するエラー種別を定義する。
//
// 各レイヤーは fmt.Errorf の %w で原因を包みつつ、Wrap / New で種別を付与する。
// 呼び出し側は errors.Is で種別と原因の両方を判定できる。
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput は入力検証エラー（空クエリ、空ドキュメント集合、長さ不一致など）
	ErrInvalidInput = errors.New("invalid input")

	// ErrDependencyInit は Embedder / Index / Generator の初期化失敗
	ErrDependencyInit = errors.New("dependency initialization failed")

	// ErrNotReady は初期化完了前にリクエストを受けた場合のエラー
	ErrNotReady = errors.New("service not ready")

	// ErrRetrieval はクエリ処理中の Embedding / 検索失敗
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGenerationFailed は LLM 呼び出しの失敗（通信エラー、空レスポンス、拒否）
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSchemaValidation は LLM 出力がスキーマに適合しない場合のエラー。
	// 通信エラーとは対処が異なる（リトライではなくプロンプト/スキーマ修正）。
	ErrSchemaValidation = errors.New("schema validation failed")

	// ErrPersistence はインデックスの保存・読み込み失敗
	ErrPersistence = errors.New("persistence failed")
)

// kinds は Kind が判定する順序
var kinds = []error{
	ErrInvalidInput,
	ErrNotReady,
	ErrDependencyInit,
	ErrSchemaValidation,
	ErrGenerationFailed,
	ErrRetrieval,
	ErrPersistence,
}

// New は種別とメッセージからエラーを生成する
func New(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Wrap は原因エラーに種別を付与する。err が nil の場合は New と同じ。
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return New(kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// Kind はエラーに含まれる種別を返す。該当しない場合は nil。
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsGeneration は生成系（通信失敗・スキーマ不適合）のエラーかどうかを返す
func IsGeneration(err error) bool {
	return errors.Is(err, ErrGenerationFailed) || errors.Is(err, ErrSchemaValidation)
}
