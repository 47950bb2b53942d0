package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// lockID はテーブル名からアドバイザリロックIDを生成する
func lockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	// ハッシュの先頭8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}
	return id
}

// WithBuildLock はテーブル単位のアドバイザリロックを保持したまま fn を実行する。
// 複数プロセスが同時にインデックスを構築しないようにする。
// ロックはセッションスコープのため、fn の完了後に明示的に解放する。
func (i *Index) WithBuildLock(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := i.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for build lock: %w", err)
	}
	defer conn.Release()

	id := lockID("ticket-rag", "build", i.table)
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	i.logger.Debug("build lock acquired", "table", i.table, "lockID", id)

	defer func() {
		// キャンセル済みの ctx でも解放する
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", id); err != nil {
			i.logger.Warn("failed to release advisory lock", "table", i.table, "error", err)
		}
	}()

	return fn(ctx)
}
