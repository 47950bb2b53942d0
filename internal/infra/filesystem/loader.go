package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jinford/ticket-rag/internal/core/ingestion"
)

// DefaultExtension は読み込み対象の拡張子
const DefaultExtension = ".txt"

// Loader はディレクトリ配下のテキストファイルをドキュメントとして読み込む
type Loader struct {
	root      string
	extension string
	logger    *slog.Logger
}

// LoaderOption は Loader のオプション設定
type LoaderOption func(*Loader)

// WithExtension は読み込み対象の拡張子を上書きする
func WithExtension(ext string) LoaderOption {
	return func(l *Loader) {
		if ext != "" {
			l.extension = ext
		}
	}
}

// WithLoaderLogger は Loader にロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader は新しい Loader を作成する
func NewLoader(root string, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:      root,
		extension: DefaultExtension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load はディレクトリを再帰的に走査してドキュメントをパス順に返す。
// ディレクトリが存在しない場合はエラー、読めないファイルはログに残してスキップする。
func (l *Loader) Load(ctx context.Context) ([]ingestion.Document, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("document directory %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document directory %s is not a directory", l.root)
	}

	var paths []string
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			l.logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != l.root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), l.extension) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", l.root, err)
	}
	sort.Strings(paths)

	caser := cases.Title(language.English)
	docs := make([]ingestion.Document, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			l.logger.Error("failed to read document", "path", path, "error", err)
			continue
		}
		name := DocumentName(caser, path)
		docs = append(docs, ingestion.Document{Name: name, Content: string(content)})
		l.logger.Debug("loaded document", "path", path, "name", name, "bytes", len(content))
	}

	l.logger.Info("documents loaded", "root", l.root, "documents", len(docs))
	return docs, nil
}

// DocumentName はファイル名からドキュメント名を作る（例: refund_policy.txt -> Refund Policy）
func DocumentName(caser cases.Caser, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return caser.String(strings.ReplaceAll(stem, "_", " "))
}

// インターフェース実装の確認
var _ ingestion.DocumentSource = (*Loader)(nil)
