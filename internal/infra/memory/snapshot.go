package memory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jinford/ticket-rag/internal/core/search"
	"github.com/jinford/ticket-rag/internal/shared/apperror"
)

const snapshotVersion = 1

var (
	bucketManifest = []byte("manifest")
	bucketVectors  = []byte("vectors")
	bucketMetadata = []byte("metadata")

	manifestKey = []byte("manifest")
)

type manifest struct {
	Version   int           `json:"version"`
	Dimension int           `json:"dimension"`
	Metric    search.Metric `json:"metric"`
	Count     int           `json:"count"`
	CreatedAt time.Time     `json:"created_at"`
}

// Save はベクトルとメタデータを1つの bbolt ファイルに保存する。
// 一時ファイルに書き込んでから置き換えるため、途中で失敗しても既存のスナップショットは残る。
func (i *Index) Save(path string) error {
	i.mu.RLock()
	vectors := i.vectors
	metadatas := i.metadatas
	i.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperror.Wrap(apperror.ErrPersistence, "failed to create snapshot directory", err)
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := bbolt.Open(tmp, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return apperror.Wrap(apperror.ErrPersistence, "failed to create snapshot", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		mb, err := tx.CreateBucket(bucketManifest)
		if err != nil {
			return err
		}
		vb, err := tx.CreateBucket(bucketVectors)
		if err != nil {
			return err
		}
		metab, err := tx.CreateBucket(bucketMetadata)
		if err != nil {
			return err
		}

		for n := range vectors {
			key := entryKey(n)
			encoded, err := encodeVector(vectors[n])
			if err != nil {
				return err
			}
			if err := vb.Put(key, encoded); err != nil {
				return err
			}
			meta, err := json.Marshal(metadatas[n])
			if err != nil {
				return err
			}
			if err := metab.Put(key, meta); err != nil {
				return err
			}
		}

		m, err := json.Marshal(manifest{
			Version:   snapshotVersion,
			Dimension: i.dimension,
			Metric:    search.MetricSquaredL2,
			Count:     len(vectors),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return mb.Put(manifestKey, m)
	})
	if closeErr := db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return apperror.Wrap(apperror.ErrPersistence, "failed to write snapshot", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return apperror.Wrap(apperror.ErrPersistence, "failed to replace snapshot", err)
	}

	i.logger.Info("index snapshot saved", "path", path, "entries", len(vectors))
	return nil
}

// Load はスナップショットを読み込み、現在の内容を置き換える。
// ファイルが存在しない・壊れている場合は ErrPersistence を返し、現在の内容は変更しない。
func (i *Index) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return apperror.Wrap(apperror.ErrPersistence, "snapshot not found", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return apperror.Wrap(apperror.ErrPersistence, "failed to open snapshot", err)
	}
	defer db.Close()

	var (
		vectors   [][]float32
		metadatas []search.Metadata
	)
	err = db.View(func(tx *bbolt.Tx) error {
		mb := tx.Bucket(bucketManifest)
		vb := tx.Bucket(bucketVectors)
		metab := tx.Bucket(bucketMetadata)
		if mb == nil || vb == nil || metab == nil {
			return errors.New("snapshot is missing required buckets")
		}

		raw := mb.Get(manifestKey)
		if raw == nil {
			return errors.New("snapshot manifest not found")
		}
		var m manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("invalid manifest: %w", err)
		}
		if m.Version != snapshotVersion {
			return fmt.Errorf("unsupported snapshot version %d", m.Version)
		}
		if m.Dimension != i.dimension {
			return fmt.Errorf("%w: snapshot has %d, index has %d", search.ErrDimensionMismatch, m.Dimension, i.dimension)
		}

		if m.Count < 0 {
			return fmt.Errorf("invalid manifest entry count %d", m.Count)
		}
		if vb.Stats().KeyN != m.Count || metab.Stats().KeyN != m.Count {
			return fmt.Errorf("snapshot entry count does not match manifest (%d)", m.Count)
		}

		vectors = make([][]float32, 0, m.Count)
		metadatas = make([]search.Metadata, 0, m.Count)
		for n := 0; n < m.Count; n++ {
			key := entryKey(n)

			rawVec := vb.Get(key)
			if rawVec == nil {
				return fmt.Errorf("vector %d not found", n)
			}
			vec, err := decodeVector(rawVec, m.Dimension)
			if err != nil {
				return fmt.Errorf("vector %d: %w", n, err)
			}

			rawMeta := metab.Get(key)
			if rawMeta == nil {
				return fmt.Errorf("metadata %d not found", n)
			}
			var meta search.Metadata
			if err := json.Unmarshal(rawMeta, &meta); err != nil {
				return fmt.Errorf("metadata %d: %w", n, err)
			}

			vectors = append(vectors, vec)
			metadatas = append(metadatas, meta)
		}
		return nil
	})
	if err != nil {
		return apperror.Wrap(apperror.ErrPersistence, "failed to read snapshot", err)
	}

	i.mu.Lock()
	i.vectors = vectors
	i.metadatas = metadatas
	i.mu.Unlock()

	i.logger.Info("index snapshot loaded", "path", path, "entries", len(vectors))
	return nil
}

// entryKey はキー順が追加順と一致するようビッグエンディアンで符号化する
func entryKey(n int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(n))
	return key
}

func encodeVector(v []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(v) * 4)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVector(raw []byte, dimension int) ([]float32, error) {
	if len(raw) != dimension*4 {
		return nil, fmt.Errorf("expected %d bytes, got %d", dimension*4, len(raw))
	}
	v := make([]float32, dimension)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return v, nil
}
