package rag

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"ragchat/internal/logger"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// 持久化目录中的三个索引文件，必须同时存在
const (
	vectorsFile   = "vectors.gob"
	documentsFile = "documents.json"
	metadataFile  = "metadata.json"
)

const indexFormatVersion = 1

// ChunkMetadata 随向量保存的分块元数据
type ChunkMetadata struct {
	ChunkID  int    `json:"chunk_id"`
	Source   string `json:"source"`
	Title    string `json:"title"`
	NumPages int    `json:"num_pages"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
}

// IndexRecord 索引中的一条记录，向量、原文与元数据放在一起
type IndexRecord struct {
	Vector   []float32
	Text     string
	Metadata ChunkMetadata
}

// vectorFile 向量文件内容
type vectorFile struct {
	Version   int
	Dimension int
	Vectors   [][]float32
}

// ArtifactStore 负责索引文件的读写
type ArtifactStore struct {
	dir string
}

// NewArtifactStore 创建索引文件存储
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// Dir 返回持久化目录
func (s *ArtifactStore) Dir() string {
	return s.dir
}

func (s *ArtifactStore) paths() []string {
	return []string{
		filepath.Join(s.dir, vectorsFile),
		filepath.Join(s.dir, documentsFile),
		filepath.Join(s.dir, metadataFile),
	}
}

// Save 写入三个索引文件
// 三个文件先全部写入临时文件，再依次替换 documents、metadata、vectors。
// vectors.gob 最后落盘，它的记录数决定一次写入是否生效
func (s *ArtifactStore) Save(dimension int, records []IndexRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("创建索引目录失败: %w", err)
	}

	vf := vectorFile{Version: indexFormatVersion, Dimension: dimension, Vectors: make([][]float32, len(records))}
	texts := make([]string, len(records))
	metas := make([]ChunkMetadata, len(records))
	for i, rec := range records {
		vf.Vectors[i] = rec.Vector
		texts[i] = rec.Text
		metas[i] = rec.Metadata
	}

	writers := []struct {
		name   string
		encode func(w io.Writer) error
	}{
		{documentsFile, func(w io.Writer) error { return json.NewEncoder(w).Encode(texts) }},
		{metadataFile, func(w io.Writer) error { return json.NewEncoder(w).Encode(metas) }},
		{vectorsFile, func(w io.Writer) error { return gob.NewEncoder(w).Encode(&vf) }},
	}

	pending := make([]*renameio.PendingFile, 0, len(writers))
	defer func() {
		for _, pf := range pending {
			pf.Cleanup()
		}
	}()

	for _, wr := range writers {
		pf, err := renameio.NewPendingFile(filepath.Join(s.dir, wr.name),
			renameio.WithTempDir(s.dir),
			renameio.WithPermissions(0o644),
		)
		if err != nil {
			return fmt.Errorf("创建临时文件失败: %w", err)
		}
		pending = append(pending, pf)
		if err := wr.encode(pf); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", wr.name, err)
		}
	}

	for i, pf := range pending {
		if err := pf.CloseAtomicallyReplace(); err != nil {
			return fmt.Errorf("替换索引文件 %s 失败: %w", writers[i].name, err)
		}
	}
	return syncDir(s.dir)
}

// syncDir 刷新目录项，保证重命名落盘
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("打开索引目录失败: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("同步索引目录失败: %w", err)
	}
	return nil
}

// Load 读取并校验三个索引文件
// 三个文件都不存在时返回 errNoArtifacts。
// 写入中断时 documents/metadata 可能已是新版本而 vectors 仍是旧版本，
// 索引只追加，因此截断到 vectors 的记录数即为上一次完整写入的内容
func (s *ArtifactStore) Load(dimension int) ([]IndexRecord, error) {
	present := len(s.Existing())
	if present == 0 {
		return nil, errNoArtifacts
	}
	if present != len(s.paths()) {
		return nil, fmt.Errorf("索引文件不完整: 仅找到 %d/3 个", present)
	}

	var vf vectorFile
	if err := decodeFile(filepath.Join(s.dir, vectorsFile), func(r io.Reader) error {
		return gob.NewDecoder(r).Decode(&vf)
	}); err != nil {
		return nil, err
	}
	var texts []string
	if err := decodeFile(filepath.Join(s.dir, documentsFile), func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&texts)
	}); err != nil {
		return nil, err
	}
	var metas []ChunkMetadata
	if err := decodeFile(filepath.Join(s.dir, metadataFile), func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&metas)
	}); err != nil {
		return nil, err
	}

	if vf.Version != indexFormatVersion {
		return nil, fmt.Errorf("不支持的索引格式版本: %d", vf.Version)
	}
	if vf.Dimension != dimension {
		return nil, fmt.Errorf("%w: 索引为 %d 维, 当前配置为 %d 维", ErrDimensionMismatch, vf.Dimension, dimension)
	}
	n := len(vf.Vectors)
	if len(texts) < n || len(metas) < n {
		return nil, fmt.Errorf("索引文件长度不一致: vectors=%d documents=%d metadata=%d",
			n, len(texts), len(metas))
	}
	if len(texts) > n || len(metas) > n {
		logger.Warn("索引文件存在未完成的写入，已回退到上一次完整写入",
			zap.String("dir", s.dir),
			zap.Int("vectors", n),
			zap.Int("documents", len(texts)),
			zap.Int("metadata", len(metas)),
		)
	}

	records := make([]IndexRecord, n)
	for i := range records {
		if len(vf.Vectors[i]) != dimension {
			return nil, fmt.Errorf("%w: 第 %d 条向量为 %d 维", ErrDimensionMismatch, i, len(vf.Vectors[i]))
		}
		records[i] = IndexRecord{Vector: vf.Vectors[i], Text: texts[i], Metadata: metas[i]}
	}
	return records, nil
}

func decodeFile(path string, decode func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开 %s 失败: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := decode(f); err != nil {
		return fmt.Errorf("解析 %s 失败: %w", filepath.Base(path), err)
	}
	return nil
}

// Existing 仍存在的索引文件名
func (s *ArtifactStore) Existing() []string {
	var names []string
	for _, p := range s.paths() {
		if _, err := os.Stat(p); err == nil {
			names = append(names, filepath.Base(p))
		}
	}
	return names
}

// Remove 删除全部索引文件，文件不存在不视为错误
// vectors.gob 先删除，删除失败时其余文件保持不动，磁盘上仍是可加载的索引
func (s *ArtifactStore) Remove() error {
	paths := s.paths()
	if err := os.Remove(paths[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("删除索引文件失败: %w", err)
	}

	var errs []error
	for _, p := range paths[1:] {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除索引文件失败: %w", errors.Join(errs...))
	}
	return nil
}
