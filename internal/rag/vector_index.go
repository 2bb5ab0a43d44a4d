package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("ragchat/internal/rag")

// DefaultCollection 未显式加载时使用的集合名
const DefaultCollection = "documents"

// LoadStatus 索引加载结果
type LoadStatus string

const (
	LoadCreated        LoadStatus = "created"         // 无索引文件，新建空索引
	LoadLoaded         LoadStatus = "loaded"          // 从索引文件恢复
	LoadRecoveredEmpty LoadStatus = "recovered_empty" // 索引文件不可用，回退为空索引
)

// LoadOutcome CreateOrLoad 的结果，RecoveredEmpty 时 Cause 说明原因
type LoadOutcome struct {
	Status LoadStatus
	Count  int
	Cause  error
}

// QueryResult 一条检索结果，按距离升序排列
type QueryResult struct {
	Document string        `json:"document"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}

// VectorIndex 精确 L2 检索的内存向量索引，每次写入后同步落盘
//
// 同一时间只驻留一个集合。records 采用写时复制：写入先生成新切片并落盘，
// 成功后再整体替换，查询持有的旧切片不会被修改。
type VectorIndex struct {
	writeMu sync.Mutex   // 串行化 CreateOrLoad/Add/Reset
	mu      sync.RWMutex // 保护下面的字段

	store     *ArtifactStore
	embedder  EmbeddingProvider
	dimension int

	name    string
	ready   bool
	records []IndexRecord
}

// NewVectorIndex 创建向量索引，初始状态为未初始化
func NewVectorIndex(store *ArtifactStore, embedder EmbeddingProvider, dimension int) *VectorIndex {
	return &VectorIndex{
		store:     store,
		embedder:  embedder,
		dimension: dimension,
	}
}

// CreateOrLoad 加载持久化的集合，失败时回退为空索引而不是返回错误
func (idx *VectorIndex) CreateOrLoad(ctx context.Context, name string) LoadOutcome {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	return idx.createOrLoadLocked(ctx, name)
}

func (idx *VectorIndex) createOrLoadLocked(ctx context.Context, name string) LoadOutcome {
	log := logger.WithContext(ctx)

	var outcome LoadOutcome
	records, err := idx.store.Load(idx.dimension)
	switch {
	case err == nil:
		outcome = LoadOutcome{Status: LoadLoaded, Count: len(records)}
		log.Info("已加载向量索引",
			zap.String("collection", name),
			zap.Int("count", len(records)),
			zap.String("dir", idx.store.Dir()),
		)
	case errors.Is(err, errNoArtifacts):
		records = nil
		outcome = LoadOutcome{Status: LoadCreated}
		log.Info("创建新的向量索引", zap.String("collection", name), zap.Int("dimension", idx.dimension))
	default:
		records = nil
		outcome = LoadOutcome{Status: LoadRecoveredEmpty, Cause: fmt.Errorf("%w: %w", ErrIndexLoad, err)}
		log.Warn("向量索引加载失败，已回退为空索引",
			zap.String("collection", name),
			zap.String("dir", idx.store.Dir()),
			zap.Error(err),
		)
	}

	idx.mu.Lock()
	idx.name = name
	idx.ready = true
	idx.records = records
	idx.mu.Unlock()

	metrics.IndexLoadsTotal.WithLabelValues(string(outcome.Status)).Inc()
	metrics.IndexRecords.Set(float64(len(records)))
	return outcome
}

// Add 向量化分块并追加到索引，随后持久化
// 向量化或持久化失败时内存状态保持不变
func (idx *VectorIndex) Add(ctx context.Context, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "VectorIndex.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("index.chunks", len(chunks)))

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if !idx.isReady() {
		idx.createOrLoadLocked(ctx, DefaultCollection)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return fmt.Errorf("分块向量化失败: %w", err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("向量数量不匹配: 期望 %d, 实际 %d", len(chunks), len(vectors))
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	idx.mu.RLock()
	current := idx.records
	idx.mu.RUnlock()

	next := make([]IndexRecord, len(current), len(current)+len(chunks))
	copy(next, current)
	for i, chunk := range chunks {
		if len(vectors[i]) != idx.dimension {
			err := fmt.Errorf("%w: 第 %d 个分块为 %d 维, 索引为 %d 维", ErrDimensionMismatch, i, len(vectors[i]), idx.dimension)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		next = append(next, IndexRecord{
			Vector: vectors[i],
			Text:   chunk.Text,
			Metadata: ChunkMetadata{
				ChunkID:  chunk.ChunkID,
				Source:   chunk.Source,
				Title:    chunk.Title,
				NumPages: chunk.NumPages,
				StartPos: chunk.StartPos,
				EndPos:   chunk.EndPos,
			},
		})
	}

	if err := idx.store.Save(idx.dimension, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return fmt.Errorf("持久化向量索引失败: %w", err)
	}

	idx.mu.Lock()
	idx.records = next
	idx.mu.Unlock()

	metrics.IndexRecords.Set(float64(len(next)))
	metrics.IngestedChunksTotal.Add(float64(len(chunks)))
	logger.WithContext(ctx).Info("分块已写入向量索引",
		zap.Int("added", len(chunks)),
		zap.Int("total", len(next)),
	)
	return nil
}

// Query 精确检索与问题最接近的 k 条记录
// 索引为空或未初始化时返回空结果；距离相同按写入顺序排列
func (idx *VectorIndex) Query(ctx context.Context, text string, k int) ([]QueryResult, error) {
	ctx, span := tracer.Start(ctx, "VectorIndex.Query")
	defer span.End()

	idx.mu.RLock()
	ready, records := idx.ready, idx.records
	idx.mu.RUnlock()

	if !ready || len(records) == 0 || k <= 0 {
		span.SetAttributes(attribute.Int("index.results", 0))
		return []QueryResult{}, nil
	}

	query, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("%w: 问题向量为 %d 维, 索引为 %d 维", ErrDimensionMismatch, len(query), idx.dimension)
	}

	k = min(k, len(records))
	order := make([]int, len(records))
	distances := make([]float64, len(records))
	for i, rec := range records {
		order[i] = i
		distances[i] = squaredL2(query, rec.Vector)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] < distances[order[b]]
	})

	results := make([]QueryResult, k)
	for i := 0; i < k; i++ {
		rec := records[order[i]]
		results[i] = QueryResult{
			Document: rec.Text,
			Metadata: rec.Metadata,
			Distance: distances[order[i]],
		}
	}

	span.SetAttributes(
		attribute.Int("index.size", len(records)),
		attribute.Int("index.results", k),
	)
	return results, nil
}

// squaredL2 平方欧氏距离
func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Reset 删除索引文件并清空内存，回到未初始化状态
// 删除失败时内存保持不变；重复调用不会报错
func (idx *VectorIndex) Reset(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if err := idx.store.Remove(); err != nil {
		logger.WithContext(ctx).Error("删除向量索引文件失败，索引未重置",
			zap.String("dir", idx.store.Dir()),
			zap.Strings("remaining", idx.store.Existing()),
			zap.Error(err),
		)
		return err
	}

	idx.mu.Lock()
	idx.records = nil
	idx.ready = false
	idx.name = ""
	idx.mu.Unlock()
	metrics.IndexRecords.Set(0)

	logger.WithContext(ctx).Info("向量索引已重置", zap.String("dir", idx.store.Dir()))
	return nil
}

// Count 当前记录数，未初始化时为 0
func (idx *VectorIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// Collection 当前驻留的集合名，未初始化时为空
func (idx *VectorIndex) Collection() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.name
}

// Dimension 索引向量维度
func (idx *VectorIndex) Dimension() int {
	return idx.dimension
}

func (idx *VectorIndex) isReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}
