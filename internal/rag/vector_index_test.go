package rag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ragchat/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, embedder EmbeddingProvider, dim int) (*VectorIndex, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vector_db")
	return NewVectorIndex(NewArtifactStore(dir), embedder, dim), dir
}

func TestVectorIndex_QueryUninitialized(t *testing.T) {
	embedder := &hashEmbedder{}
	idx, _ := newTestIndex(t, embedder, hashDim)

	results, err := idx.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, embedder.callCount())
}

func TestVectorIndex_CreateOrLoadFresh(t *testing.T) {
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)

	outcome := idx.CreateOrLoad(context.Background(), "documents")
	assert.Equal(t, LoadCreated, outcome.Status)
	assert.Equal(t, 0, outcome.Count)
	assert.NoError(t, outcome.Cause)
	assert.Equal(t, "documents", idx.Collection())

	results, err := idx.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_AddAndQueryExactText(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)
	idx.CreateOrLoad(ctx, "documents")

	texts := []string{"alpha passage", "beta passage", "gamma passage", "delta passage"}
	require.NoError(t, idx.Add(ctx, textChunks(texts...)))
	assert.Equal(t, 4, idx.Count())

	for i, text := range texts {
		results, err := idx.Query(ctx, text, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, text, results[0].Document)
		assert.Equal(t, i, results[0].Metadata.ChunkID)
		assert.InDelta(t, 0, results[0].Distance, 1e-9)
	}
}

func TestVectorIndex_QueryOrderingAndClamp(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("one", "two", "three")))

	results, err := idx.Query(ctx, "two", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "two", results[0].Document)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}

	for _, k := range []int{0, -1} {
		results, err := idx.Query(ctx, "two", k)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestVectorIndex_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t, constEmbedder{dim: 4}, 4)
	require.NoError(t, idx.Add(ctx, textChunks("first", "second")))
	require.NoError(t, idx.Add(ctx, textChunks("third")))

	results, err := idx.Query(ctx, "whatever", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Document)
	assert.Equal(t, "second", results[1].Document)
	assert.Equal(t, "third", results[2].Document)
}

func TestVectorIndex_AddAutoInitializes(t *testing.T) {
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)
	assert.Equal(t, "", idx.Collection())

	require.NoError(t, idx.Add(context.Background(), textChunks("hello")))
	assert.Equal(t, DefaultCollection, idx.Collection())
	assert.Equal(t, 1, idx.Count())
}

func TestVectorIndex_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
	idx.CreateOrLoad(ctx, "documents")
	require.NoError(t, idx.Add(ctx, textChunks("persisted one", "persisted two")))

	reopened := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
	outcome := reopened.CreateOrLoad(ctx, "documents")
	assert.Equal(t, LoadLoaded, outcome.Status)
	assert.Equal(t, 2, outcome.Count)
	assert.Equal(t, 2, reopened.Count())

	results, err := reopened.Query(ctx, "persisted two", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted two", results[0].Document)
	assert.Equal(t, "uploads/test.pdf", results[0].Metadata.Source)
}

func TestVectorIndex_RecoverEmpty(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
	}{
		{
			name: "向量文件损坏",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, vectorsFile), []byte("not gob"), 0o644))
			},
		},
		{
			name: "文件不完整",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, documentsFile)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
			require.NoError(t, idx.Add(ctx, textChunks("a", "b")))
			tt.corrupt(t, dir)

			before := testutil.ToFloat64(metrics.IndexLoadsTotal.WithLabelValues(string(LoadRecoveredEmpty)))

			reopened := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
			outcome := reopened.CreateOrLoad(ctx, "documents")
			assert.Equal(t, LoadRecoveredEmpty, outcome.Status)
			assert.Equal(t, 0, outcome.Count)
			assert.ErrorIs(t, outcome.Cause, ErrIndexLoad)
			assert.Equal(t, 0, reopened.Count())

			after := testutil.ToFloat64(metrics.IndexLoadsTotal.WithLabelValues(string(LoadRecoveredEmpty)))
			assert.Equal(t, before+1, after)

			// 回退后仍可写入，新数据覆盖损坏文件
			require.NoError(t, reopened.Add(ctx, textChunks("fresh")))
			again := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
			assert.Equal(t, LoadLoaded, again.CreateOrLoad(ctx, "documents").Status)
			assert.Equal(t, 1, again.Count())
		})
	}
}

func TestVectorIndex_LoadAfterInterruptedAdd(t *testing.T) {
	ctx := context.Background()
	idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("committed one", "committed two")))

	// documents.json 已是下一次写入的内容，vectors.gob 尚未替换
	data, err := json.Marshal([]string{"committed one", "committed two", "pending three"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, documentsFile), data, 0o644))

	reopened := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
	outcome := reopened.CreateOrLoad(ctx, "documents")
	assert.Equal(t, LoadLoaded, outcome.Status)
	assert.NoError(t, outcome.Cause)
	assert.Equal(t, 2, outcome.Count)

	results, err := reopened.Query(ctx, "committed two", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "committed two", results[0].Document)

	// 再次写入后三个文件重新一致
	require.NoError(t, reopened.Add(ctx, textChunks("committed three")))
	again := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
	assert.Equal(t, LoadLoaded, again.CreateOrLoad(ctx, "documents").Status)
	assert.Equal(t, 3, again.Count())
}

func TestVectorIndex_DimensionMismatchOnLoad(t *testing.T) {
	ctx := context.Background()
	idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("a")))

	other := NewVectorIndex(NewArtifactStore(dir), constEmbedder{dim: 4}, 4)
	outcome := other.CreateOrLoad(ctx, "documents")
	assert.Equal(t, LoadRecoveredEmpty, outcome.Status)
	assert.ErrorIs(t, outcome.Cause, ErrIndexLoad)
	assert.ErrorIs(t, outcome.Cause, ErrDimensionMismatch)
}

func TestVectorIndex_AddFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vector_db")
	store := NewArtifactStore(dir)

	idx := NewVectorIndex(store, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("kept")))

	broken := NewVectorIndex(store, failingEmbedder{}, hashDim)
	require.Equal(t, LoadLoaded, broken.CreateOrLoad(ctx, "documents").Status)

	err := broken.Add(ctx, textChunks("lost one", "lost two"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errEmbedFailed)
	assert.Equal(t, 1, broken.Count())

	records, err := store.Load(hashDim)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Text)
}

func TestVectorIndex_AddDimensionMismatch(t *testing.T) {
	idx, _ := newTestIndex(t, constEmbedder{dim: 3}, 4)

	err := idx.Add(context.Background(), textChunks("x"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Count())
}

func TestVectorIndex_PersistFailure(t *testing.T) {
	ctx := context.Background()
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file"), 0o644))

	idx := NewVectorIndex(NewArtifactStore(filepath.Join(blocked, "sub")), &hashEmbedder{}, hashDim)
	assert.Equal(t, LoadCreated, idx.CreateOrLoad(ctx, "documents").Status)

	err := idx.Add(ctx, textChunks("never stored"))
	require.Error(t, err)
	assert.Equal(t, 0, idx.Count())
}

func TestVectorIndex_ResetIdempotent(t *testing.T) {
	ctx := context.Background()
	idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("a", "b", "c")))

	require.NoError(t, idx.Reset(ctx))
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, "", idx.Collection())

	require.NoError(t, idx.Reset(ctx))
	assert.Equal(t, 0, idx.Count())

	results, err := idx.Query(ctx, "a", 3)
	require.NoError(t, err)
	assert.Empty(t, results)

	// 重新加载不会恢复旧数据
	outcome := idx.CreateOrLoad(ctx, "documents")
	assert.Equal(t, LoadCreated, outcome.Status)
	assert.Equal(t, 0, idx.Count())

	reopened := NewVectorIndex(NewArtifactStore(dir), &hashEmbedder{}, hashDim)
	assert.Equal(t, LoadCreated, reopened.CreateOrLoad(ctx, "documents").Status)
}

func TestVectorIndex_ResetRemoveFailure(t *testing.T) {
	ctx := context.Background()
	idx, dir := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("a", "b")))

	// 非空目录无法被 os.Remove 删除
	blocker := filepath.Join(dir, vectorsFile)
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, os.Mkdir(blocker, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocker, "keep"), []byte("x"), 0o644))

	require.Error(t, idx.Reset(ctx))
	assert.Equal(t, 2, idx.Count())
	assert.Equal(t, "documents", idx.Collection())

	results, err := idx.Query(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Document)
	assert.ElementsMatch(t, []string{vectorsFile, documentsFile, metadataFile}, NewArtifactStore(dir).Existing())
}

func TestVectorIndex_ResetOnFreshIndex(t *testing.T) {
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Reset(context.Background()))
	assert.Equal(t, 0, idx.Count())
}

func TestVectorIndex_ConcurrentQueriesDuringAdd(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t, &hashEmbedder{}, hashDim)
	require.NoError(t, idx.Add(ctx, textChunks("seed")))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				results, err := idx.Query(ctx, "seed", 2)
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, idx.Add(ctx, textChunks("more")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, idx.Count())
}
