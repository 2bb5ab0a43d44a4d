package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	return NewStore(db)
}

type source struct {
	ChunkID int    `json:"chunk_id"`
	Title   string `json:"title"`
}

func TestStore_AddMessageAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", "first?", "one", []source{{ChunkID: 0, Title: "A"}})
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "s1", "second?", "two", nil)
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "s2", "other?", "three", []source{})
	require.NoError(t, err)

	t.Run("按会话过滤并倒序", func(t *testing.T) {
		msgs, err := store.History(ctx, "s1", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "second?", msgs[0].UserMessage)
		assert.Equal(t, "first?", msgs[1].UserMessage)

		var got []source
		require.NoError(t, json.Unmarshal(msgs[1].Sources, &got))
		assert.Equal(t, []source{{ChunkID: 0, Title: "A"}}, got)
		assert.JSONEq(t, `[]`, string(msgs[0].Sources))
	})

	t.Run("空会话返回全部", func(t *testing.T) {
		msgs, err := store.History(ctx, "", 50)
		require.NoError(t, err)
		assert.Len(t, msgs, 3)
		assert.Equal(t, "other?", msgs[0].UserMessage)
	})

	t.Run("限制条数", func(t *testing.T) {
		msgs, err := store.History(ctx, "", 1)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("未知会话", func(t *testing.T) {
		msgs, err := store.History(ctx, "missing", 10)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})
}

func TestStore_ClearHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, sid := range []string{"a", "a", "b"} {
		_, err := store.AddMessage(ctx, sid, "q", "r", nil)
		require.NoError(t, err)
	}

	require.NoError(t, store.ClearHistory(ctx, "a"))
	msgs, err := store.History(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "b", msgs[0].SessionID)

	require.NoError(t, store.ClearHistory(ctx, ""))
	msgs, err = store.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_Documents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddDocument(ctx, "a.pdf", "uploads/a.pdf", 3)
	require.NoError(t, err)
	doc, err := store.AddDocument(ctx, "b.pdf", "uploads/b.pdf", 5)
	require.NoError(t, err)
	assert.NotZero(t, doc.ID)

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b.pdf", docs[0].Filename)
	assert.Equal(t, 5, docs[0].NumChunks)
	assert.Equal(t, "uploads/a.pdf", docs[1].FilePath)

	require.NoError(t, store.ClearDocuments(ctx))
	docs, err = store.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))

	sqlDB, err := store.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Error(t, store.Ping(context.Background()))
}
