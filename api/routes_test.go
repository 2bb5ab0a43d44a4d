package api

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	response "ragchat/api/handlers/common"
	"ragchat/internal/config"
	"ragchat/internal/history"
	"ragchat/internal/logger"
	"ragchat/internal/rag"
	"ragchat/internal/rag/parsers/pdftest"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum(nil)
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255
	}
	return vec, nil
}

func (e hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = e.Embed(ctx, text)
	}
	return out, nil
}

func (hashEmbedder) GetModel() string        { return "hash" }
func (hashEmbedder) GetProviderName() string { return "test" }

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "generated answer", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	router, _ := newTestRouterDB(t)
	return router
}

func newTestRouterDB(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server: config.ServerConfig{MaxUploadMB: 5},
		RAG: config.RagConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			PersistDir:   filepath.Join(dir, "vector_db"),
			Collection:   "documents",
			TopK:         3,
			UploadDir:    filepath.Join(dir, "uploads"),
		},
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "chat_history.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(history.Models()...))

	index := rag.NewVectorIndex(rag.NewArtifactStore(cfg.RAG.PersistDir), hashEmbedder{}, 8)
	index.CreateOrLoad(context.Background(), cfg.RAG.Collection)
	svc := rag.NewRAGService(index, rag.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap), echoGenerator{}, 500)

	return SetupRouter(Dependencies{
		Config:    cfg,
		RAG:       svc,
		Store:     history.NewStore(db),
		SessionID: "process-session",
	}), db
}

func do(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload-pdf", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func askRequest(question string) *http.Request {
	data, _ := json.Marshal(gin.H{"question": question})
	req := httptest.NewRequest(http.MethodPost, "/ask", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func healthCount(t *testing.T, router *gin.Engine) int {
	t.Helper()
	w := do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp response.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	return resp.VectorDBCount
}

func TestRouter_HealthDatabaseDown(t *testing.T) {
	router, db := newTestRouterDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp response.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unavailable", resp.Database)
	assert.Equal(t, 0, resp.VectorDBCount)
}

func TestRouter_FullFlow(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, 0, healthCount(t, router))

	t.Run("空库提问", func(t *testing.T) {
		w := do(router, askRequest("Anything there?"))
		require.Equal(t, http.StatusOK, w.Code)

		var resp response.AskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, rag.NoDocumentsAnswer, resp.Answer)
		assert.Empty(t, resp.Sources)
		assert.Equal(t, "process-session", resp.SessionID)
		assert.Contains(t, w.Body.String(), `"sources":[]`)
	})

	t.Run("上传 PDF", func(t *testing.T) {
		pdf := pdftest.Build(pdftest.Info{Title: "Handbook"}, "Employees get twenty days of leave.", "Offices open at nine.")
		w := do(router, uploadRequest(t, "handbook.pdf", pdf))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp response.UploadResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "handbook.pdf", resp.Filename)
		assert.Equal(t, 1, resp.NumChunks)
		assert.Equal(t, "success", resp.Status)
	})

	assert.Equal(t, 1, healthCount(t, router))

	t.Run("文档列表", func(t *testing.T) {
		w := do(router, httptest.NewRequest(http.MethodGet, "/documents", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp response.DocumentsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Documents, 1)
		assert.Equal(t, "handbook.pdf", resp.Documents[0].Filename)
		assert.Equal(t, 1, resp.Documents[0].NumChunks)
	})

	t.Run("有文档时提问", func(t *testing.T) {
		w := do(router, askRequest("How many days of leave?"))
		require.Equal(t, http.StatusOK, w.Code)

		var resp response.AskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "generated answer", resp.Answer)
		assert.Equal(t, 1, resp.ContextUsed)
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "Handbook", resp.Sources[0].Title)
		assert.Equal(t, "handbook.pdf", filepath.Base(resp.Sources[0].Source))
	})

	t.Run("历史记录倒序", func(t *testing.T) {
		w := do(router, httptest.NewRequest(http.MethodGet, "/history?session_id=process-session", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp response.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.History, 2)
		assert.Equal(t, "How many days of leave?", resp.History[0].UserMessage)
		assert.Equal(t, "Anything there?", resp.History[1].UserMessage)
	})

	t.Run("清空", func(t *testing.T) {
		w := do(router, httptest.NewRequest(http.MethodDelete, "/clear", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"Database cleared successfully","status":"success"}`, w.Body.String())

		w = do(router, httptest.NewRequest(http.MethodGet, "/history", nil))
		var hist response.HistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
		assert.Empty(t, hist.History)

		w = do(router, httptest.NewRequest(http.MethodGet, "/documents", nil))
		var docs response.DocumentsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
		assert.Empty(t, docs.Documents)

		w = do(router, httptest.NewRequest(http.MethodDelete, "/clear", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	assert.Equal(t, 0, healthCount(t, router))
}

func TestRouter_RejectsNonPDF(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, uploadRequest(t, "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Only PDF files are allowed")
}

func TestRouter_BrokenPDF(t *testing.T) {
	router := newTestRouter(t)

	w := do(router, uploadRequest(t, "broken.pdf", []byte("not really a pdf")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Error processing PDF: ")
	assert.Equal(t, 0, healthCount(t, router))
}

func TestRouter_Middleware(t *testing.T) {
	router := newTestRouter(t)

	t.Run("请求 ID 与 CORS", func(t *testing.T) {
		w := do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("预检请求", func(t *testing.T) {
		w := do(router, httptest.NewRequest(http.MethodOptions, "/ask", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("指标端点", func(t *testing.T) {
		do(router, httptest.NewRequest(http.MethodGet, "/health", nil))
		w := do(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ragchat_api_requests_total")
	})
}
