package documents

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	response "ragchat/api/handlers/common"
	"ragchat/internal/history"
	"ragchat/internal/logger"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Ingester 文档导入
type Ingester interface {
	SupportsFile(fileName string) bool
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
}

// Registry 文档登记
type Registry interface {
	AddDocument(ctx context.Context, filename, filePath string, numChunks int) (*history.Document, error)
	ListDocuments(ctx context.Context) ([]history.Document, error)
}

// Handler 文档上传与列表
type Handler struct {
	ingester       Ingester
	registry       Registry
	uploadDir      string
	maxUploadBytes int64
}

// NewHandler 构造函数，maxUploadBytes <= 0 表示不限制
func NewHandler(ingester Ingester, registry Registry, uploadDir string, maxUploadBytes int64) *Handler {
	return &Handler{
		ingester:       ingester,
		registry:       registry,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload 上传并导入 PDF
// POST /upload-pdf (multipart/form-data, 字段 file)
func (h *Handler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, response.NewError(response.CodeInvalidFile,
				fmt.Sprintf("文件超过大小限制 %d 字节", maxErr.Limit)))
			return
		}
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "缺少上传文件"))
		return
	}

	name := filepath.Base(file.Filename)
	if !h.ingester.SupportsFile(name) {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidFile, "Only PDF files are allowed"))
		return
	}

	ctx := c.Request.Context()
	log := logger.WithContext(ctx)

	result, path, err := h.saveAndIngest(c, file, name)
	if err != nil {
		log.Error("处理 PDF 失败", zap.String("filename", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeProcessingFailed,
			fmt.Sprintf("Error processing PDF: %v", err)))
		return
	}

	if _, err := h.registry.AddDocument(ctx, name, path, result.NumChunks); err != nil {
		// 分块已写入索引，登记表缺少对应记录
		log.Error("登记文档失败，索引与文档登记不一致",
			zap.String("filename", name),
			zap.String("path", path),
			zap.Int("indexed_chunks", result.NumChunks),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeProcessingFailed,
			fmt.Sprintf("Error processing PDF: %v", err)))
		return
	}

	log.Info("PDF 导入完成",
		zap.String("filename", name),
		zap.Int("chunks", result.NumChunks),
		zap.Int("pages", result.NumPages),
	)
	c.JSON(http.StatusOK, response.UploadResponse{
		Message:   "PDF uploaded and processed successfully",
		Filename:  name,
		NumChunks: result.NumChunks,
		Status:    "success",
	})
}

func (h *Handler) saveAndIngest(c *gin.Context, file *multipart.FileHeader, name string) (*rag.IngestResult, string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("创建上传目录失败: %w", err)
	}
	path := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		return nil, "", fmt.Errorf("保存上传文件失败: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		discardUpload(c.Request.Context(), path)
		return nil, "", fmt.Errorf("打开上传文件失败: %w", err)
	}

	result, err := h.ingester.Ingest(c.Request.Context(), rag.IngestRequest{
		FileName: name,
		Source:   path,
		Reader:   f,
	})
	f.Close()
	if err != nil {
		discardUpload(c.Request.Context(), path)
		return nil, "", err
	}
	return result, path, nil
}

// discardUpload 删除导入失败的上传文件
func discardUpload(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithContext(ctx).Warn("删除上传文件失败", zap.String("path", path), zap.Error(err))
	}
}

// List 列出已导入的文档
// GET /documents
func (h *Handler) List(c *gin.Context) {
	docs, err := h.registry.ListDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal,
			fmt.Sprintf("Error retrieving documents: %v", err)))
		return
	}
	c.JSON(http.StatusOK, response.DocumentsResponse{Documents: docs})
}
