package common

import (
	"ragchat/internal/history"
	"ragchat/internal/rag"
)

// 错误码
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidFile      = "INVALID_FILE"
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse 统一错误返回结构。
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewError 构造错误响应
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Success: false, Code: code, Message: message}
}

// StatusResponse 简单操作结果
type StatusResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// UploadResponse 上传结果
type UploadResponse struct {
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
	Status    string `json:"status"`
}

// AskRequest 提问请求
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// AskResponse 提问结果
type AskResponse struct {
	Answer      string       `json:"answer"`
	Sources     []rag.Source `json:"sources"`
	SessionID   string       `json:"session_id"`
	ContextUsed int          `json:"context_used"`
	Error       string       `json:"error,omitempty"`
}

// HistoryResponse 问答历史
type HistoryResponse struct {
	History []history.ChatMessage `json:"history"`
}

// DocumentsResponse 文档列表
type DocumentsResponse struct {
	Documents []history.Document `json:"documents"`
}

// HealthResponse 健康检查
type HealthResponse struct {
	Status        string `json:"status"`
	VectorDBCount int    `json:"vector_db_count"`
	Database      string `json:"database"`
}
