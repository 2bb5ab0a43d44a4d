package chat

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	response "ragchat/api/handlers/common"
	"ragchat/internal/history"
	"ragchat/internal/logger"
	"ragchat/internal/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Answerer 检索问答
type Answerer interface {
	Answer(ctx context.Context, question string, k int) *rag.RagAnswer
	Reset(ctx context.Context) error
}

// Recorder 问答历史与文档登记
type Recorder interface {
	AddMessage(ctx context.Context, sessionID, userMessage, botResponse string, sources any) (*history.ChatMessage, error)
	History(ctx context.Context, sessionID string, limit int) ([]history.ChatMessage, error)
	ClearHistory(ctx context.Context, sessionID string) error
	ClearDocuments(ctx context.Context) error
}

// Handler 问答相关接口
type Handler struct {
	answerer  Answerer
	recorder  Recorder
	sessionID string // 请求未携带 session_id 时使用
	topK      int
}

// NewHandler 构造函数
func NewHandler(answerer Answerer, recorder Recorder, sessionID string, topK int) *Handler {
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	return &Handler{
		answerer:  answerer,
		recorder:  recorder,
		sessionID: sessionID,
		topK:      topK,
	}
}

// Ask 提问
// POST /ask {"question": "...", "session_id": "..."}
func (h *Handler) Ask(c *gin.Context) {
	var req response.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "请求格式错误: "+err.Error()))
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "问题不能为空"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = h.sessionID
	}
	ctx := logger.WithSessionID(c.Request.Context(), sessionID)

	answer := h.answerer.Answer(ctx, question, h.topK)

	if _, err := h.recorder.AddMessage(ctx, sessionID, question, answer.Answer, answer.Sources); err != nil {
		logger.WithContext(ctx).Error("保存问答记录失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal,
			fmt.Sprintf("Error answering question: %v", err)))
		return
	}

	c.JSON(http.StatusOK, response.AskResponse{
		Answer:      answer.Answer,
		Sources:     answer.Sources,
		SessionID:   sessionID,
		ContextUsed: answer.ContextUsed,
		Error:       answer.Error,
	})
}

// History 查询问答历史
// GET /history?session_id=&limit=50
func (h *Handler) History(c *gin.Context) {
	limit := history.DefaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "limit 必须为正整数"))
			return
		}
		limit = parsed
	}

	messages, err := h.recorder.History(c.Request.Context(), c.Query("session_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal,
			fmt.Sprintf("Error retrieving history: %v", err)))
		return
	}
	c.JSON(http.StatusOK, response.HistoryResponse{History: messages})
}

// Clear 清空向量索引、问答历史与文档登记
// DELETE /clear
func (h *Handler) Clear(c *gin.Context) {
	ctx := c.Request.Context()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"reset index", h.answerer.Reset},
		{"clear history", func(ctx context.Context) error { return h.recorder.ClearHistory(ctx, "") }},
		{"clear documents", h.recorder.ClearDocuments},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			logger.WithContext(ctx).Error("清空数据失败", zap.String("step", step.name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal,
				fmt.Sprintf("Error clearing database: %v", err)))
			return
		}
	}

	logger.WithContext(ctx).Info("向量索引与历史记录已清空")
	c.JSON(http.StatusOK, response.StatusResponse{
		Message: "Database cleared successfully",
		Status:  "success",
	})
}
