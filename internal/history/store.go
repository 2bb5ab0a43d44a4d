package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ragchat/internal/infra"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultHistoryLimit 查询历史默认条数
const DefaultHistoryLimit = 50

// Store 问答历史与文档登记
type Store struct {
	db *gorm.DB
}

// NewStore 创建存储
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	return infra.HealthCheck(ctx, s.db)
}

// AddMessage 追加一轮问答，sources 以 JSON 保存
func (s *Store) AddMessage(ctx context.Context, sessionID, userMessage, botResponse string, sources any) (*ChatMessage, error) {
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("序列化来源失败: %w", err)
	}
	if sources == nil {
		raw = []byte("[]")
	}

	msg := &ChatMessage{
		SessionID:   sessionID,
		UserMessage: userMessage,
		BotResponse: botResponse,
		Sources:     datatypes.JSON(raw),
		Timestamp:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("保存问答记录失败: %w", err)
	}
	return msg, nil
}

// History 按时间倒序返回问答记录
// sessionID 为空时返回所有会话，limit <= 0 时使用默认条数
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := s.db.WithContext(ctx).Model(&ChatMessage{})
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}

	messages := make([]ChatMessage, 0)
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("查询问答记录失败: %w", err)
	}
	return messages, nil
}

// ClearHistory 删除问答记录，sessionID 为空时全部删除
func (s *Store) ClearHistory(ctx context.Context, sessionID string) error {
	query := s.db.WithContext(ctx)
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	} else {
		query = query.Where("1 = 1")
	}
	if err := query.Delete(&ChatMessage{}).Error; err != nil {
		return fmt.Errorf("清空问答记录失败: %w", err)
	}
	return nil
}

// AddDocument 登记已导入的文档
func (s *Store) AddDocument(ctx context.Context, filename, filePath string, numChunks int) (*Document, error) {
	doc := &Document{
		Filename:        filename,
		FilePath:        filePath,
		NumChunks:       numChunks,
		UploadTimestamp: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("登记文档失败: %w", err)
	}
	return doc, nil
}

// ListDocuments 按导入时间倒序列出文档
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	docs := make([]Document, 0)
	err := s.db.WithContext(ctx).
		Order("upload_timestamp DESC").
		Order("id DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("查询文档列表失败: %w", err)
	}
	return docs, nil
}

// ClearDocuments 清空文档登记
func (s *Store) ClearDocuments(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Document{}).Error; err != nil {
		return fmt.Errorf("清空文档列表失败: %w", err)
	}
	return nil
}
