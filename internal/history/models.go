package history

import (
	"time"

	"gorm.io/datatypes"
)

// ChatMessage 一轮问答记录
type ChatMessage struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SessionID   string         `gorm:"size:64;index" json:"session_id"`
	UserMessage string         `gorm:"type:text" json:"user_message"`
	BotResponse string         `gorm:"type:text" json:"bot_response"`
	Sources     datatypes.JSON `json:"sources"`
	Timestamp   time.Time      `gorm:"index" json:"timestamp"`
}

func (ChatMessage) TableName() string { return "chat_history" }

// Document 已导入的文档
type Document struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Filename        string    `gorm:"size:255" json:"filename"`
	FilePath        string    `gorm:"size:1024" json:"file_path"`
	NumChunks       int       `json:"num_chunks"`
	UploadTimestamp time.Time `gorm:"index" json:"upload_timestamp"`
}

func (Document) TableName() string { return "documents" }

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{&ChatMessage{}, &Document{}}
}
