package aiinterface

import (
	"errors"
	"strings"
)

// Message 消息结构
type Message struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // 消息内容
}

// ChatCompletionRequest 对话补全请求
type ChatCompletionRequest struct {
	Model       string    `json:"model"`       // 模型标识，为空时使用客户端默认模型
	Messages    []Message `json:"messages"`    // 消息列表
	Temperature float64   `json:"temperature"` // 温度参数（0-2）
	MaxTokens   int       `json:"max_tokens"`  // 最大 Token 数
	TopP        float64   `json:"top_p"`       // Top P 采样
}

// ChatCompletionResponse 对话补全响应
type ChatCompletionResponse struct {
	ID      string `json:"id"`      // 响应 ID
	Model   string `json:"model"`   // 使用的模型
	Content string `json:"content"` // 生成的内容
	Usage   Usage  `json:"usage"`   // Token 使用情况
}

// Usage Token 使用情况
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`     // 输入 Token 数
	CompletionTokens int `json:"completion_tokens"` // 输出 Token 数
	TotalTokens      int `json:"total_tokens"`      // 总 Token 数
}

// Operation 远程调用类别
type Operation string

const (
	OpEmbedding  Operation = "embedding"
	OpGeneration Operation = "generation"
)

var (
	// ErrEmbedding 向量化调用失败
	ErrEmbedding = errors.New("embedding failed")
	// ErrGeneration 文本生成调用失败
	ErrGeneration = errors.New("generation failed")
)

// ErrorType 错误类型
type ErrorType string

const (
	ErrorTypeAuth            ErrorType = "auth"             // 认证错误
	ErrorTypeRateLimit       ErrorType = "rate_limit"       // 速率限制
	ErrorTypeInvalidParams   ErrorType = "invalid_params"   // 参数错误
	ErrorTypeServerError     ErrorType = "server_error"     // 服务器错误
	ErrorTypeNetwork         ErrorType = "network"          // 网络错误
	ErrorTypeInvalidResponse ErrorType = "invalid_response" // 响应无法解析
	ErrorTypeUnknown         ErrorType = "unknown"          // 未知错误
)

// ClientError 客户端错误
type ClientError struct {
	Op      Operation // 调用类别
	Type    ErrorType // 错误类型
	Message string    // 错误消息
	Err     error     // 原始错误
}

// Error 实现error接口
func (e *ClientError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回原始错误
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrEmbedding) 按调用类别匹配
func (e *ClientError) Is(target error) bool {
	switch target {
	case ErrEmbedding:
		return e.Op == OpEmbedding
	case ErrGeneration:
		return e.Op == OpGeneration
	}
	return false
}

// NewClientError 按错误信息归类并包装
func NewClientError(op Operation, message string, err error) *ClientError {
	return &ClientError{
		Op:      op,
		Type:    ClassifyError(err),
		Message: message,
		Err:     err,
	}
}

// ClassifyError 根据错误信息判断错误类型
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return ErrorTypeAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid"):
		return ErrorTypeInvalidParams
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return ErrorTypeServerError
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "deadline"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
