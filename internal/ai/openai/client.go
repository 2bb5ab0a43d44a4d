package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ragchat/internal/metrics"
	"ragchat/pkg/aiinterface"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ragchat/internal/ai/openai")

// Config 生成客户端配置
type Config struct {
	APIKey      string
	BaseURL     string // OpenAI 兼容地址，如 https://router.huggingface.co/v1
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// Client OpenAI 兼容的对话补全客户端
// 采样参数在构造时固定，Generate 只接收提示词与 Token 上限
type Client struct {
	client      *openai.Client
	modelID     string
	temperature float64
	topP        float64
}

// NewClient 创建对话补全客户端
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &aiinterface.ClientError{
			Op:      aiinterface.OpGeneration,
			Type:    aiinterface.ErrorTypeAuth,
			Message: "API Key 不能为空",
		}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		modelID:     cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}, nil
}

// ChatCompletion 对话补全（非流式）
func (c *Client) ChatCompletion(ctx context.Context, req *aiinterface.ChatCompletionRequest) (*aiinterface.ChatCompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.modelID
	}

	ctx, span := tracer.Start(ctx, "Client.ChatCompletion")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
	})
	if err == nil && len(resp.Choices) == 0 {
		err = &aiinterface.ClientError{
			Op:      aiinterface.OpGeneration,
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: "API 返回空响应",
		}
	} else if err != nil {
		err = aiinterface.NewClientError(aiinterface.OpGeneration, "调用生成接口失败", err)
	}
	metrics.ObserveModelCall(string(aiinterface.OpGeneration), model, time.Since(start).Seconds(), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.ModelTokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.ModelTokensTotal.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))

	return &aiinterface.ChatCompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Choices[0].Message.Content,
		Usage: aiinterface.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Generate 以单条用户消息生成回答，返回去除首尾空白的文本
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.ChatCompletion(ctx, &aiinterface.ChatCompletionRequest{
		Messages:    []aiinterface.Message{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
		TopP:        c.topP,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
