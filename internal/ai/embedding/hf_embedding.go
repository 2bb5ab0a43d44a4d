package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/metrics"
	"ragchat/pkg/aiinterface"
	"ragchat/pkg/httputil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("ragchat/internal/ai/embedding")

// DefaultHFModel 默认向量模型
const DefaultHFModel = "sentence-transformers/all-MiniLM-L6-v2"

// HFEmbeddingConfig HuggingFace 向量化配置
type HFEmbeddingConfig struct {
	Endpoint  string        // 模型根地址，如 https://router.huggingface.co/hf-inference/models
	Model     string        // 模型名称
	APIKey    string        // HuggingFace Token
	Dimension int           // 期望的向量维度，0 表示不校验
	Timeout   time.Duration // 单次请求超时
}

// HFEmbeddingProvider 调用 HuggingFace feature-extraction 管线
// 批量接口按顺序逐条调用，不缓存、不重试
type HFEmbeddingProvider struct {
	client    *httputil.Client
	url       string
	model     string
	dimension int
}

// NewHFEmbeddingProvider 创建 HuggingFace 向量化提供者
func NewHFEmbeddingProvider(cfg *HFEmbeddingConfig) (*HFEmbeddingProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHFModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &HFEmbeddingProvider{
		client: httputil.NewClient(
			httputil.WithTimeout(cfg.Timeout),
			httputil.WithBearerToken(cfg.APIKey),
		),
		url:       strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Model + "/pipeline/feature-extraction",
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

type featureExtractionRequest struct {
	Inputs string `json:"inputs"`
}

// Embed 单条向量化
func (p *HFEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "HFEmbeddingProvider.Embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", p.model),
		attribute.Int("embedding.input_chars", len(text)),
	)

	start := time.Now()
	vector, err := p.embed(ctx, text)
	metrics.ObserveModelCall(string(aiinterface.OpEmbedding), p.model, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vector, nil
}

func (p *HFEmbeddingProvider) embed(ctx context.Context, text string) ([]float32, error) {
	var raw json.RawMessage
	if err := p.client.PostJSON(ctx, p.url, featureExtractionRequest{Inputs: text}, &raw); err != nil {
		return nil, aiinterface.NewClientError(aiinterface.OpEmbedding, "调用向量化接口失败", err)
	}

	vector, err := flattenEmbedding(raw)
	if err != nil {
		return nil, &aiinterface.ClientError{
			Op:      aiinterface.OpEmbedding,
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: "解析向量化响应失败",
			Err:     err,
		}
	}
	if p.dimension > 0 && len(vector) != p.dimension {
		return nil, &aiinterface.ClientError{
			Op:      aiinterface.OpEmbedding,
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: fmt.Sprintf("向量维度不匹配: 期望 %d, 实际 %d", p.dimension, len(vector)),
		}
	}
	return vector, nil
}

// flattenEmbedding 将响应还原为一维向量
// 接口可能返回 [f, f, ...] 或嵌套一层的 [[f, f, ...]]，嵌套时取第一个元素
func flattenEmbedding(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("空向量")
		}
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("响应不是数值数组: %w", err)
	}
	if len(nested) == 0 || len(nested[0]) == 0 {
		return nil, fmt.Errorf("空向量")
	}
	return nested[0], nil
}

// EmbedBatch 批量向量化，逐条调用并保持输入顺序
func (p *HFEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("第 %d 条文本向量化失败: %w", i, err)
		}
		embeddings = append(embeddings, vector)
	}
	return embeddings, nil
}

// GetModel 获取模型名称
func (p *HFEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 获取提供商名称
func (p *HFEmbeddingProvider) GetProviderName() string {
	return "huggingface"
}
