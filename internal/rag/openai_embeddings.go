package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/metrics"
	"ragchat/pkg/aiinterface"

	"github.com/sashabaranov/go-openai"
)

// openAIBatchSize OpenAI API 每次请求最多 2048 个输入
const openAIBatchSize = 2048

// OpenAIEmbeddingProvider OpenAI 兼容向量化服务提供者
type OpenAIEmbeddingProvider struct {
	client *openai.Client
	model  string // 默认使用 text-embedding-3-small
}

// NewOpenAIEmbeddingProvider 创建OpenAI向量化提供者
// baseURL 为空时使用官方地址
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	return &OpenAIEmbeddingProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Embed 将文本转换为向量
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.create(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 批量向量化文本，超过单次上限时分批请求
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIBatchSize {
		end := min(i+openAIBatchSize, len(texts))
		embeddings, err := p.create(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("批量向量化失败(batch %d-%d): %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}
	return allEmbeddings, nil
}

// create 调用 embeddings 接口，并按返回的 index 还原输入顺序
func (p *OpenAIEmbeddingProvider) create(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		err = aiinterface.NewClientError(aiinterface.OpEmbedding, "调用OpenAI Embeddings API失败", err)
	} else if len(resp.Data) != len(texts) {
		err = &aiinterface.ClientError{
			Op:      aiinterface.OpEmbedding,
			Type:    aiinterface.ErrorTypeInvalidResponse,
			Message: fmt.Sprintf("OpenAI API返回向量数量不匹配: 期望%d, 实际%d", len(texts), len(resp.Data)),
		}
	}
	metrics.ObserveModelCall(string(aiinterface.OpEmbedding), p.model, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = data.Embedding
	}
	return embeddings, nil
}

// GetModel 获取当前使用的模型
func (p *OpenAIEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 获取提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string {
	return "openai"
}
