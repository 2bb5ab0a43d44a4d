package rag

import "context"

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
// EmbedBatch 的返回顺序必须与输入一致。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetProviderName() string
}

// Generator 文本生成接口，采样参数由实现方固定。
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}
