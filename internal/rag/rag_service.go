package rag

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"ragchat/internal/logger"
	"ragchat/internal/metrics"
	"ragchat/internal/rag/parsers"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	// DefaultTopK 默认检索片段数
	DefaultTopK = 3
	// DefaultMaxTokens 默认生成长度上限
	DefaultMaxTokens = 500

	// NoDocumentsAnswer 索引为空时的固定回答
	NoDocumentsAnswer = "No documents found in the database. Please upload a PDF first."
	// InsufficientContextAnswer 提示词要求模型在上下文不足时给出的回答
	InsufficientContextAnswer = "I don't have enough information to answer this question based on the provided documents."

	previewLength = 200
	unknownValue  = "Unknown"
)

const promptTemplate = `You are a helpful AI assistant. Answer the question based ONLY on the provided context. If the answer cannot be found in the context, say "%s"

Context:
%s

Question: %s

Provide a clear, concise answer based on the context above.`

// AnswerStatus 问答结果类型
type AnswerStatus string

const (
	StatusAnswered    AnswerStatus = "answered"
	StatusNoDocuments AnswerStatus = "no_documents"
	StatusFailed      AnswerStatus = "failed"
)

// Source 回答引用的片段
type Source struct {
	ChunkID        int     `json:"chunk_id"`
	Source         string  `json:"source"`
	Title          string  `json:"title"`
	TextPreview    string  `json:"text_preview"`
	RelevanceScore float64 `json:"relevance_score"`
}

// RagAnswer 问答结果
// 失败以 StatusFailed 表示而不是返回 error，Answer 中带有原因
type RagAnswer struct {
	Status      AnswerStatus `json:"-"`
	Answer      string       `json:"answer"`
	Sources     []Source     `json:"sources"`
	ContextUsed int          `json:"context_used"`
	Error       string       `json:"error,omitempty"`
	Err         error        `json:"-"`
}

// Failed 是否为失败结果
func (a *RagAnswer) Failed() bool {
	return a.Status == StatusFailed
}

func failedAnswer(err error) *RagAnswer {
	return &RagAnswer{
		Status:  StatusFailed,
		Answer:  fmt.Sprintf("Error generating answer: %v", err),
		Sources: []Source{},
		Error:   err.Error(),
		Err:     err,
	}
}

// IngestRequest 文档导入请求
type IngestRequest struct {
	FileName string    // 用于选择解析器
	Source   string    // 写入分块元数据的来源，通常为保存路径
	Reader   io.Reader // 文档内容
}

// IngestResult 文档导入结果
type IngestResult struct {
	NumChunks int    `json:"num_chunks"`
	NumPages  int    `json:"num_pages"`
	Title     string `json:"title"`
}

// RAGService 文档导入与检索问答
type RAGService struct {
	index     *VectorIndex
	chunker   *Chunker
	parsers   *parsers.ParserRegistry
	generator Generator
	maxTokens int
}

// NewRAGService 创建RAG服务实例
func NewRAGService(index *VectorIndex, chunker *Chunker, generator Generator, maxTokens int) *RAGService {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &RAGService{
		index:     index,
		chunker:   chunker,
		parsers:   parsers.NewParserRegistry(),
		generator: generator,
		maxTokens: maxTokens,
	}
}

// SupportsFile 是否能导入该文件
func (s *RAGService) SupportsFile(fileName string) bool {
	return s.parsers.Supports(fileName)
}

// Ingest 解析、分块并写入索引
// 任一步骤失败时索引保持不变
func (s *RAGService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	ctx, span := tracer.Start(ctx, "RAGService.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("document.file_name", req.FileName))

	doc, err := s.parsers.Extract(req.FileName, req.Reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract failed")
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = req.FileName
	}
	chunks := s.chunker.Chunk(doc.FullText, DocumentMetadata{
		Source:   source,
		Title:    doc.Metadata.Title,
		NumPages: doc.Metadata.NumPages,
	})
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: 清洗后没有可索引的文本", parsers.ErrExtraction)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger.WithContext(ctx).Info("文档分块完成",
		zap.String("source", source),
		zap.Int("pages", doc.Metadata.NumPages),
		zap.String("summary", GetChunkSummary(chunks)),
	)

	if err := s.index.Add(ctx, chunks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index add failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("document.chunks", len(chunks)))
	return &IngestResult{
		NumChunks: len(chunks),
		NumPages:  doc.Metadata.NumPages,
		Title:     doc.Metadata.Title,
	}, nil
}

// Answer 检索相关片段并生成回答
// 总是返回结果，检索或生成失败记录在 RagAnswer 中
func (s *RAGService) Answer(ctx context.Context, question string, k int) *RagAnswer {
	ctx, span := tracer.Start(ctx, "RAGService.Answer")
	defer span.End()

	start := time.Now()
	answer := s.answer(ctx, question, k)
	metrics.RAGQueryDuration.Observe(time.Since(start).Seconds())
	metrics.RAGQueriesTotal.WithLabelValues(string(answer.Status)).Inc()

	span.SetAttributes(
		attribute.String("rag.status", string(answer.Status)),
		attribute.Int("rag.context_used", answer.ContextUsed),
	)
	if answer.Err != nil {
		span.RecordError(answer.Err)
		span.SetStatus(codes.Error, "answer failed")
		logger.WithContext(ctx).Error("生成回答失败", zap.Error(answer.Err))
	}
	return answer
}

func (s *RAGService) answer(ctx context.Context, question string, k int) *RagAnswer {
	results, err := s.index.Query(ctx, question, k)
	if err != nil {
		return failedAnswer(err)
	}
	metrics.RAGQueryResults.Observe(float64(len(results)))

	if len(results) == 0 {
		return &RagAnswer{
			Status:  StatusNoDocuments,
			Answer:  NoDocumentsAnswer,
			Sources: []Source{},
		}
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Document
	}

	text, err := s.generator.Generate(ctx, BuildPrompt(question, texts), s.maxTokens)
	if err != nil {
		return failedAnswer(err)
	}

	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			ChunkID:        r.Metadata.ChunkID,
			Source:         orUnknown(r.Metadata.Source),
			Title:          orUnknown(r.Metadata.Title),
			TextPreview:    Preview(r.Document),
			RelevanceScore: Relevance(r.Distance),
		}
	}

	return &RagAnswer{
		Status:      StatusAnswered,
		Answer:      text,
		Sources:     sources,
		ContextUsed: len(results),
	}
}

// BuildPrompt 拼接上下文并生成只允许依据上下文作答的提示词
func BuildPrompt(question string, documents []string) string {
	parts := make([]string, len(documents))
	for i, doc := range documents {
		parts[i] = fmt.Sprintf("Document %d:\n%s", i+1, doc)
	}
	return fmt.Sprintf(promptTemplate, InsufficientContextAnswer, strings.Join(parts, "\n\n"), question)
}

// Relevance 距离转相关度，距离较大时可能为负
func Relevance(distance float64) float64 {
	return 1 - distance
}

// Preview 截取前 200 个字符，超出部分以 "..." 代替
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return unknownValue
	}
	return s
}

// Reset 清空索引
func (s *RAGService) Reset(ctx context.Context) error {
	return s.index.Reset(ctx)
}

// Count 索引中的分块数
func (s *RAGService) Count() int {
	return s.index.Count()
}
