package rag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// disallowedChars 保留字母、数字、下划线、空格与基本标点
var disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}_ .,!?;:()\-]`)

// DocumentMetadata 调用方提供的文档元数据，原样附加到每个分块
type DocumentMetadata struct {
	Source   string `json:"source"`
	Title    string `json:"title"`
	NumPages int    `json:"num_pages"`
}

// Chunk 文档分块
// StartPos/EndPos 为清洗后文本中的字符（rune）偏移，区间左闭右开
type Chunk struct {
	Text     string `json:"text"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
	ChunkID  int    `json:"chunk_id"`
	DocumentMetadata
}

// Chunker 文档分块器
type Chunker struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 重叠大小(字符数)
}

// NewChunker 创建新的分块器
// chunkSize: 每个分块的字符数
// chunkOverlap: 相邻分块之间的重叠字符数
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10 // 重叠不超过10%
	}

	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

// isSpace Unicode 空白，另含 U+001C..U+001F 四个信息分隔符
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// CleanText 规范化文本
// 所有空白合并为单个空格，再去掉允许集合之外的字符
func CleanText(text string) string {
	text = strings.Join(strings.FieldsFunc(text, isSpace), " ")
	text = disallowedChars.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Chunk 按滑动窗口切分文本
// 窗口未到文本末尾时，若窗口后半段内存在句末标点，则在该标点处截断
func (c *Chunker) Chunk(text string, meta DocumentMetadata) []Chunk {
	runes := []rune(CleanText(text))
	total := len(runes)
	if total == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, total/(c.ChunkSize-c.ChunkOverlap)+1)
	start := 0
	for start < total {
		end := start + c.ChunkSize
		if end >= total {
			end = total
		} else if cut := lastSentenceEnd(runes[start:end]); cut > c.ChunkSize/2 {
			end = start + cut + 1
		}

		chunks = append(chunks, Chunk{
			Text:             strings.TrimSpace(string(runes[start:end])),
			StartPos:         start,
			EndPos:           end,
			ChunkID:          len(chunks),
			DocumentMetadata: meta,
		})

		if end >= total {
			break
		}

		// 截断过短时重叠回退会原地踏步，此时直接从 end 继续
		next := end - c.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// lastSentenceEnd 返回窗口内最后一个 . ? ! 的位置，没有则返回 -1
func lastSentenceEnd(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '?', '!':
			return i
		}
	}
	return -1
}

// estimateTokenCount 估算Token数量
// 简单规则: 英文按单词数, 中文按字符数/1.5
func estimateTokenCount(text string) int {
	wordCount := len(strings.Fields(text))

	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		}
	}

	return wordCount + int(float64(chineseCount)/1.5)
}

// GetChunkSummary 获取分块摘要信息
func GetChunkSummary(chunks []Chunk) string {
	if len(chunks) == 0 {
		return "无分块"
	}

	totalChars := 0
	totalTokens := 0
	for _, chunk := range chunks {
		totalChars += utf8.RuneCountInString(chunk.Text)
		totalTokens += estimateTokenCount(chunk.Text)
	}

	return fmt.Sprintf("分块数: %d, 总字符数: %d, 总Token数: %d, 平均字符数: %d, 平均Token数: %d",
		len(chunks), totalChars, totalTokens, totalChars/len(chunks), totalTokens/len(chunks))
}
