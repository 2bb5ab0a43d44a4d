package parsers

import (
	"errors"
	"io"
)

// ErrExtraction 文档无法读取或没有可提取的文本
var ErrExtraction = errors.New("document extraction failed")

// Page 单页文本，Number 从 1 开始
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Metadata 文档元数据
type Metadata struct {
	NumPages int    `json:"num_pages"`
	Title    string `json:"title"`
	Author   string `json:"author"`
}

// Document 解析结果
type Document struct {
	FullText string   `json:"full_text"`
	Pages    []Page   `json:"pages"`
	Metadata Metadata `json:"metadata"`
}

// Parser 文档解析器接口
type Parser interface {
	// Extract 读取文档并提取分页文本与元数据
	Extract(reader io.Reader) (*Document, error)

	// SupportedExtensions 支持的扩展名（如 ".pdf"）
	SupportedExtensions() []string

	// CanParse 是否支持该扩展名
	CanParse(extension string) bool
}
