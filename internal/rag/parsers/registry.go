package parsers

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ParserRegistry 按扩展名分派解析器
type ParserRegistry struct {
	parsers []Parser
}

// NewParserRegistry 创建注册表并注册默认解析器
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{
		parsers: make([]Parser, 0, 1),
	}
	r.Register(NewPDFParser())
	return r
}

// Register 注册解析器
func (r *ParserRegistry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Supports 文件名是否有可用的解析器
func (r *ParserRegistry) Supports(fileName string) bool {
	return r.lookup(fileName) != nil
}

// Extract 选择解析器并提取文档
func (r *ParserRegistry) Extract(fileName string, reader io.Reader) (*Document, error) {
	p := r.lookup(fileName)
	if p == nil {
		return nil, fmt.Errorf("%w: 不支持的文件类型 %q", ErrExtraction, filepath.Ext(fileName))
	}
	return p.Extract(reader)
}

func (r *ParserRegistry) lookup(fileName string) Parser {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, p := range r.parsers {
		if p.CanParse(ext) {
			return p
		}
	}
	return nil
}
