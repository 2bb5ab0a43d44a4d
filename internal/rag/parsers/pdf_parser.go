package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"ragchat/internal/logger"

	"github.com/dslipak/pdf"
	"go.uber.org/zap"
)

// unknownField Info 字典缺少字段时的默认值
const unknownField = "Unknown"

// PDFParser PDF 文件解析器
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Extract 解析 PDF 文件
// 每页文本以 "--- Page N ---" 分隔拼入 FullText；空页和解码失败的页被跳过
func (p *PDFParser) Extract(reader io.Reader) (doc *Document, err error) {
	// pdf.NewReader 需要 ReaderAt
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取 PDF 内容失败: %w", ErrExtraction, err)
	}

	// 畸形文件可能让 pdf 包 panic
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: 解析 PDF 失败: %v", ErrExtraction, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 PDF 失败: %w", ErrExtraction, err)
	}

	info := r.Trailer().Key("Info")
	numPages := r.NumPage()
	doc = &Document{
		Pages: make([]Page, 0, numPages),
		Metadata: Metadata{
			NumPages: numPages,
			Title:    infoField(info, "Title"),
			Author:   infoField(info, "Author"),
		},
	}

	var buf strings.Builder
	hasText := false
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("解析 PDF 页面失败", zap.Int("page", i), zap.Error(err))
			continue
		}

		doc.Pages = append(doc.Pages, Page{Number: i, Text: text})
		fmt.Fprintf(&buf, "\n--- Page %d ---\n%s", i, text)
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
	}

	if !hasText {
		return nil, fmt.Errorf("%w: PDF 内容为空或无法解析文本", ErrExtraction)
	}

	doc.FullText = buf.String()
	return doc, nil
}

func infoField(info pdf.Value, key string) string {
	if info.IsNull() {
		return unknownField
	}
	if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
		return v
	}
	return unknownField
}

// SupportedExtensions 支持的文件扩展名
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// CanParse 检查是否可以解析指定扩展名的文件
func (p *PDFParser) CanParse(extension string) bool {
	extension = strings.ToLower(extension)
	for _, ext := range p.SupportedExtensions() {
		if ext == extension {
			return true
		}
	}
	return false
}
