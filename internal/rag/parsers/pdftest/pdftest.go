// Package pdftest 生成测试用的最小 PDF 文件
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Info 文档信息字典，空字段不写入
type Info struct {
	Title  string
	Author string
}

// Build 生成每页一行文本的 PDF，使用 Helvetica 与 WinAnsiEncoding
func Build(info Info, pages ...string) []byte {
	// 1 Catalog, 2 Pages, 3 Info, 4 Font, 之后每页占用 page 与 content 两个对象
	objects := make([]string, 0, 4+2*len(pages))

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 5+2*i)
	}

	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		infoDict(info),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)

	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escape(text))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 4 0 R >> >> /Contents %d 0 R >>", 6+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info 3 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

func infoDict(info Info) string {
	var b strings.Builder
	b.WriteString("<<")
	if info.Title != "" {
		fmt.Fprintf(&b, " /Title (%s)", escape(info.Title))
	}
	if info.Author != "" {
		fmt.Fprintf(&b, " /Author (%s)", escape(info.Author))
	}
	b.WriteString(" >>")
	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(s)
}
