package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"luma_backend/internal/model"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxExcerptRunes 送入生成器的课件正文上限，超出部分截断。
// 大纲抽取只需要看清结构，不需要整本书。
const maxExcerptRunes = 6000

// ContentExtractor 从课件对象中取出正文节选，供大纲抽取的提示词引用
type ContentExtractor interface {
	Excerpt(ctx context.Context, file *model.CourseFile) (string, error)
}

// PDFExtractor 从对象存储取回PDF并抽取纯文本
type PDFExtractor struct {
	Storage *StorageService
}

func NewPDFExtractor(storage *StorageService) *PDFExtractor {
	return &PDFExtractor{Storage: storage}
}

func (e *PDFExtractor) Excerpt(ctx context.Context, file *model.CourseFile) (string, error) {
	rc, err := e.Storage.Download(ctx, file.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("下载课件 %s: %w", file.ObjectKey, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("读取课件 %s: %w", file.ObjectKey, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("解析PDF %s: %w", file.Name, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("抽取PDF正文 %s: %w", file.Name, err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}

	return truncateRunes(collapseWhitespace(string(text)), maxExcerptRunes), nil
}

// collapseWhitespace PDF抽出的文本常带大量换行和重复空白，压成单空格
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
