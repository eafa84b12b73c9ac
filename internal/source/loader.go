// Package source 负责从代码托管平台逐个读取仓库默认分支上的文本文件。
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"codelens-go/pkg/fanout"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"
)

// Document 是一个文件路径及其文本内容。
type Document struct {
	Path    string
	Content string
}

// Skipped 记录一个被有意跳过的文件及原因。
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// 跳过原因。
const (
	ReasonIgnored = "ignored"
	ReasonBinary  = "binary"
)

// Listing 是默认分支目录树的过滤结果，不含文件内容。
type Listing struct {
	Ref     string
	Files   []githost.TreeEntry
	Ignored []Skipped
}

// Total 返回目录树中的文件数（含被忽略的文件）。
func (l *Listing) Total() int {
	return len(l.Files) + len(l.Ignored)
}

// Item 是单个文件的读取结果。Err 非空表示读取失败；Binary 为真表示该文件不是文本，已跳过。
type Item struct {
	Path     string
	Document Document
	Binary   bool
	Err      error
}

// TextExtractor 从二进制文档中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte, fileName string) (string, error)
}

// documentExtensions 是允许交给文本提取器处理的文档类型。
var documentExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".odt": {}, ".rtf": {},
	".ppt": {}, ".pptx": {}, ".xls": {}, ".xlsx": {},
}

// Loader 读取仓库内容。
type Loader struct {
	host        githost.Client
	extractor   TextExtractor
	concurrency int
}

// NewLoader 创建 Loader。extractor 可以为 nil，此时非文本文件一律跳过。
func NewLoader(host githost.Client, extractor TextExtractor, concurrency int) *Loader {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Loader{host: host, extractor: extractor, concurrency: concurrency}
}

// ListFiles 返回默认分支上所有未被忽略的文件条目，不读取内容。
func (l *Loader) ListFiles(ctx context.Context, repo githost.Repository, token string) (string, []githost.TreeEntry, []Skipped, error) {
	ref, err := l.host.DefaultBranch(ctx, repo, token)
	if err != nil {
		return "", nil, nil, err
	}
	entries, err := l.host.ListTree(ctx, repo, token, ref)
	if err != nil {
		return "", nil, nil, err
	}

	var files []githost.TreeEntry
	var skipped []Skipped
	for _, e := range entries {
		if !e.Blob {
			continue
		}
		if Ignored(e.Path) {
			skipped = append(skipped, Skipped{Path: e.Path, Reason: ReasonIgnored})
			continue
		}
		files = append(files, e)
	}
	return ref, files, skipped, nil
}

// Stream 列出默认分支上的文件后立即返回，文件内容在后台并发读取，每读完一个就发送到返回的通道上。
// 每个文件恰好产生一个 Item，全部读取结束后通道关闭。只有分支或目录树无法获取时才返回错误。
// 通道按文件数缓冲，调用方读取得慢不会阻塞下载。
func (l *Loader) Stream(ctx context.Context, repo githost.Repository, token string) (*Listing, <-chan Item, error) {
	ref, files, ignored, err := l.ListFiles(ctx, repo, token)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("[SourceLoader] 仓库 %s@%s 共 %d 个待读取文件, 忽略 %d 个", repo, ref, len(files), len(ignored))

	in := make(chan githost.TreeEntry, len(files))
	for _, e := range files {
		in <- e
	}
	close(in)

	out := make(chan Item, len(files))
	go func() {
		defer close(out)
		fanout.Stream(ctx, in, l.concurrency, func(ctx context.Context, e githost.TreeEntry) (Item, error) {
			return l.fetch(ctx, repo, token, e)
		}, func(e githost.TreeEntry, it Item, err error) {
			if err != nil {
				log.Warnf("[SourceLoader] 读取文件失败, path: %s, error: %v", e.Path, err)
				it = Item{Err: err}
			}
			it.Path = e.Path
			out <- it
		})
	}()
	return &Listing{Ref: ref, Files: files, Ignored: ignored}, out, nil
}

func (l *Loader) fetch(ctx context.Context, repo githost.Repository, token string, e githost.TreeEntry) (Item, error) {
	raw, err := l.host.GetBlob(ctx, repo, token, e.SHA)
	if err != nil {
		return Item{}, err
	}
	text, ok, err := l.decode(ctx, e.Path, raw)
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{Binary: true}, nil
	}
	return Item{Document: Document{Path: e.Path, Content: text}}, nil
}

// decode 把原始字节转换为文本。返回 ok=false 表示该文件不是文本，应跳过。
func (l *Loader) decode(ctx context.Context, p string, raw []byte) (string, bool, error) {
	if isText(raw) {
		return string(raw), true, nil
	}
	if l.extractor == nil || !isDocument(p) {
		return "", false, nil
	}
	text, err := l.extractor.ExtractText(ctx, raw, path.Base(p))
	if err != nil {
		return "", false, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", false, errors.New("extract text: no text content")
	}
	return text, true, nil
}

func isText(raw []byte) bool {
	return utf8.Valid(raw) && bytes.IndexByte(raw, 0) < 0
}

func isDocument(p string) bool {
	_, ok := documentExtensions[strings.ToLower(path.Ext(p))]
	return ok
}
