// Package pipeline 定义了仓库摄取的核心流程：读取文件、生成摘要与向量、写入知识库。
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"codelens-go/internal/ai"
	"codelens-go/internal/metrics"
	"codelens-go/internal/model"
	"codelens-go/internal/repository"
	"codelens-go/internal/source"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/fanout"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"

	"github.com/pgvector/pgvector-go"
)

// ContentSource 读取仓库默认分支上的文件，每读完一个文件就交付一个。
type ContentSource interface {
	Stream(ctx context.Context, repo githost.Repository, token string) (*source.Listing, <-chan source.Item, error)
}

// KnowledgeMirror 接收已写入知识库的文件，用于外部检索索引。
type KnowledgeMirror interface {
	IndexKnowledge(ctx context.Context, doc model.KnowledgeDocument) error
}

// IngestReport 汇总一次摄取的逐文件结果。
// Total 是目录树中的文件总数（含被跳过的文件）；Indexed 是摘要与向量均成功写入的文件数，按此计费；
// Degraded 是摘要生成失败、以占位摘要和零向量写入的文件数。
type IngestReport struct {
	Total    int                  `json:"total"`
	Indexed  int                  `json:"indexed"`
	Degraded int                  `json:"degraded"`
	Skipped  []source.Skipped     `json:"skipped"`
	Failures []apperr.ItemFailure `json:"failures"`
	Duration time.Duration        `json:"-"`
}

// Stored 返回已写入知识库的文件数。
func (r *IngestReport) Stored() int {
	return r.Indexed + r.Degraded
}

// Err 在存在失败文件时返回 *apperr.PartialFailure，否则返回 nil。
func (r *IngestReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &apperr.PartialFailure{Operation: "ingest", Failures: r.Failures}
}

type fileOutcome int

const (
	outcomeIndexed fileOutcome = iota
	outcomeDegraded
)

// Indexer 把仓库文件转换为 FileKnowledge 行。
type Indexer struct {
	source       ContentSource
	gateway      *ai.Gateway
	knowledge    repository.FileKnowledgeRepository
	mirror       KnowledgeMirror
	concurrency  int
	modelVersion string
}

// NewIndexer 创建一个新的 Indexer 实例。mirror 可以为 nil。
func NewIndexer(src ContentSource, gateway *ai.Gateway, knowledge repository.FileKnowledgeRepository,
	mirror KnowledgeMirror, concurrency int, modelVersion string) *Indexer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Indexer{
		source:       src,
		gateway:      gateway,
		knowledge:    knowledge,
		mirror:       mirror,
		concurrency:  concurrency,
		modelVersion: modelVersion,
	}
}

// Ingest 逐个读取仓库文件，每个文件读取完成后立即进入 摘要 → 向量化 → 写入 流程，不等待其他文件。
// 单个文件失败只记录在报告中；只有仓库内容无法列出，或在任何文件写入之前 ctx 就已结束时才返回错误。
func (ix *Indexer) Ingest(ctx context.Context, projectID string, repo githost.Repository, token string) (*IngestReport, error) {
	start := time.Now()
	listing, items, err := ix.source.Stream(ctx, repo, token)
	if err != nil {
		return nil, fmt.Errorf("list repository content: %w", err)
	}

	report := &IngestReport{
		Total:   listing.Total(),
		Skipped: append([]source.Skipped(nil), listing.Ignored...),
	}
	metrics.FilesIndexed.WithLabelValues(metrics.OutcomeSkipped).Add(float64(len(listing.Ignored)))

	var mu sync.Mutex
	fail := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		log.Warnw("[Indexer] 文件处理失败", "project", projectID, "path", path, "error", err)
		report.Failures = append(report.Failures, apperr.ItemFailure{Item: path, Reason: err.Error()})
		metrics.FilesIndexed.WithLabelValues(metrics.OutcomeFailure).Inc()
	}

	docs := make(chan source.Document)
	go func() {
		defer close(docs)
		for it := range items {
			switch {
			case it.Err != nil:
				fail(it.Path, it.Err)
			case it.Binary:
				mu.Lock()
				report.Skipped = append(report.Skipped, source.Skipped{Path: it.Path, Reason: source.ReasonBinary})
				mu.Unlock()
				metrics.FilesIndexed.WithLabelValues(metrics.OutcomeSkipped).Inc()
			default:
				docs <- it.Document
			}
		}
	}()

	fanout.Stream(ctx, docs, ix.concurrency, func(ctx context.Context, doc source.Document) (fileOutcome, error) {
		return ix.indexFile(ctx, projectID, doc)
	}, func(doc source.Document, outcome fileOutcome, err error) {
		if err != nil {
			fail(doc.Path, err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if outcome == outcomeDegraded {
			report.Degraded++
			metrics.FilesIndexed.WithLabelValues(metrics.OutcomeDegraded).Inc()
		} else {
			report.Indexed++
			metrics.FilesIndexed.WithLabelValues(metrics.OutcomeSuccess).Inc()
		}
	})
	report.Duration = time.Since(start)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Item < report.Failures[j].Item })
	sort.Slice(report.Skipped, func(i, j int) bool { return report.Skipped[i].Path < report.Skipped[j].Path })

	if err := ctx.Err(); err != nil && report.Stored() == 0 {
		return nil, fmt.Errorf("ingest %s: %w", repo, err)
	}
	log.Infof("[Indexer] 摄取完成, project: %s, repo: %s, total: %d, indexed: %d, degraded: %d, skipped: %d, failed: %d, 耗时: %s",
		projectID, repo, report.Total, report.Indexed, report.Degraded, len(report.Skipped), len(report.Failures), report.Duration)
	return report, nil
}

// indexFile 对单个文件执行 摘要 → 向量化 → 写入。摘要必须先于向量化完成。
func (ix *Indexer) indexFile(ctx context.Context, projectID string, doc source.Document) (fileOutcome, error) {
	outcome := outcomeIndexed
	var summary string
	var vector []float32

	if strings.TrimSpace(doc.Content) != "" {
		var ok bool
		summary, ok = ix.gateway.SummarizeFile(ctx, doc.Path, doc.Content)
		if !ok {
			outcome = outcomeDegraded
			vector = ix.gateway.ZeroVector()
		}
	}
	if vector == nil {
		var err error
		vector, err = ix.gateway.Embed(ctx, summary)
		if err != nil {
			return 0, err
		}
	}

	fk := &model.FileKnowledge{
		ProjectID:  projectID,
		FileName:   doc.Path,
		SourceCode: doc.Content,
		Summary:    summary,
		Embedding:  pgvector.NewVector(vector),
	}
	if err := ix.knowledge.Upsert(ctx, fk); err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}

	if ix.mirror != nil && outcome == outcomeIndexed {
		err := ix.mirror.IndexKnowledge(ctx, model.KnowledgeDocument{
			ProjectID:    projectID,
			FileName:     doc.Path,
			Summary:      summary,
			Vector:       vector,
			ModelVersion: ix.modelVersion,
		})
		if err != nil {
			log.Warnf("[Indexer] 写入 Elasticsearch 镜像失败, path: %s, error: %v", doc.Path, err)
		}
	}
	return outcome, nil
}
