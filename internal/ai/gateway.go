// Package ai 封装了生成式 AI 后端：文件摘要、diff 摘要与文本向量化。
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codelens-go/internal/metrics"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/embedding"
	"codelens-go/pkg/llm"
	"codelens-go/pkg/log"

	"golang.org/x/time/rate"
)

// NoSummary 是摘要生成失败时返回的占位文本。
const NoSummary = "No summary generated."

// Options 控制网关的截断、超时与限流。
type Options struct {
	Dimensions        int
	MaxSummaryChars   int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Gateway 无状态，可被多个 goroutine 并发使用。
type Gateway struct {
	llm      llm.Client
	embedder embedding.Client
	opts     Options
	limiter  *rate.Limiter
}

// NewGateway 创建一个新的 Gateway 实例。
func NewGateway(llmClient llm.Client, embedder embedding.Client, opts Options) *Gateway {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 768
	}
	if opts.MaxSummaryChars <= 0 {
		opts.MaxSummaryChars = 10000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Gateway{
		llm:      llmClient,
		embedder: embedder,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Burst),
	}
}

// Dimensions 返回向量维度 D。
func (g *Gateway) Dimensions() int {
	return g.opts.Dimensions
}

// ZeroVector 返回长度为 D 的零向量。
func (g *Gateway) ZeroVector() []float32 {
	return make([]float32, g.opts.Dimensions)
}

// SummarizeFile 生成文件职责的简短描述。内容超过上限时先截断。
// 失败时返回 NoSummary 和 false，不向上传播错误。
func (g *Gateway) SummarizeFile(ctx context.Context, path, content string) (string, bool) {
	code := truncateRunes(content, g.opts.MaxSummaryChars)
	summary, err := g.complete(ctx, "summarize_file", fileSummaryPrompt(path, code))
	if err != nil {
		log.Warnf("[AIGateway] 文件摘要生成失败, path: %s, error: %v", path, err)
		return NoSummary, false
	}
	return summary, true
}

// SummarizeDiff 按固定提示词生成 diff 的要点式摘要。失败时返回 NoSummary 和 false。
func (g *Gateway) SummarizeDiff(ctx context.Context, diff string) (string, bool) {
	if strings.TrimSpace(diff) == "" {
		return NoSummary, false
	}
	summary, err := g.complete(ctx, "summarize_diff", diffSummaryPrompt(diff))
	if err != nil {
		log.Warnf("[AIGateway] diff 摘要生成失败, error: %v", err)
		return NoSummary, false
	}
	return summary, true
}

// Embed 返回长度为 D 的向量。空白文本直接返回零向量，不调用后端。
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return g.ZeroVector(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.AIRequests.WithLabelValues("embed", metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w: embed: %v", apperr.ErrUpstreamUnavailable, err)
	}

	vector, err := g.embedder.CreateEmbedding(ctx, text)
	if err != nil {
		metrics.AIRequests.WithLabelValues("embed", metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("%w: embed: %v", apperr.ErrUpstreamUnavailable, err)
	}
	if len(vector) != g.opts.Dimensions {
		metrics.AIRequests.WithLabelValues("embed", metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), g.opts.Dimensions)
	}
	metrics.AIRequests.WithLabelValues("embed", metrics.OutcomeSuccess).Inc()
	return vector, nil
}

func (g *Gateway) complete(ctx context.Context, operation, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.AIRequests.WithLabelValues(operation, metrics.OutcomeFailure).Inc()
		return "", err
	}

	text, err := g.llm.Complete(ctx, llm.UserPrompt(prompt))
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty completion")
	}
	if err != nil {
		metrics.AIRequests.WithLabelValues(operation, metrics.OutcomeFailure).Inc()
		return "", err
	}
	metrics.AIRequests.WithLabelValues(operation, metrics.OutcomeSuccess).Inc()
	return strings.TrimSpace(text), nil
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
