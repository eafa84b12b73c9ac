package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"codelens-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	return f.reply, f.err
}

type fakeEmbedder struct {
	calls  int
	vector []float32
	err    error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

func newTestGateway(l *fakeLLM, e *fakeEmbedder) *Gateway {
	return NewGateway(l, e, Options{Dimensions: 4, MaxSummaryChars: 10000, Timeout: time.Second})
}

func TestSummarizeFileTruncatesContent(t *testing.T) {
	l := &fakeLLM{reply: "  Parses config.  "}
	g := newTestGateway(l, &fakeEmbedder{})

	content := strings.Repeat("a", 12000)
	summary, ok := g.SummarizeFile(context.Background(), "config.go", content)

	require.True(t, ok)
	assert.Equal(t, "Parses config.", summary)
	require.Len(t, l.prompts, 1)
	assert.Contains(t, l.prompts[0], `"config.go"`)
	assert.Contains(t, l.prompts[0], strings.Repeat("a", 10000))
	assert.NotContains(t, l.prompts[0], strings.Repeat("a", 10001))
}

func TestSummarizeFileFailureReturnsSentinel(t *testing.T) {
	g := newTestGateway(&fakeLLM{err: errors.New("quota exceeded")}, &fakeEmbedder{})

	summary, ok := g.SummarizeFile(context.Background(), "main.go", "package main")

	assert.False(t, ok)
	assert.Equal(t, NoSummary, summary)
}

func TestSummarizeFileEmptyCompletionIsFailure(t *testing.T) {
	g := newTestGateway(&fakeLLM{reply: "   "}, &fakeEmbedder{})

	summary, ok := g.SummarizeFile(context.Background(), "main.go", "package main")

	assert.False(t, ok)
	assert.Equal(t, NoSummary, summary)
}

func TestSummarizeDiffUsesFixedPrompt(t *testing.T) {
	l := &fakeLLM{reply: "* Added retries [client.go]"}
	g := newTestGateway(l, &fakeEmbedder{})

	diff := "diff --git a/client.go b/client.go\n+retry()"
	summary, ok := g.SummarizeDiff(context.Background(), diff)

	require.True(t, ok)
	assert.Equal(t, "* Added retries [client.go]", summary)
	require.Len(t, l.prompts, 1)
	assert.True(t, strings.HasPrefix(l.prompts[0], "You are an expert programmer"))
	assert.True(t, strings.HasSuffix(l.prompts[0], diff))
}

func TestSummarizeDiffEmptyDiffSkipsBackend(t *testing.T) {
	l := &fakeLLM{reply: "unused"}
	g := newTestGateway(l, &fakeEmbedder{})

	summary, ok := g.SummarizeDiff(context.Background(), " \n")

	assert.False(t, ok)
	assert.Equal(t, NoSummary, summary)
	assert.Empty(t, l.prompts)
}

func TestEmbedBlankTextReturnsZeroVector(t *testing.T) {
	e := &fakeEmbedder{vector: []float32{1, 2, 3, 4}}
	g := newTestGateway(&fakeLLM{}, e)

	for _, text := range []string{"", "   ", "\n\t"} {
		vector, err := g.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 0, 0}, vector)
	}
	assert.Zero(t, e.calls)
}

func TestEmbedReturnsBackendVector(t *testing.T) {
	e := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3, 0.4}}
	g := newTestGateway(&fakeLLM{}, e)

	vector, err := g.Embed(context.Background(), "a summary")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vector)
	assert.Equal(t, 1, e.calls)
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	g := newTestGateway(&fakeLLM{}, &fakeEmbedder{vector: []float32{0.1, 0.2}})

	_, err := g.Embed(context.Background(), "a summary")

	assert.ErrorContains(t, err, "2 dimensions, want 4")
}

func TestEmbedBackendError(t *testing.T) {
	g := newTestGateway(&fakeLLM{}, &fakeEmbedder{err: errors.New("boom")})

	_, err := g.Embed(context.Background(), "a summary")

	assert.Error(t, err)
}

func TestTruncateRunesKeepsUTF8Intact(t *testing.T) {
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 5))
}
