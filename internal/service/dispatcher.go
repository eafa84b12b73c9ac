package service

import (
	"context"
	"fmt"

	"codelens-go/internal/pipeline"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/tasks"
)

// Dispatcher 提交一个摄取任务。同步执行时返回结果，排队执行时结果为 nil，
// 任务进度通过项目的 index_status 观察。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.ProjectIngestTask) (*pipeline.Result, error)
}

// TaskProducer 把摄取任务写入消息队列。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.ProjectIngestTask) error
}

type inlineDispatcher struct {
	processor *pipeline.Processor
}

// NewInlineDispatcher 返回在当前请求内同步执行摄取的 Dispatcher。
func NewInlineDispatcher(processor *pipeline.Processor) Dispatcher {
	return &inlineDispatcher{processor: processor}
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, task tasks.ProjectIngestTask) (*pipeline.Result, error) {
	return d.processor.Run(ctx, task)
}

type queueDispatcher struct {
	producer TaskProducer
}

// NewQueueDispatcher 返回把摄取任务写入 Kafka 的 Dispatcher。
func NewQueueDispatcher(producer TaskProducer) Dispatcher {
	return &queueDispatcher{producer: producer}
}

func (d *queueDispatcher) Dispatch(ctx context.Context, task tasks.ProjectIngestTask) (*pipeline.Result, error) {
	if err := d.producer.ProduceIngestTask(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: enqueue ingest task: %v", apperr.ErrUpstreamUnavailable, err)
	}
	return nil, nil
}
