// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"codelens-go/internal/config"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/log"
	"codelens-go/pkg/tasks"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务的最大处理次数（跨重新投递累计），用完后提交 offset 放弃该任务。
const maxAttempts = 3

// errAttemptsExhausted 表示此前的投递已经用完了全部处理次数。
var errAttemptsExhausted = errors.New("attempts exhausted by earlier deliveries")

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ProjectIngestTask) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	IncrAttempts(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ClearAttempts(ctx context.Context, key string) error
}

// MessageReader 是消费者依赖的 kafka.Reader 子集。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把摄取任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("[Kafka] 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

// ProduceIngestTask 发送一个摄取任务。以项目 ID 为消息键，同一项目的任务落在同一分区。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.ProjectIngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ProjectID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费摄取任务并交给 TaskProcessor 同步处理。
type Consumer struct {
	reader    MessageReader
	processor TaskProcessor
	attempts  AttemptCounter
	backOff   func() backoff.BackOff
}

// NewConsumer 创建一个消费者。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, processor, attempts)
}

func newConsumer(reader MessageReader, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	return &Consumer{reader: reader, processor: processor, attempts: attempts, backOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	return eb
}

// Run 持续消费直到 ctx 被取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("[Kafka] 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				log.Info("[Kafka] 消费者已停止")
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("[Kafka] 收到消息: offset %d", m.Offset)

	var task tasks.ProjectIngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.ProjectID == "" {
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	// kafka-go 不会在同一会话中重新投递未提交的消息，因此失败的任务在这里原地重试，处理完才提交 offset
	attemptsKey := "kafka:attempts:" + task.ProjectID
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		n, err := c.attempts.IncrAttempts(ctx, attemptsKey, 24*time.Hour)
		if err != nil {
			log.Warnf("[Kafka] 记录处理次数失败, project: %s, error: %v", task.ProjectID, err)
		} else if n > maxAttempts {
			return backoff.Permanent(errAttemptsExhausted)
		}
		err = c.processor.Process(ctx, task)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(c.backOff(), maxAttempts-1), ctx), func(err error, wait time.Duration) {
		log.Warnf("[Kafka] 处理摄取任务失败（第 %d 次），%s 后重试: project=%s, error: %v", attempt, wait, task.ProjectID, err)
	})

	if ctx.Err() != nil {
		// 停机中：不提交 offset，由下一个消费者接手
		log.Warnf("[Kafka] 停机时任务未完成，保留 offset: project=%s", task.ProjectID)
		return
	}
	if err != nil {
		log.Errorw("[Kafka] 摄取任务失败，提交 offset 放弃该任务",
			"project", task.ProjectID, "attempts", attempt, "offset", m.Offset, "error", err)
	} else {
		log.Infof("[Kafka] 摄取任务处理成功: project=%s", task.ProjectID)
	}
	if err := c.attempts.ClearAttempts(ctx, attemptsKey); err != nil {
		log.Warnf("[Kafka] 清理处理次数失败, project: %s, error: %v", task.ProjectID, err)
	}
	c.commit(ctx, m)
}

// permanent 判断错误是否重试也无法恢复。
func permanent(err error) bool {
	return errors.Is(err, apperr.ErrProjectNotFound) ||
		errors.Is(err, apperr.ErrInvalidRepositoryURL) ||
		errors.Is(err, apperr.ErrRepositoryNotFound)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("[Kafka] 提交消息 offset 失败: %v", err)
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
