// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"docchat-go/internal/config"
	"docchat-go/pkg/extractor"
	"docchat-go/pkg/log"
	"docchat-go/pkg/storage"
	"docchat-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete service implementation.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, task tasks.DocumentProcessingTask) error
	// AbandonTask 在重试次数用尽后调用。
	AbandonTask(ctx context.Context, task tasks.DocumentProcessingTask, cause error)
}

// Producer 发送文档处理任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceDocumentTask 发送一个文档处理任务到 Kafka。
func (p *Producer) ProduceDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", task.DocumentID)),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费者循环用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// StartConsumer 启动一个 Kafka 消费者来处理文档任务，直到 ctx 结束。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	c := newConsumer(r, processor, attempts, cfg.MaxAttempts)
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	c.run(ctx)
}

type consumer struct {
	reader      messageReader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func newConsumer(r messageReader, processor TaskProcessor, attempts AttemptCounter, maxAttempts int) *consumer {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &consumer{
		reader:      r,
		processor:   processor,
		attempts:    attempts,
		maxAttempts: maxAttempts,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
}

// run 逐条拉取并处理消息，直到 ctx 结束或读取失败。
// FetchMessage 不会重投未提交的消息，所以重试在 handle 内完成。
func (c *consumer) run(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		c.handle(ctx, m)
	}

	if err := c.reader.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 处理单条消息，失败时按指数退避重试，直到成功、遇到不可重试的错误或达到上限。
// ctx 结束时不提交 offset，下次启动后由消费组从该位置继续。
func (c *consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.DocumentProcessingTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	key := fmt.Sprintf("kafka:attempts:document:%d", task.DocumentID)
	backoff := c.baseBackoff
	for local := int64(1); ; local++ {
		log.Infof("开始处理文档任务: DocumentID=%d, Title=%s", task.DocumentID, task.Title)
		err := c.processor.ProcessTask(ctx, task)
		if err == nil {
			log.Infof("文档任务处理成功: DocumentID=%d", task.DocumentID)
			_ = c.attempts.Reset(ctx, key)
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			log.Warnf("消费者停止, 文档任务未完成: DocumentID=%d", task.DocumentID)
			return
		}

		log.Errorf("处理文档任务失败: DocumentID=%d, Error: %v", task.DocumentID, err)
		n, incErr := c.attempts.Incr(ctx, key)
		if incErr != nil {
			// 计数器不可用时退回到本次循环内的计数
			log.Warnf("记录失败次数出错: %v", incErr)
			n = local
		}
		if permanent(err) || n >= int64(c.maxAttempts) {
			log.Errorf("文档任务放弃重试(第 %d 次失败, 上限 %d): DocumentID=%d", n, c.maxAttempts, task.DocumentID)
			c.processor.AbandonTask(ctx, task, err)
			_ = c.attempts.Reset(ctx, key)
			c.commit(ctx, m)
			return
		}

		log.Infof("文档任务将在 %s 后重试: DocumentID=%d", backoff, task.DocumentID)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// permanent 判断错误重试后也不会成功，例如文件格式不支持或内容无法解析。
func permanent(err error) bool {
	return errors.Is(err, extractor.ErrUnsupportedFormat) ||
		errors.Is(err, extractor.ErrExtraction) ||
		errors.Is(err, storage.ErrObjectNotFound)
}

func (c *consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
