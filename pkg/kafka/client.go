// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"protoforge/internal/config"
	"protoforge/pkg/log"
	"protoforge/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是单个任务失败后的最大尝试次数，达到后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 定义了可以处理模板索引任务的服务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.TemplateIndexTask) error
}

// TaskPublisher 定义了发布模板索引任务的能力。
type TaskPublisher interface {
	PublishTemplateTask(ctx context.Context, task tasks.TemplateIndexTask) error
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 是基于 kafka.Writer 的任务发布者。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("[Kafka] 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// PublishTemplateTask 发送一个模板索引任务，消息 key 为模板 ID。
func (p *Producer) PublishTemplateTask(ctx context.Context, task tasks.TemplateIndexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TemplateID),
		Value: taskBytes,
	})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费模板索引任务，使用 Redis 记录失败次数。
type Consumer struct {
	reader      *kafka.Reader
	redisClient *redis.Client
	processor   TaskProcessor
}

// NewConsumer 创建 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, redisClient *redis.Client, processor TaskProcessor) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokerList(cfg.Brokers),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		redisClient: redisClient,
		processor:   processor,
	}
}

// Run 持续拉取消息直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("[Kafka] 读取消息失败", err)
			}
			return
		}
		if c.handle(ctx, m.Value) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("[Kafka] 提交 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息，返回是否应当提交 offset。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.TemplateIndexTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.TemplateID)
	log.Infof("[Kafka] 开始处理模板索引任务: id=%s, name=%s", task.TemplateID, task.Name)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("[Kafka] 模板索引任务失败: id=%s, error: %v", task.TemplateID, err)
		attempts, incErr := c.redisClient.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时不提交 offset，让 Kafka 重试
			return false
		}
		_ = c.redisClient.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= maxAttempts {
			log.Errorf("[Kafka] 任务多次失败(>=%d)，提交 offset 终止重试: id=%s", maxAttempts, task.TemplateID)
			return true
		}
		return false
	}

	log.Infof("[Kafka] 模板索引任务成功: id=%s", task.TemplateID)
	_ = c.redisClient.Del(ctx, attemptsKey).Err()
	return true
}
