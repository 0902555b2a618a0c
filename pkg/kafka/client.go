// Package kafka 提供了食谱变更事件的发布与消费。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/pkg/log"
)

// maxAttempts 是单条消息处理失败后重试的上限，超过后提交 offset 放弃该消息。
const maxAttempts = 3

// EventHandler 处理一条食谱事件，例如写入搜索索引。
type EventHandler interface {
	Handle(ctx context.Context, event model.RecipeEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把食谱事件写入 Kafka，消息 key 为食谱 ID 以保证同一食谱的事件有序。
type Producer struct {
	writer messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish 发送一条食谱事件。
func (p *Producer) Publish(ctx context.Context, event model.RecipeEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RecipeID),
		Value: eventBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费食谱事件并交给 EventHandler 处理。
type Consumer struct {
	reader   *kafka.Reader
	handler  EventHandler
	attempts map[string]int
}

// NewConsumer 创建一个消费者组成员。
func NewConsumer(cfg config.KafkaConfig, handler EventHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers(cfg.Brokers),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
		}),
		handler:  handler,
		attempts: make(map[string]int),
	}
}

// Run 阻塞消费直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Error("关闭 Kafka 消费者失败", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		if c.process(ctx, m) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// process 处理一条消息并返回是否应提交 offset。
// 格式错误的消息直接提交；处理失败时不提交，让 Kafka 重投，直到达到 maxAttempts。
func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	var event model.RecipeEvent
	if err := json.Unmarshal(m.Value, &event); err != nil || event.RecipeID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	attemptKey := fmt.Sprintf("%d:%d", m.Partition, m.Offset)
	if err := c.handler.Handle(ctx, event); err != nil {
		c.attempts[attemptKey]++
		log.Errorf("处理食谱事件失败: recipe=%s, type=%s, attempt=%d, error: %v", event.RecipeID, event.Type, c.attempts[attemptKey], err)
		if c.attempts[attemptKey] >= maxAttempts {
			log.Errorf("食谱事件多次失败(>=%d)，提交 offset 终止重试: recipe=%s", maxAttempts, event.RecipeID)
			delete(c.attempts, attemptKey)
			return true
		}
		return false
	}
	delete(c.attempts, attemptKey)
	log.Infof("食谱事件处理成功: recipe=%s, type=%s", event.RecipeID, event.Type)
	return true
}

func brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
