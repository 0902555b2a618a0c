package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/pkg/apperr"
)

// ConversationRepository 定义了聊天会话记录的操作接口。
type ConversationRepository interface {
	GetTranscript(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	SaveTranscript(ctx context.Context, sessionID string, messages []model.ChatMessage) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
	maxMessages int
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client, cfg config.ChatConfig) ConversationRepository {
	return &redisConversationRepository{
		redisClient: redisClient,
		ttl:         cfg.HistoryTTL,
		maxMessages: cfg.MaxMessages,
	}
}

func transcriptKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}

// GetTranscript 从 Redis 获取会话记录，不存在时返回空列表。
func (r *redisConversationRepository) GetTranscript(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, transcriptKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "conversation.GetTranscript", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return messages, nil
}

// SaveTranscript 覆盖写入会话记录并刷新过期时间。
func (r *redisConversationRepository) SaveTranscript(ctx context.Context, sessionID string, messages []model.ChatMessage) error {
	jsonData, err := json.Marshal(TrimTranscript(messages, r.maxMessages))
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := r.redisClient.Set(ctx, transcriptKey(sessionID), jsonData, r.ttl).Err(); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "conversation.SaveTranscript", err)
	}
	return nil
}

// TrimTranscript 只保留最近 max 条消息，但不会丢弃仍在等待决定的消息。
func TrimTranscript(messages []model.ChatMessage, max int) []model.ChatMessage {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	drop := len(messages) - max
	kept := make([]model.ChatMessage, 0, max)
	for i, m := range messages {
		if i < drop && !m.Awaiting() {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
