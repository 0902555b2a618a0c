package model

import "time"

// RecipeEventType 标识食谱变更的类型。
type RecipeEventType string

const (
	RecipeCreated RecipeEventType = "created"
	RecipeUpdated RecipeEventType = "updated"
	RecipeDeleted RecipeEventType = "deleted"
)

// RecipeEvent 是写入成功后发布到 Kafka 的消息，由索引流水线消费。
// 删除事件只携带 RecipeID。
type RecipeEvent struct {
	Type       RecipeEventType `json:"type"`
	RecipeID   string          `json:"recipeId"`
	Recipe     *Recipe         `json:"recipe,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}
