// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recipe 对应于数据库中的 recipes 表。
// Ingredients 与 Steps 以换行分隔的文本保存，每行一项，编解码见 JoinLines / SplitLines。
type Recipe struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title       string    `gorm:"type:varchar(255);not null" json:"title"`
	Ingredients string    `gorm:"type:text" json:"ingredients"`
	Steps       string    `gorm:"type:text" json:"steps"`
	ImageURL    *string   `gorm:"type:varchar(1024)" json:"imageUrl"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Recipe) TableName() string {
	return "recipes"
}

// BeforeCreate 在插入前分配 ID。UUIDv7 按时间递增，created_at 相同时可用 ID 保持创建顺序。
func (r *Recipe) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		r.ID = id.String()
	}
	return nil
}

// HasImage 判断记录是否带有图片引用。
func (r Recipe) HasImage() bool {
	return r.ImageURL != nil && *r.ImageURL != ""
}

// RecipeFields 是创建或更新时可写入的字段。更新时只有非 nil 的字段会被写入。
type RecipeFields struct {
	Title       *string
	Ingredients *string
	Steps       *string
	// ImageURL 非 nil 时写入；指向空字符串表示清除图片引用。
	ImageURL *string
}

// RecipeSuggestion 是建议服务返回的临时食谱，只有被用户接受后才会落库。
type RecipeSuggestion struct {
	Title       string   `json:"title"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
}
