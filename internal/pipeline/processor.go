// Package pipeline 把食谱变更事件同步到搜索索引。
package pipeline

import (
	"context"
	"fmt"

	"recetario-go/internal/model"
	"recetario-go/pkg/log"
)

// Indexer 是搜索索引需要提供的写操作。
type Indexer interface {
	Upsert(ctx context.Context, doc model.RecipeDocument) error
	Delete(ctx context.Context, id string) error
}

// Processor 消费食谱事件并更新索引。
type Processor struct {
	index Indexer
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(index Indexer) *Processor {
	return &Processor{index: index}
}

// Handle 根据事件类型写入或删除索引文档。
func (p *Processor) Handle(ctx context.Context, event model.RecipeEvent) error {
	switch event.Type {
	case model.RecipeCreated, model.RecipeUpdated:
		if event.Recipe == nil {
			return fmt.Errorf("event %s for recipe %s has no payload", event.Type, event.RecipeID)
		}
		if err := p.index.Upsert(ctx, model.NewRecipeDocument(*event.Recipe)); err != nil {
			return fmt.Errorf("failed to index recipe %s: %w", event.RecipeID, err)
		}
	case model.RecipeDeleted:
		if err := p.index.Delete(ctx, event.RecipeID); err != nil {
			return fmt.Errorf("failed to remove recipe %s from index: %w", event.RecipeID, err)
		}
	default:
		log.Warnf("[Pipeline] 未知的事件类型: %s, recipe: %s", event.Type, event.RecipeID)
		return nil
	}
	log.Infof("[Pipeline] 索引已更新: type=%s, recipe=%s", event.Type, event.RecipeID)
	return nil
}

// Reindex 把当前全部食谱写入索引，启动时用于补齐 Kafka 关闭期间的变更。
func (p *Processor) Reindex(ctx context.Context, recipes []model.Recipe) error {
	for _, r := range recipes {
		if err := p.index.Upsert(ctx, model.NewRecipeDocument(r)); err != nil {
			return fmt.Errorf("failed to reindex recipe %s: %w", r.ID, err)
		}
	}
	log.Infof("[Pipeline] 全量重建索引完成, 共 %d 条", len(recipes))
	return nil
}

// DirectPublisher 在未启用 Kafka 时同步处理事件，保持索引与数据库一致。
type DirectPublisher struct {
	processor *Processor
}

func NewDirectPublisher(processor *Processor) *DirectPublisher {
	return &DirectPublisher{processor: processor}
}

func (d *DirectPublisher) Publish(ctx context.Context, event model.RecipeEvent) error {
	return d.processor.Handle(ctx, event)
}
