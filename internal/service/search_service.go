package service

import (
	"context"
	"strings"

	"recetario-go/internal/model"
	"recetario-go/pkg/log"
)

// RecipeSearcher 是全文检索索引的查询接口。
type RecipeSearcher interface {
	Search(ctx context.Context, query string, size int) ([]model.SearchHit, error)
}

// SearchService 定义了食谱搜索的接口。
type SearchService interface {
	Search(ctx context.Context, query string, size int) ([]model.SearchHit, error)
}

type searchService struct {
	index   RecipeSearcher
	recipes RecipeService
}

// NewSearchService 创建一个新的 SearchService 实例。index 为 nil 时只使用内存过滤。
func NewSearchService(index RecipeSearcher, recipes RecipeService) SearchService {
	return &searchService{index: index, recipes: recipes}
}

// Search 优先使用 Elasticsearch；索引未启用或查询失败时退回到内存中的子串过滤。
func (s *searchService) Search(ctx context.Context, query string, size int) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	if size <= 0 {
		size = 20
	}
	if s.index != nil && query != "" {
		hits, err := s.index.Search(ctx, query, size)
		if err == nil {
			return hits, nil
		}
		log.Warnf("[SearchService] Elasticsearch 查询失败，退回内存过滤, query: %s, error: %v", query, err)
	}

	matched := s.recipes.Filter(query)
	if len(matched) > size {
		matched = matched[:size]
	}
	hits := make([]model.SearchHit, 0, len(matched))
	for _, r := range matched {
		hits = append(hits, model.SearchHit{Recipe: r})
	}
	return hits, nil
}
