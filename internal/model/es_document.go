package model

import "time"

// RecipeDocument 定义了存储在 Elasticsearch 中的食谱文档结构。
type RecipeDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Ingredients string    `json:"ingredients"`
	Steps       string    `json:"steps"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewRecipeDocument 由数据库记录构造索引文档。
func NewRecipeDocument(r Recipe) RecipeDocument {
	doc := RecipeDocument{
		ID:          r.ID,
		Title:       r.Title,
		Ingredients: r.Ingredients,
		Steps:       r.Steps,
		CreatedAt:   r.CreatedAt,
	}
	if r.ImageURL != nil {
		doc.ImageURL = *r.ImageURL
	}
	return doc
}

// SearchHit 定义了返回给前端的搜索结果结构。
type SearchHit struct {
	Recipe Recipe  `json:"recipe"`
	Score  float64 `json:"score"`
}

// Recipe 把索引文档还原为食谱记录。
func (d RecipeDocument) Recipe() Recipe {
	r := Recipe{
		ID:          d.ID,
		Title:       d.Title,
		Ingredients: d.Ingredients,
		Steps:       d.Steps,
		CreatedAt:   d.CreatedAt,
	}
	if d.ImageURL != "" {
		url := d.ImageURL
		r.ImageURL = &url
	}
	return r
}
