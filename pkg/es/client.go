// Package es 提供了食谱搜索索引的 Elasticsearch 客户端。
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/pkg/log"
)

// recipeMapping 使用内置的 spanish 分析器，标题权重在查询时提升。
const recipeMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "keyword" },
			"title": { "type": "text", "analyzer": "spanish" },
			"ingredients": { "type": "text", "analyzer": "spanish" },
			"steps": { "type": "text", "analyzer": "spanish" },
			"image_url": { "type": "keyword", "index": false },
			"created_at": { "type": "date" }
		}
	}
}`

// RecipeIndex 封装了对食谱索引的读写。
type RecipeIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewRecipeIndex 初始化 Elasticsearch 客户端，并在索引不存在时创建它。
func NewRecipeIndex(ctx context.Context, esCfg config.ElasticsearchConfig) (*RecipeIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
	})
	if err != nil {
		return nil, err
	}
	idx := &RecipeIndex{client: client, indexName: esCfg.IndexName}
	if err := idx.createIndexIfNotExists(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *RecipeIndex) createIndexIfNotExists(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.indexName}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithBody(strings.NewReader(recipeMapping)),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", i.indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.String())
	}
	log.Infof("索引 '%s' 创建成功", i.indexName)
	return nil
}

// Upsert 以食谱 ID 为文档 ID 写入或覆盖文档。
func (i *RecipeIndex) Upsert(ctx context.Context, doc model.RecipeDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      i.indexName,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
	}
	return nil
}

// Delete 删除文档，文档不存在时视为成功。
func (i *RecipeIndex) Delete(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{Index: i.indexName, DocumentID: id, Refresh: "true"}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("从 Elasticsearch 删除文档出错: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64              `json:"_score"`
			Source model.RecipeDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在标题、食材与步骤中做全文检索，按相关度排序。
func (i *RecipeIndex) Search(ctx context.Context, query string, size int) ([]model.SearchHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildSearchQuery(query, size)); err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch 搜索返回错误: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.SearchHit{Recipe: h.Source.Recipe(), Score: h.Score})
	}
	return hits, nil
}

func buildSearchQuery(query string, size int) map[string]interface{} {
	if size <= 0 {
		size = 20
	}
	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"title^3", "ingredients", "steps"},
				"fuzziness": "AUTO",
			},
		},
	}
}
