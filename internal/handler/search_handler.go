package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"recetario-go/internal/service"
	"recetario-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 处理全文搜索请求，参数 q 为关键词，size 为返回条数。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size <= 0 {
		size = 20
	}

	results, err := h.searchService.Search(c.Request.Context(), query, size)
	if err != nil {
		log.Errorf("[SearchHandler] 搜索失败, query: %s, error: %v", query, err)
		fail(c, service.ActionSearch, err)
		return
	}
	log.Infof("[SearchHandler] 搜索成功, query: '%s', 返回 %d 条结果", query, len(results))
	ok(c, results)
}
