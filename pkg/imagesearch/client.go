// Package imagesearch 在配图生成失败时，按关键词从图库服务取一张图片作为兜底。
package imagesearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
)

// maxImageBytes 限制兜底图片的下载大小。
const maxImageBytes = 10 << 20

// Client 按关键词查找图片。
type Client struct {
	cfg        config.ImageSearchConfig
	httpClient *http.Client
}

// NewClient 创建图库客户端。HTTP 客户端默认跟随重定向，最终落到具体的图片地址。
func NewClient(cfg config.ImageSearchConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SearchURL 把关键词编码进图库地址：<base>/<width>/<height>/<tag1,tag2>。
func (c *Client) SearchURL(keyword string) string {
	tags := strings.Fields(strings.ToLower(keyword))
	for i, tag := range tags {
		tags[i] = url.PathEscape(tag)
	}
	return fmt.Sprintf("%s/%d/%d/%s", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Width, c.cfg.Height, strings.Join(tags, ","))
}

// Find 下载与关键词匹配的图片，要求响应为 image/* 且内容非空。
func (c *Client) Find(ctx context.Context, keyword string) ([]byte, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, apperr.New(apperr.KindImageGenerationFailed, "imagesearch.Find", "关键词为空")
	}
	searchURL := c.SearchURL(keyword)
	log.Infof("[ImageSearch] 按关键词查找图片: %s", searchURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagesearch.Find", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagesearch.Find", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagesearch.Find",
			fmt.Errorf("image search returned non-200 status: %s", resp.Status))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagesearch.Find",
			fmt.Errorf("unexpected content type %q", ct))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagesearch.Find", err)
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.KindImageGenerationFailed, "imagesearch.Find", "图片内容为空")
	}
	log.Infof("[ImageSearch] 获得兜底图片, 来源: %s, size: %d", resp.Request.URL, len(data))
	return data, nil
}
