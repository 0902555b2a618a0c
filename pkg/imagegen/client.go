// Package imagegen 请求 OpenAI 兼容的图片生成接口，为食谱生成配图。
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
)

// Client 定义了配图生成客户端。
type Client interface {
	// Generate 根据食谱标题生成一张图片，返回原始图片字节。失败时返回 KindImageGenerationFailed。
	Generate(ctx context.Context, title string) ([]byte, error)
}

type openAICompatibleClient struct {
	cfg    config.ImageGenConfig
	client *http.Client
}

// NewClient creates a new image generation client.
func NewClient(cfg config.ImageGenConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Prompt 构造发送给图片模型的描述。
func Prompt(title string) string {
	return fmt.Sprintf("Una fotografía apetitosa y profesional de comida del plato \"%s\", bien iluminada, sobre una mesa rústica.", title)
}

func (c *openAICompatibleClient) Generate(ctx context.Context, title string) ([]byte, error) {
	log.Infof("[ImageGenClient] 开始生成配图, model: %s, title: %s", c.cfg.Model, title)
	data, err := c.generate(ctx, title)
	if err != nil {
		log.Errorf("[ImageGenClient] 生成配图失败: %v", err)
		return nil, apperr.Wrap(apperr.KindImageGenerationFailed, "imagegen.Generate", err)
	}
	log.Infof("[ImageGenClient] 配图生成成功, size: %d", len(data))
	return data, nil
}

func (c *openAICompatibleClient) generate(ctx context.Context, title string) ([]byte, error) {
	reqBytes, err := json.Marshal(generationRequest{
		Model:          c.cfg.Model,
		Prompt:         Prompt(title),
		N:              1,
		Size:           c.cfg.Size,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/images/generations", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call image api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("image api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var genResp generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	if len(genResp.Data) == 0 || genResp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("received empty image from api")
	}
	data, err := base64.StdEncoding.DecodeString(genResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, nil
}
