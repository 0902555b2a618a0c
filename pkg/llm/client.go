// Package llm provides a client that asks an OpenAI-compatible chat model for structured recipe suggestions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"recetario-go/internal/config"
	"recetario-go/internal/model"
	"recetario-go/pkg/apperr"
	"recetario-go/pkg/log"
)

// Client defines the interface for a recipe suggestion client.
type Client interface {
	// Suggest 根据用户的自由文本生成一份食谱建议。任何失败都以 KindSuggestionFailed 返回。
	Suggest(ctx context.Context, prompt string) (*model.RecipeSuggestion, error)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new suggestion client. Timeouts are delegated to the http client.
func NewClient(cfg config.LLMConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// schemaInstruction 追加在人设之后，约束输出为固定的 JSON 结构。
const schemaInstruction = `Responde únicamente con un objeto JSON con esta forma:
{"title": "nombre creativo de la receta", "ingredients": ["ingrediente con cantidad", "..."], "steps": ["paso", "..."]}`

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// rawSuggestion 用指针区分字段缺失与空值。
type rawSuggestion struct {
	Title       string    `json:"title"`
	Ingredients *[]string `json:"ingredients"`
	Steps       *[]string `json:"steps"`
}

func (c *openAICompatibleClient) Suggest(ctx context.Context, prompt string) (*model.RecipeSuggestion, error) {
	log.Infof("[LLMClient] 请求食谱建议, model: %s, prompt_len: %d", c.cfg.Model, len(prompt))
	content, err := c.complete(ctx, []Message{
		{Role: "system", Content: c.cfg.Prompt.Persona + "\n\n" + schemaInstruction},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		log.Errorf("[LLMClient] 调用聊天接口失败: %v", err)
		return nil, c.failed(err)
	}

	suggestion, err := ParseSuggestion(content)
	if err != nil {
		log.Errorf("[LLMClient] 建议格式无效: %v, content: %s", err, content)
		return nil, c.failed(err)
	}
	log.Infof("[LLMClient] 获得建议: %s (%d 种食材, %d 个步骤)", suggestion.Title, len(suggestion.Ingredients), len(suggestion.Steps))
	return suggestion, nil
}

func (c *openAICompatibleClient) failed(err error) error {
	return apperr.Wrapf(apperr.KindSuggestionFailed, "llm.Suggest", err, c.cfg.Prompt.FailureText)
}

func (c *openAICompatibleClient) complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	// 从配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// ParseSuggestion 从模型输出中提取 JSON 对象并校验：标题非空，ingredients 与 steps 必须是字符串数组。
// 模型偶尔会在 JSON 前后附带说明文字或代码块标记，这里取最外层花括号之间的内容。
func ParseSuggestion(content string) (*model.RecipeSuggestion, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no json object in response")
	}

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse suggestion: %w", err)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, fmt.Errorf("suggestion has no title")
	}
	if raw.Ingredients == nil || raw.Steps == nil {
		return nil, fmt.Errorf("suggestion is missing ingredients or steps")
	}
	return &model.RecipeSuggestion{
		Title:       title,
		Ingredients: cleanItems(*raw.Ingredients),
		Steps:       cleanItems(*raw.Steps),
	}, nil
}

// cleanItems 去掉空白项；单项内的换行会破坏按行存储的格式，替换为空格。
func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Join(strings.Fields(item), " ")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
