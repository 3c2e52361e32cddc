package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-gateway/log"
	"voice-gateway/model"

	openai "github.com/sashabaranov/go-openai"
)

// ResponseError 对话服务失败
type ResponseError struct {
	Provider string
	Err      error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("对话服务失败(%s): %v", e.Provider, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// LLMConfig LLM客户端配置
type LLMConfig struct {
	URL         string        // OpenAI兼容接口地址，或旧版服务地址
	APIKey      string        // 接口密钥
	Model       string        // 模型名称
	Temperature float32       // 采样温度
	MaxTokens   int           // 最大生成长度
	Timeout     time.Duration // 请求超时时间
}

// DefaultLLMConfig 返回默认配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		URL:         "https://api.siliconflow.cn/v1",
		Model:       "Qwen/Qwen2.5-7B-Instruct",
		Temperature: 0.7,
		MaxTokens:   100,
		Timeout:     30 * time.Second,
	}
}

// OpenAIResponder 通过OpenAI兼容的 /chat/completions 接口生成回复
type OpenAIResponder struct {
	config LLMConfig
	client *openai.Client
}

// NewOpenAIResponder 创建对话客户端
func NewOpenAIResponder(cfg LLMConfig) *OpenAIResponder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientConfig.BaseURL = cfg.URL
	}
	return &OpenAIResponder{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Respond 根据对话历史生成回复
func (r *OpenAIResponder) Respond(ctx context.Context, history []model.Dialogue) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, d := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: d.Role, Content: d.Content})
	}

	ctx, cancel := withTimeout(ctx, r.config.Timeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.config.Model,
		Messages:    messages,
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxTokens,
	})
	if err != nil {
		return "", &ResponseError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ResponseError{Provider: "openai", Err: errors.New("响应中没有choices")}
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Debugf("LLM回复: %s", reply)
	return reply, nil
}

// LLMResponse 表示从旧版 LLM 服务接收到的流式响应行
type LLMResponse struct {
	Status  string `json:"status"`
	Chunk   string `json:"chunk,omitempty"`
	Message string `json:"message,omitempty"`
}

// LLMRequest 表示发送给旧版 LLM 服务的请求
type LLMRequest struct {
	Dialogue []model.Dialogue       `json:"dialogue"`
	Config   map[string]interface{} `json:"config"`
}

// HTTPResponder 调用旧版流式LLM服务（每行一个JSON）
type HTTPResponder struct {
	config LLMConfig
	client *http.Client
}

// NewHTTPResponder 创建旧版LLM客户端
func NewHTTPResponder(cfg LLMConfig) *HTTPResponder {
	return &HTTPResponder{config: cfg, client: &http.Client{}}
}

// Respond 发送对话并拼接流式响应
// 收到 complete 时以其完整消息为准；流结束但未收到 complete 时返回已拼接的内容。
func (r *HTTPResponder) Respond(ctx context.Context, history []model.Dialogue) (string, error) {
	reply, err := r.processLLM(ctx, history)
	if err != nil {
		return "", &ResponseError{Provider: "http", Err: err}
	}
	return reply, nil
}

func (r *HTTPResponder) processLLM(ctx context.Context, history []model.Dialogue) (string, error) {
	jsonData, err := json.Marshal(LLMRequest{
		Dialogue: history,
		Config:   map[string]interface{}{"model": r.config.Model},
	})
	if err != nil {
		return "", fmt.Errorf("JSON 编码错误: %w", err)
	}

	ctx, cancel := withTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.config.URL, "/")+"/llm", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建 HTTP 请求错误: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送 HTTP 请求错误: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM 服务返回错误状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	reader := bufio.NewReader(resp.Body)
	var fullResponse strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("读取响应错误: %w", err)
		}

		if trimmed := strings.TrimSpace(line); trimmed != "" {
			var llmResponse LLMResponse
			if jsonErr := json.Unmarshal([]byte(trimmed), &llmResponse); jsonErr != nil {
				log.Warnf("解析 JSON 响应错误: %v, 响应: %s", jsonErr, trimmed)
			} else {
				switch llmResponse.Status {
				case "streaming":
					fullResponse.WriteString(llmResponse.Chunk)
				case "warning":
					log.Warnf("LLM 服务警告: %s", llmResponse.Message)
				case "complete":
					if llmResponse.Message != "" {
						return llmResponse.Message, nil
					}
					return fullResponse.String(), nil
				case "error":
					return "", fmt.Errorf("LLM 服务错误: %s", llmResponse.Message)
				default:
					log.Warnf("未知的 LLM 响应状态: %s", llmResponse.Status)
				}
			}
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	return fullResponse.String(), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
