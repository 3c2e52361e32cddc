package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voice-gateway/audio"
	"voice-gateway/log"

	openai "github.com/sashabaranov/go-openai"
)

// TranscriptionError 语音识别失败
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("语音识别失败(%s): %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ASRConfig 表示ASR配置参数
type ASRConfig struct {
	BaseURL      string        // OpenAI兼容接口地址，如 https://api.siliconflow.cn/v1
	APIKey       string        // 接口密钥
	Model        string        // 识别模型
	Language     string        // 语言，例如 "zh"
	ASRServerURL string        // 旧版Python ASR服务URL
	Timeout      time.Duration // 请求超时时间
}

// DefaultASRConfig 返回默认ASR配置
func DefaultASRConfig() ASRConfig {
	return ASRConfig{
		BaseURL:      "https://api.siliconflow.cn/v1",
		Model:        "FunAudioLLM/SenseVoiceSmall",
		ASRServerURL: "http://localhost:8001/asr",
		Timeout:      15 * time.Second,
	}
}

// OpenAITranscriber 通过OpenAI兼容的 /audio/transcriptions 接口识别
type OpenAITranscriber struct {
	config ASRConfig
	client *openai.Client
}

// NewOpenAITranscriber 创建识别客户端
func NewOpenAITranscriber(cfg ASRConfig) *OpenAITranscriber {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAITranscriber{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Transcribe 将PCM编码为WAV后上传识别
// 参数:
//   - ctx: 上下文，取消时中止请求
//   - samples: 单声道浮点PCM
//   - sampleRate: 采样率
//
// 返回:
//   - string: 识别文本，可能为空
//   - error: TranscriptionError
func (t *OpenAITranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav, err := audio.EncodeFloatWAV(samples, sampleRate)
	if err != nil {
		return "", &TranscriptionError{Provider: "openai", Err: err}
	}

	ctx, cancel := withTimeout(ctx, t.config.Timeout)
	defer cancel()

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.config.Model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: t.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", &TranscriptionError{Provider: "openai", Err: err}
	}

	log.Debugf("ASR识别结果: %s", resp.Text)
	return resp.Text, nil
}

// ASRRequest 表示发送到旧版ASR服务的请求
type ASRRequest struct {
	AudioData []string               `json:"audio_data"` // base64编码的WAV数据
	Config    map[string]interface{} `json:"config"`
}

// ASRResponse 表示从旧版ASR服务接收的响应
type ASRResponse struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

// HTTPTranscriber 调用旧版Python ASR服务
type HTTPTranscriber struct {
	config ASRConfig
	client *http.Client
}

// NewHTTPTranscriber 创建旧版ASR客户端
func NewHTTPTranscriber(cfg ASRConfig) *HTTPTranscriber {
	return &HTTPTranscriber{config: cfg, client: &http.Client{}}
}

// Transcribe 调用ASR服务识别
func (t *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	text, err := t.callASRService(ctx, samples, sampleRate)
	if err != nil {
		return "", &TranscriptionError{Provider: "http", Err: err}
	}
	return text, nil
}

func (t *HTTPTranscriber) callASRService(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	wav, err := audio.EncodeFloatWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}

	jsonData, err := json.Marshal(ASRRequest{
		AudioData: []string{base64.StdEncoding.EncodeToString(wav)},
		Config: map[string]interface{}{
			"sample_rate":   sampleRate,
			"channel_count": 1,
			"language":      t.config.Language,
		},
	})
	if err != nil {
		return "", fmt.Errorf("序列化ASR请求失败: %w", err)
	}

	ctx, cancel := withTimeout(ctx, t.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.ASRServerURL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("创建ASR HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送ASR请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取ASR响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ASR服务返回错误状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var asrResponse ASRResponse
	if err := json.Unmarshal(body, &asrResponse); err != nil {
		return "", fmt.Errorf("解析ASR响应失败: %w", err)
	}
	if asrResponse.Status != "success" {
		return "", fmt.Errorf("ASR服务返回错误状态: %s", asrResponse.Status)
	}
	return asrResponse.Text, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
