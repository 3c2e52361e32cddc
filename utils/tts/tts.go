package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"voice-gateway/audio"
	"voice-gateway/log"
	"voice-gateway/utils/codec"

	openai "github.com/sashabaranov/go-openai"
)

// SynthesisError 语音合成失败
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("语音合成失败(%s): %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// TTSConfig TTS客户端配置
type TTSConfig struct {
	BaseURL       string        // OpenAI兼容接口地址
	APIKey        string        // 接口密钥
	Model         string        // 合成模型
	Voice         string        // 音色
	Speed         float64       // 语速，0表示服务端默认
	SampleRate    int           // 下发音频的采样率
	Bitrate       int           // opus码率
	FrameDuration int           // opus帧时长（毫秒）
	TTSServerURL  string        // 旧版Python TTS服务URL
	Timeout       time.Duration // 请求超时时间
}

// DefaultTTSConfig 返回默认配置
func DefaultTTSConfig() TTSConfig {
	return TTSConfig{
		BaseURL:       "https://api.siliconflow.cn/v1",
		Model:         "FunAudioLLM/CosyVoice2-0.5B",
		Voice:         "FunAudioLLM/CosyVoice2-0.5B:diana",
		SampleRate:    16000,
		Bitrate:       32000,
		FrameDuration: 60,
		TTSServerURL:  "http://localhost:8001/tts",
		Timeout:       20 * time.Second,
	}
}

func (c TTSConfig) encoderConfig() codec.EncoderConfig {
	return codec.EncoderConfig{
		SampleRate:    c.SampleRate,
		Channels:      1,
		Bitrate:       c.Bitrate,
		FrameDuration: c.FrameDuration,
	}
}

// OpenAISynthesizer 通过 /audio/speech 获取WAV，再重采样并编码为opus帧
type OpenAISynthesizer struct {
	config TTSConfig
	client *openai.Client
}

// NewOpenAISynthesizer 创建合成客户端
func NewOpenAISynthesizer(cfg TTSConfig) *OpenAISynthesizer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAISynthesizer{
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Synthesize 合成一句文本
// 参数:
//   - ctx: 上下文，取消时中止请求
//   - text: 要合成的句子
//
// 返回:
//   - [][]byte: opus帧列表，按播放顺序
//   - error: SynthesisError
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	frames, err := s.synthesize(ctx, text)
	if err != nil {
		return nil, &SynthesisError{Provider: "openai", Err: err}
	}
	return frames, nil
}

func (s *OpenAISynthesizer) synthesize(ctx context.Context, text string) ([][]byte, error) {
	ctx, cancel := withTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.config.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          s.config.Speed,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("读取合成音频失败: %w", err)
	}

	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	pcm = audio.Resample(pcm, rate, s.config.SampleRate)

	// 编码器有状态，合成器被多个会话共享，每次调用单独创建
	enc, err := codec.NewEncoder(s.config.encoderConfig())
	if err != nil {
		return nil, err
	}
	frames, err := enc.Encode(pcm)
	if err != nil {
		return nil, err
	}

	log.Debugf("TTS合成完成: %d 帧, 文本: %s", len(frames), text)
	return frames, nil
}

// TTSRequest 表示发送到旧版TTS服务的请求
type TTSRequest struct {
	Text   string                 `json:"text"`   // 要转换为语音的文本
	Config map[string]interface{} `json:"config"` // 配置参数
}

// TTSResponse 表示从旧版TTS服务接收的响应
type TTSResponse struct {
	Status        string   `json:"status"`         // 状态，如 "success" 或 "error"
	AudioData     []string `json:"audio_data"`     // base64编码的opus帧列表
	Duration      float64  `json:"duration"`       // 音频持续时间（秒）
	Format        string   `json:"format"`         // 音频格式，如 "opus"
	FrameDuration int      `json:"frame_duration"` // 每帧持续时间（毫秒）
}

// HTTPSynthesizer 调用旧版Python TTS服务，服务端直接返回opus帧
type HTTPSynthesizer struct {
	config TTSConfig
	client *http.Client
}

// NewHTTPSynthesizer 创建旧版TTS客户端
func NewHTTPSynthesizer(cfg TTSConfig) *HTTPSynthesizer {
	return &HTTPSynthesizer{config: cfg, client: &http.Client{}}
}

// Synthesize 调用TTS服务合成
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	frames, err := s.callTTSService(ctx, text)
	if err != nil {
		return nil, &SynthesisError{Provider: "http", Err: err}
	}
	return frames, nil
}

func (s *HTTPSynthesizer) callTTSService(ctx context.Context, text string) ([][]byte, error) {
	jsonData, err := json.Marshal(TTSRequest{
		Text: text,
		Config: map[string]interface{}{
			"voice":          s.config.Voice,
			"sample_rate":    s.config.SampleRate,
			"frame_duration": s.config.FrameDuration,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("序列化TTS请求失败: %w", err)
	}

	ctx, cancel := withTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TTSServerURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建TTS HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送TTS请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取TTS响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS服务返回错误状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	var ttsResponse TTSResponse
	if err := json.Unmarshal(body, &ttsResponse); err != nil {
		return nil, fmt.Errorf("解析TTS响应失败: %w", err)
	}
	if ttsResponse.Status != "success" {
		return nil, fmt.Errorf("TTS服务返回错误状态: %s", ttsResponse.Status)
	}
	if ttsResponse.Format != "" && ttsResponse.Format != "opus" {
		return nil, errors.New("TTS服务返回了非opus音频: " + ttsResponse.Format)
	}

	audioFrames := make([][]byte, len(ttsResponse.AudioData))
	for i, frameBase64 := range ttsResponse.AudioData {
		frameData, err := base64.StdEncoding.DecodeString(frameBase64)
		if err != nil {
			return nil, fmt.Errorf("解码base64音频数据失败: %w", err)
		}
		audioFrames[i] = frameData
	}

	return audioFrames, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
