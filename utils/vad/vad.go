package vad

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voice-gateway/audio"
)

// ClassificationError 子帧分类失败
type ClassificationError struct {
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("VAD分类失败: %s: %v", e.Reason, e.Err)
	}
	return "VAD分类失败: " + e.Reason
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// VADConfig 表示VAD配置参数
type VADConfig struct {
	EnergyThreshold float64       // 能量阈值，超过此值认为有语音
	SampleRate      int           // 采样率
	VADServerURL    string        // 远程VAD服务URL，provider为http时使用
	Timeout         time.Duration // 远程调用超时时间
}

// DefaultVADConfig 返回默认VAD配置
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.015,
		SampleRate:      16000,
		VADServerURL:    "http://localhost:8001/vad",
		Timeout:         2 * time.Second,
	}
}

// EnergyVAD 基于均方根能量的子帧分类器
type EnergyVAD struct {
	threshold float64
	frameSize int
}

// NewEnergyVAD 创建能量VAD
func NewEnergyVAD(cfg VADConfig) *EnergyVAD {
	return &EnergyVAD{
		threshold: cfg.EnergyThreshold,
		frameSize: audio.SubFrameSize(cfg.SampleRate),
	}
}

// IsSpeech 判断子帧是否有声
func (v *EnergyVAD) IsSpeech(frame []float32) (bool, error) {
	if len(frame) != v.frameSize {
		return false, &ClassificationError{Reason: fmt.Sprintf("子帧长度应为 %d，实际为 %d", v.frameSize, len(frame))}
	}
	return audio.RMS(frame) >= v.threshold, nil
}

// VADRequest 表示发送到VAD服务的请求
type VADRequest struct {
	AudioData string                 `json:"audio_data"` // base64编码的16位小端PCM
	Config    map[string]interface{} `json:"config"`
}

// VADResponse 表示从VAD服务接收的响应
type VADResponse struct {
	Status string `json:"status"`
	Result bool   `json:"result"`
}

// RemoteVAD 通过HTTP调用外部VAD服务（如Silero）
type RemoteVAD struct {
	config    VADConfig
	frameSize int
	client    *http.Client
}

// NewRemoteVAD 创建远程VAD分类器
func NewRemoteVAD(cfg VADConfig) *RemoteVAD {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVADConfig().Timeout
	}
	return &RemoteVAD{
		config:    cfg,
		frameSize: audio.SubFrameSize(cfg.SampleRate),
		client:    &http.Client{},
	}
}

// IsSpeech 调用VAD服务判断子帧是否有声
func (v *RemoteVAD) IsSpeech(frame []float32) (bool, error) {
	if len(frame) != v.frameSize {
		return false, &ClassificationError{Reason: fmt.Sprintf("子帧长度应为 %d，实际为 %d", v.frameSize, len(frame))}
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.config.Timeout)
	defer cancel()

	result, err := v.callVADService(ctx, frame)
	if err != nil {
		return false, &ClassificationError{Reason: "调用VAD服务失败", Err: err}
	}
	return result, nil
}

// callVADService 调用VAD服务
func (v *RemoteVAD) callVADService(ctx context.Context, frame []float32) (bool, error) {
	pcm := audio.Float32ToInt16(frame)
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}

	reqBody, err := json.Marshal(VADRequest{
		AudioData: base64.StdEncoding.EncodeToString(raw),
		Config: map[string]interface{}{
			"sample_rate": v.config.SampleRate,
			"frame_size":  v.frameSize,
		},
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.VADServerURL, bytes.NewReader(reqBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("VAD服务返回错误状态码: %d", resp.StatusCode)
	}

	var vadResp VADResponse
	if err := json.Unmarshal(respBody, &vadResp); err != nil {
		return false, err
	}
	return vadResp.Result, nil
}
