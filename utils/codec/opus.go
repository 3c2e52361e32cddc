package codec

import (
	"fmt"

	"voice-gateway/audio"

	"gopkg.in/hraban/opus.v2"
)

// maxFrameMillis opus单帧最长120ms
const maxFrameMillis = 120

// DecodeError 编解码失败
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("opus %s失败: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// OpusDecoder 会话独占的opus解码器
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []float32
}

// NewDecoder 按协商的音频参数创建解码器
func NewDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if channels <= 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("创建Opus解码器失败: %w", err)
	}
	return &OpusDecoder{
		decoder:  dec,
		channels: channels,
		pcm:      make([]float32, sampleRate*maxFrameMillis/1000*channels),
	}, nil
}

// Decode 解码一个opus包为单声道浮点PCM
func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Op: "解码", Err: fmt.Errorf("空数据包")}
	}
	n, err := d.decoder.DecodeFloat32(data, d.pcm)
	if err != nil {
		return nil, &DecodeError{Op: "解码", Err: err}
	}
	samples := append([]float32(nil), d.pcm[:n*d.channels]...)
	return audio.DownmixToMono(samples, d.channels), nil
}

// EncoderConfig opus编码参数
type EncoderConfig struct {
	SampleRate    int
	Channels      int
	Bitrate       int
	FrameDuration int // 毫秒
}

// DefaultEncoderConfig 16kHz单声道、32kbps、60ms帧
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{SampleRate: 16000, Channels: 1, Bitrate: 32000, FrameDuration: 60}
}

// OpusEncoder 把PCM切帧并编码为opus包
type OpusEncoder struct {
	encoder   *opus.Encoder
	frameSize int
	out       []byte
}

// NewEncoder 创建VOIP模式的opus编码器
func NewEncoder(cfg EncoderConfig) (*OpusEncoder, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("创建Opus编码器失败: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("设置Opus码率失败: %w", err)
		}
	}
	return &OpusEncoder{
		encoder:   enc,
		frameSize: cfg.SampleRate * cfg.FrameDuration / 1000 * cfg.Channels,
		out:       make([]byte, 4000),
	}, nil
}

// Encode 将PCM编码为opus帧序列，最后不足一帧的部分补零
func (e *OpusEncoder) Encode(pcm []int16) ([][]byte, error) {
	var frames [][]byte
	for offset := 0; offset < len(pcm); offset += e.frameSize {
		frame := make([]int16, e.frameSize)
		copy(frame, pcm[offset:min(offset+e.frameSize, len(pcm))])

		n, err := e.encoder.Encode(frame, e.out)
		if err != nil {
			return nil, &DecodeError{Op: "编码", Err: err}
		}
		frames = append(frames, append([]byte(nil), e.out[:n]...))
	}
	return frames, nil
}

// FrameSize 每帧采样数

