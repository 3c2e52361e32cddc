package speech

import (
	"errors"

	"voice-gateway/audio"
	"voice-gateway/model"
)

// Config 分段参数
type Config struct {
	SampleRate          int
	PreBufferFrames     int
	MaxBufferSeconds    int
	MinUtteranceSeconds float64
	SpeechThreshold     int
	SilenceThreshold    int
	VoicedRatio         float64
}

// DefaultConfig 返回16kHz下的默认分段参数
func DefaultConfig() Config {
	return Config{
		SampleRate:          16000,
		PreBufferFrames:     audio.DefaultPreBufferFrames,
		MaxBufferSeconds:    audio.DefaultMaxBufferSeconds,
		MinUtteranceSeconds: 1,
		SpeechThreshold:     DefaultSpeechThreshold,
		SilenceThreshold:    DefaultSilenceThreshold,
		VoicedRatio:         DefaultVoicedRatio,
	}
}

// Result 一次 Process 的结果
type Result struct {
	Classified bool
	Voiced     bool
	Transition Transition
	Appended   bool
	BufferFull bool
	FlushReady bool
}

// Segmenter 会话级的语音分段器
// 组合VAD滞回状态机、音频缓冲区和按响应模式区分的缓冲策略。
// 非并发安全，只能由会话的消息处理路径调用。
type Segmenter struct {
	cfg        Config
	buffer     *audio.Buffer
	detector   *Detector
	classifier *ChunkClassifier
	flushReady bool
}

// NewSegmenter 创建分段器
func NewSegmenter(cfg Config, vad FrameClassifier) *Segmenter {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MaxBufferSeconds <= 0 {
		cfg.MaxBufferSeconds = def.MaxBufferSeconds
	}
	if cfg.MinUtteranceSeconds <= 0 {
		cfg.MinUtteranceSeconds = def.MinUtteranceSeconds
	}
	if cfg.PreBufferFrames < 0 {
		cfg.PreBufferFrames = def.PreBufferFrames
	}

	return &Segmenter{
		cfg:        cfg,
		buffer:     audio.NewBuffer(cfg.SampleRate*cfg.MaxBufferSeconds, cfg.PreBufferFrames),
		detector:   NewDetector(cfg.SpeechThreshold, cfg.SilenceThreshold),
		classifier: NewChunkClassifier(vad, cfg.SampleRate, cfg.VoicedRatio),
	}
}

// Process 处理一个已解码的PCM chunk
// 先更新VAD状态机，再按响应模式决定追加到主缓冲区、写入预缓冲区或置为待识别。
// 分类失败时返回错误，不修改任何状态。
func (s *Segmenter) Process(pcm []float32, mode model.ResponseMode, state model.ClientState) (Result, error) {
	voiced, classified, err := s.classifier.Classify(pcm)
	if err != nil {
		return Result{}, err
	}

	res := Result{Classified: classified, Voiced: voiced}

	if classified {
		res.Transition = s.detector.Observe(voiced)
		if !voiced {
			s.buffer.AddSilence(len(pcm))
		}

		switch res.Transition {
		case TransitionSpeechStart:
			// 补回检测延迟期间的音频
			if err := s.buffer.CommitPreBuffer(); errors.Is(err, audio.ErrBufferFull) {
				res.BufferFull = true
				s.flushReady = true
			}
		case TransitionSpeechEnd:
			// 手动模式只由客户端的listening→idle触发识别
			if mode != model.ModeManual {
				s.flushReady = true
			}
		}
	}

	switch mode {
	case model.ModeAuto:
		if s.detector.Speaking() {
			s.appendChunk(pcm, &res)
		} else {
			s.buffer.PushPreBuffer(pcm)
		}
	case model.ModeManual:
		if state == model.StateListening {
			s.appendChunk(pcm, &res)
		}
	case model.ModeRealTime:
		s.appendChunk(pcm, &res)
		s.flushReady = true
	}

	res.FlushReady = s.flushReady
	return res, nil
}

func (s *Segmenter) appendChunk(pcm []float32, res *Result) {
	if err := s.buffer.Append(pcm); err != nil {
		res.BufferFull = true
		s.flushReady = true
		return
	}
	res.Appended = true
}

// RequestFlush 外部触发识别（手动模式下客户端从listening切回idle）
func (s *Segmenter) RequestFlush() {
	s.flushReady = true
}

// TakeUtterance 取出待识别的语句
// 未置为待识别时返回false；不足最短时长时清除标记并返回false，
// 自动和手动模式下同时丢弃这段音频，实时模式下保留继续累积。
// 成功时返回采样拷贝，并清空缓冲区和标记。
func (s *Segmenter) TakeUtterance(mode model.ResponseMode) ([]float32, bool) {
	if !s.flushReady {
		return nil, false
	}
	s.flushReady = false

	if s.buffer.Len() < s.MinSamples() {
		if mode != model.ModeRealTime {
			s.buffer.Clear()
		}
		return nil, false
	}

	samples := s.buffer.Samples()
	s.buffer.Clear()
	return samples, true
}

// Reset 清空缓冲区、计数器和待识别标记
func (s *Segmenter) Reset() {
	s.buffer.Clear()
	s.detector.Reset()
	s.flushReady = false
}

// MinSamples 触发识别所需的最少采样数
func (s *Segmenter) MinSamples() int {
	return int(s.cfg.MinUtteranceSeconds * float64(s.cfg.SampleRate))
}

func (s *Segmenter) FlushReady() bool { return s.flushReady }

func (s *Segmenter) Speaking() bool { return s.detector.Speaking() }

func (s *Segmenter) Counters() (speech, silence int) { return s.detector.Counters() }

func (s *Segmenter) Buffered() int { return s.buffer.Len() }

func (s *Segmenter) PreBuffered() int { return s.buffer.PreBufferLen() }

// Capacity 主缓冲区上限（采样数）
func (s *Segmenter) Capacity() int { return s.buffer.MaxSamples() }

// FrameSize VAD子帧采样数
func (s *Segmenter) FrameSize() int { return s.classifier.FrameSize() }

// Samples 当前主缓冲区内容的拷贝
func (s *Segmenter) Samples() []float32 { return s.buffer.Samples() }

func (s *Segmenter) SampleRate() int { return s.cfg.SampleRate }
