package utils

import (
	"fmt"
	"net"

	"voice-gateway/config"
	"voice-gateway/log"
	"voice-gateway/session"
	"voice-gateway/speech"
	"voice-gateway/utils/asr"
	"voice-gateway/utils/codec"
	"voice-gateway/utils/llm"
	"voice-gateway/utils/tts"
	"voice-gateway/utils/vad"
	ws "voice-gateway/websocket"
)

// Services 按配置创建的语音处理组件，所有会话共享
type Services struct {
	NewVAD      session.VADFactory
	NewDecoder  session.DecoderFactory
	Transcriber ws.Transcriber
	Responder   ws.Responder
	Synthesizer ws.Synthesizer
}

// Init 按配置中的 provider 创建VAD、识别、对话和合成组件
// 参数:
//   - cfg: 服务器配置
//
// 返回:
//   - *Services: 创建好的组件
//   - error: provider 未知时返回错误
func Init(cfg *config.Config) (*Services, error) {
	newVAD, err := vadFactory(cfg)
	if err != nil {
		return nil, err
	}

	s := &Services{
		NewVAD: newVAD,
		NewDecoder: func(sampleRate, channels int) (session.Decoder, error) {
			d, err := codec.NewDecoder(sampleRate, channels)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}

	asrCfg := asr.ASRConfig{
		BaseURL:      cfg.ASR.BaseURL,
		APIKey:       cfg.ASR.APIKey,
		Model:        cfg.ASR.Model,
		Language:     cfg.ASR.Language,
		ASRServerURL: cfg.ASR.URL,
		Timeout:      cfg.ASR.GetTimeout(),
	}
	switch cfg.ASR.Provider {
	case "openai":
		s.Transcriber = asr.NewOpenAITranscriber(asrCfg)
	case "http":
		s.Transcriber = asr.NewHTTPTranscriber(asrCfg)
	default:
		return nil, fmt.Errorf("未知的ASR provider: %q", cfg.ASR.Provider)
	}

	llmCfg := llm.LLMConfig{
		URL:         cfg.LLM.URL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
	}
	switch cfg.LLM.Provider {
	case "openai":
		s.Responder = llm.NewOpenAIResponder(llmCfg)
	case "http":
		s.Responder = llm.NewHTTPResponder(llmCfg)
	default:
		return nil, fmt.Errorf("未知的LLM provider: %q", cfg.LLM.Provider)
	}

	// 下行音频与设备协商的采样率一致
	ttsCfg := tts.TTSConfig{
		BaseURL:       cfg.TTS.BaseURL,
		APIKey:        cfg.TTS.APIKey,
		Model:         cfg.TTS.Model,
		Voice:         cfg.TTS.Voice,
		Speed:         cfg.TTS.Speed,
		SampleRate:    cfg.WebSocket.SampleRate,
		Bitrate:       cfg.Audio.OpusBitrate,
		FrameDuration: cfg.Audio.FrameDuration,
		TTSServerURL:  cfg.TTS.URL,
		Timeout:       cfg.TTS.GetTimeout(),
	}
	switch cfg.TTS.Provider {
	case "openai":
		s.Synthesizer = tts.NewOpenAISynthesizer(ttsCfg)
	case "http":
		s.Synthesizer = tts.NewHTTPSynthesizer(ttsCfg)
	default:
		return nil, fmt.Errorf("未知的TTS provider: %q", cfg.TTS.Provider)
	}

	log.Infof("语音组件已初始化: vad=%s asr=%s llm=%s tts=%s",
		cfg.VAD.Provider, cfg.ASR.Provider, cfg.LLM.Provider, cfg.TTS.Provider)
	return s, nil
}

func vadFactory(cfg *config.Config) (session.VADFactory, error) {
	base := vad.VADConfig{
		EnergyThreshold: cfg.VAD.EnergyThreshold,
		VADServerURL:    cfg.VAD.URL,
		Timeout:         cfg.VAD.GetTimeout(),
	}
	switch cfg.VAD.Provider {
	case "energy":
		return func(sampleRate int) speech.FrameClassifier {
			c := base
			c.SampleRate = sampleRate
			return vad.NewEnergyVAD(c)
		}, nil
	case "http":
		return func(sampleRate int) speech.FrameClassifier {
			c := base
			c.SampleRate = sampleRate
			return vad.NewRemoteVAD(c)
		}, nil
	default:
		return nil, fmt.Errorf("未知的VAD provider: %q", cfg.VAD.Provider)
	}
}

// GetLocalIP 获取本机的非回环IPv4地址，用于日志显示
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
