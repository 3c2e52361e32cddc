package config

import (
	"fmt"
	"os"
	"time"

	"voice-gateway/log"

	"gopkg.in/yaml.v3"
)

// Config 表示服务器的完整配置
type Config struct {
	WebSocket  WebSocketConfig `yaml:"websocket"`  // WebSocket服务器配置
	HTTP       HTTPConfig      `yaml:"http"`       // 管理HTTP服务器配置
	PythonAPI  PythonAPIConfig `yaml:"python_api"` // 旧版Python服务配置
	Log        log.LogConfig   `yaml:"log"`        // 日志配置
	Audio      AudioConfig     `yaml:"audio"`      // 音频与分段配置
	VAD        VADConfig       `yaml:"vad"`        // VAD配置
	ASR        ASRConfig       `yaml:"asr"`        // 语音识别配置
	LLM        LLMConfig       `yaml:"llm"`        // 对话服务配置
	TTS        TTSConfig       `yaml:"tts"`        // 语音合成配置
	Store      StoreConfig     `yaml:"store"`      // 对话记录存储
	ConfigPath string          `yaml:"-"`          // 配置文件路径，不存储在YAML中
}

// AuthToken 一个静态认证令牌
type AuthToken struct {
	Token string `yaml:"token"` // 认证令牌
	Name  string `yaml:"name"`  // 设备名称
}

// AuthConfig 握手认证配置
type AuthConfig struct {
	Enabled        bool        `yaml:"enabled"`                   // 是否启用认证
	Tokens         []AuthToken `yaml:"tokens"`                    // 有效的认证令牌列表
	JWTSecret      string      `yaml:"jwt_secret"`                // HS256签名密钥，为空时不接受JWT
	AllowedDevices []string    `yaml:"allowed_devices,omitempty"` // 允许连接的设备列表（可选）
}

// WebSocketConfig 表示WebSocket服务器的配置
type WebSocketConfig struct {
	Host          string     `yaml:"host"`           // 服务器主机地址，如"0.0.0.0"表示所有网络接口
	Port          int        `yaml:"port"`           // 服务器端口
	Path          string     `yaml:"path"`           // 设备接入路径
	AssistantPath string     `yaml:"assistant_path"` // 文本助手接入路径
	Auth          AuthConfig `yaml:"auth"`           // 认证配置

	SampleRate             int     `yaml:"sample_rate"`              // 默认采样率
	CloseConnectionTimeout float64 `yaml:"close_connection_timeout"` // 空闲关闭时长（秒），0表示不回收
	BinaryProtocol         bool    `yaml:"binary_protocol"`          // 下行音频是否带二进制协议头
	MaxChunkSize           int     `yaml:"max_chunk_size"`           // 单个分片的最大字节数
	WriteTimeout           float64 `yaml:"write_timeout"`            // 写超时（秒）
	PingInterval           float64 `yaml:"ping_interval"`            // 心跳间隔（秒）
	QueueSize              int     `yaml:"queue_size"`               // 发送队列长度
}

// HTTPConfig 表示管理HTTP服务器的配置
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否启动管理接口
	IP      string `yaml:"ip"`      // 服务器IP地址
	Port    int    `yaml:"port"`    // 服务器端口
}

// PythonAPIConfig 表示Python API的配置
type PythonAPIConfig struct {
	Host    string `yaml:"host"`    // API主机地址
	Port    int    `yaml:"port"`    // API端口
	Timeout int    `yaml:"timeout"` // 等待就绪的最长时间（秒）
}

// AudioConfig 分段与编码参数
type AudioConfig struct {
	PreBufferFrames     int     `yaml:"pre_buffer_frames"`     // 预缓冲帧数
	MaxBufferSeconds    int     `yaml:"max_buffer_seconds"`    // 主缓冲上限（秒）
	MinUtteranceSeconds float64 `yaml:"min_utterance_seconds"` // 送识别的最短时长（秒）
	SpeechThreshold     int     `yaml:"speech_threshold"`      // 进入说话的连续有声块数
	SilenceThreshold    int     `yaml:"silence_threshold"`     // 退出说话的连续静音块数
	VoicedRatio         float64 `yaml:"voiced_ratio"`          // 有声子帧占比阈值
	Channels            int     `yaml:"channels"`              // 声道数
	FrameDuration       int     `yaml:"frame_duration"`        // opus帧时长（毫秒）
	OpusBitrate         int     `yaml:"opus_bitrate"`          // 下行opus码率
}

// VADConfig VAD配置
type VADConfig struct {
	Provider        string  `yaml:"provider"`         // energy 或 http
	EnergyThreshold float64 `yaml:"energy_threshold"` // 能量阈值
	URL             string  `yaml:"url"`              // 远程VAD服务地址
	Timeout         float64 `yaml:"timeout"`          // 超时（秒）
}

// ASRConfig 语音识别配置
type ASRConfig struct {
	Provider string  `yaml:"provider"` // openai 或 http
	BaseURL  string  `yaml:"base_url"` // OpenAI兼容接口地址
	APIKey   string  `yaml:"api_key"`  // 接口密钥，支持 ${ENV}
	Model    string  `yaml:"model"`    // 识别模型
	Language string  `yaml:"language"` // 语言
	URL      string  `yaml:"url"`      // 旧版服务地址
	Timeout  float64 `yaml:"timeout"`  // 超时（秒）
}

// LLMConfig 表示LLM服务器的配置
type LLMConfig struct {
	Provider     string  `yaml:"provider"`      // openai 或 http
	URL          string  `yaml:"url"`           // LLM服务器URL
	APIKey       string  `yaml:"api_key"`       // 接口密钥
	Model        string  `yaml:"model"`         // 模型名称
	Temperature  float32 `yaml:"temperature"`   // 采样温度
	MaxTokens    int     `yaml:"max_tokens"`    // 最大生成长度
	Timeout      float64 `yaml:"timeout"`       // LLM服务器超时时间（秒）
	SystemPrompt string  `yaml:"system_prompt"` // 系统提示
	MaxHistory   int     `yaml:"max_history"`   // 历史条数上限（含system）
}

// TTSConfig 语音合成配置
type TTSConfig struct {
	Provider string  `yaml:"provider"` // openai 或 http
	BaseURL  string  `yaml:"base_url"` // OpenAI兼容接口地址
	APIKey   string  `yaml:"api_key"`  // 接口密钥
	Model    string  `yaml:"model"`    // 合成模型
	Voice    string  `yaml:"voice"`    // 音色
	Speed    float64 `yaml:"speed"`    // 语速
	URL      string  `yaml:"url"`      // 旧版服务地址
	Timeout  float64 `yaml:"timeout"`  // 超时（秒）
}

// StoreConfig 对话记录存储配置，Path为空时不记录
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default 返回全部默认值
func Default() *Config {
	return &Config{
		WebSocket: WebSocketConfig{
			Host:                   "0.0.0.0",
			Port:                   8000,
			Path:                   "/",
			AssistantPath:          "/assistant",
			SampleRate:             16000,
			CloseConnectionTimeout: 120,
			BinaryProtocol:         true,
			MaxChunkSize:           65535,
			WriteTimeout:           10,
			PingInterval:           30,
			QueueSize:              256,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			IP:      "0.0.0.0",
			Port:    8080,
		},
		PythonAPI: PythonAPIConfig{
			Host:    "127.0.0.1",
			Port:    8001,
			Timeout: 30,
		},
		Log: log.LogConfig{
			LogLevel:      "info",
			LogFile:       "logs/server.log",
			EnableConsole: true,
		},
		Audio: AudioConfig{
			PreBufferFrames:     3,
			MaxBufferSeconds:    5,
			MinUtteranceSeconds: 1.0,
			SpeechThreshold:     5,
			SilenceThreshold:    8,
			VoicedRatio:         0.30,
			Channels:            1,
			FrameDuration:       60,
			OpusBitrate:         32000,
		},
		VAD: VADConfig{
			Provider:        "energy",
			EnergyThreshold: 0.015,
			URL:             "http://127.0.0.1:8001/vad",
			Timeout:         2,
		},
		ASR: ASRConfig{
			Provider: "openai",
			BaseURL:  "https://api.siliconflow.cn/v1",
			Model:    "FunAudioLLM/SenseVoiceSmall",
			URL:      "http://127.0.0.1:8001/asr",
			Timeout:  15,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			URL:         "https://api.siliconflow.cn/v1",
			Model:       "Qwen/Qwen2.5-7B-Instruct",
			Temperature: 0.7,
			MaxTokens:   100,
			Timeout:     30,
			MaxHistory:  10,
		},
		TTS: TTSConfig{
			Provider: "openai",
			BaseURL:  "https://api.siliconflow.cn/v1",
			Model:    "FunAudioLLM/CosyVoice2-0.5B",
			Voice:    "FunAudioLLM/CosyVoice2-0.5B:diana",
			URL:      "http://127.0.0.1:8001/tts",
			Timeout:  20,
		},
	}
}

// LoadConfig 从YAML文件加载配置
// 参数:
//   - configPath: 配置文件路径
//
// 返回:
//   - *Config: 加载的配置对象
//   - error: 如果加载失败，返回错误信息
func LoadConfig(configPath string) (*Config, error) {
	// 读取配置文件内容
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// 存储配置文件路径
	cfg.ConfigPath = configPath
	return cfg, nil
}

// Parse 解析YAML内容，未出现的字段保留默认值，${VAR} 会被替换为环境变量
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if cfg.Log.LogLevel == "" {
		cfg.Log.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return cfg, nil
}

// Validate 校验各配置段
func (c *Config) Validate() error {
	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket: %w", err)
	}
	if c.HTTP.Enabled && (c.HTTP.Port < 1 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http: 端口必须在1-65535之间，当前为 %d", c.HTTP.Port)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := checkProvider(c.VAD.Provider, "energy", "http"); err != nil {
		return fmt.Errorf("vad: %w", err)
	}
	if err := checkProvider(c.ASR.Provider, "openai", "http"); err != nil {
		return fmt.Errorf("asr: %w", err)
	}
	if err := checkProvider(c.LLM.Provider, "openai", "http"); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := checkProvider(c.TTS.Provider, "openai", "http"); err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	return nil
}

// Validate 校验WebSocket配置
func (w *WebSocketConfig) Validate() error {
	if w.Port < 1 || w.Port > 65535 {
		return fmt.Errorf("端口必须在1-65535之间，当前为 %d", w.Port)
	}
	if w.SampleRate < 8000 || w.SampleRate%50 != 0 {
		return fmt.Errorf("采样率无效: %d", w.SampleRate)
	}
	if w.MaxChunkSize < 1 || w.MaxChunkSize > 65535 {
		return fmt.Errorf("max_chunk_size 必须在1-65535之间，当前为 %d", w.MaxChunkSize)
	}
	if w.Path == "" || w.Path == w.AssistantPath {
		return fmt.Errorf("path 不能为空且不能与 assistant_path 相同")
	}
	if w.Auth.Enabled && len(w.Auth.Tokens) == 0 && w.Auth.JWTSecret == "" {
		return fmt.Errorf("启用认证时至少需要配置 tokens 或 jwt_secret")
	}
	return nil
}

// Validate 校验音频配置
func (a *AudioConfig) Validate() error {
	if a.PreBufferFrames < 0 {
		return fmt.Errorf("pre_buffer_frames 不能为负数")
	}
	if a.MaxBufferSeconds < 1 {
		return fmt.Errorf("max_buffer_seconds 至少为1")
	}
	if a.MinUtteranceSeconds < 0 || a.MinUtteranceSeconds > float64(a.MaxBufferSeconds) {
		return fmt.Errorf("min_utterance_seconds 必须在0到max_buffer_seconds之间")
	}
	if a.SpeechThreshold < 1 || a.SilenceThreshold < 1 {
		return fmt.Errorf("speech_threshold 与 silence_threshold 至少为1")
	}
	if a.VoicedRatio <= 0 || a.VoicedRatio > 1 {
		return fmt.Errorf("voiced_ratio 必须在(0,1]之间，当前为 %.2f", a.VoicedRatio)
	}
	switch a.FrameDuration {
	case 20, 40, 60:
	default:
		return fmt.Errorf("frame_duration 只支持20/40/60毫秒，当前为 %d", a.FrameDuration)
	}
	return nil
}

func checkProvider(p string, allowed ...string) error {
	for _, a := range allowed {
		if p == a {
			return nil
		}
	}
	return fmt.Errorf("未知的 provider: %q", p)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetCloseTimeout 空闲回收时长
func (w *WebSocketConfig) GetCloseTimeout() time.Duration { return seconds(w.CloseConnectionTimeout) }

// GetWriteTimeout 写超时
func (w *WebSocketConfig) GetWriteTimeout() time.Duration { return seconds(w.WriteTimeout) }

// GetPingInterval 心跳间隔
func (w *WebSocketConfig) GetPingInterval() time.Duration { return seconds(w.PingInterval) }

func (v *VADConfig) GetTimeout() time.Duration { return seconds(v.Timeout) }

func (a *ASRConfig) GetTimeout() time.Duration { return seconds(a.Timeout) }

func (l *LLMConfig) GetTimeout() time.Duration { return seconds(l.Timeout) }

func (t *TTSConfig) GetTimeout() time.Duration { return seconds(t.Timeout) }

// UsesPythonAPI 是否有任一组件走旧版Python服务
func (c *Config) UsesPythonAPI() bool {
	return c.VAD.Provider == "http" || c.ASR.Provider == "http" || c.LLM.Provider == "http" || c.TTS.Provider == "http"
}
