package model

// CommandAudioParams 握手时协商的音频参数
type CommandAudioParams struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// ConnectionCommand 客户端与服务端之间的JSON控制消息
// type 字段决定消息种类：hello / state / listen / abort / stt / tts
type ConnectionCommand struct {
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`
	Session string `json:"session,omitempty"`

	Transport    string              `json:"transport,omitempty"`
	ResponseMode string              `json:"response_mode,omitempty"`
	AudioParams  *CommandAudioParams `json:"audio_params,omitempty"`

	State  string `json:"state,omitempty"`
	Mode   string `json:"mode,omitempty"` // listen消息中的 auto/manual/realtime
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AssistantMessage 助手旁路通道消息
type AssistantMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Dialogue 对话中的一轮
type Dialogue struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// 服务端发出的tts状态
const (
	TTSStart         = "start"
	TTSSentenceStart = "sentence_start"
	TTSSentenceEnd   = "sentence_end"
	TTSStop          = "stop"
	TTSError         = "error"
)

// NewTTSCommand 构造tts事件
func NewTTSCommand(state, text string) ConnectionCommand {
	return ConnectionCommand{Type: "tts", State: state, Text: text}
}
