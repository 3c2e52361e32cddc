package model

import "fmt"

// ClientState 客户端声明的连接状态，由state/listen消息驱动
// 与VAD检测到的说话状态相互独立。
type ClientState int

const (
	StateIdle ClientState = iota
	StateWakeWordDetected
	StateListening
	StateSpeaking
)

var clientStateNames = map[string]ClientState{
	"idle":               StateIdle,
	"wake_word_detected": StateWakeWordDetected,
	"listening":          StateListening,
	"speaking":           StateSpeaking,
}

// ParseClientState 解析状态字符串
func ParseClientState(s string) (ClientState, error) {
	state, ok := clientStateNames[s]
	if !ok {
		return StateIdle, fmt.Errorf("未知的客户端状态: %q", s)
	}
	return state, nil
}

func (s ClientState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWakeWordDetected:
		return "wake_word_detected"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// ResponseMode 响应模式，决定音频缓冲和触发识别的策略
type ResponseMode int

const (
	ModeAuto ResponseMode = iota
	ModeManual
	ModeRealTime
)

var responseModeNames = map[string]ResponseMode{
	"auto":      ModeAuto,
	"manual":    ModeManual,
	"real_time": ModeRealTime,
	"realtime":  ModeRealTime, // listen消息中的写法
}

// ParseResponseMode 解析响应模式字符串
func ParseResponseMode(s string) (ResponseMode, error) {
	mode, ok := responseModeNames[s]
	if !ok {
		return ModeAuto, fmt.Errorf("未知的响应模式: %q", s)
	}
	return mode, nil
}

func (m ResponseMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeRealTime:
		return "real_time"
	default:
		return fmt.Sprintf("ResponseMode(%d)", int(m))
	}
}
