package speech

const (
	// DefaultSpeechThreshold 连续多少个有声chunk判定为开始说话
	DefaultSpeechThreshold = 5
	// DefaultSilenceThreshold 连续多少个无声chunk判定为说话结束
	DefaultSilenceThreshold = 8
)

// Transition 状态机在一次观测中发生的状态变化
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionSpeechStart Idle → Speaking
	TransitionSpeechStart
	// TransitionSpeechEnd Speaking → Idle
	TransitionSpeechEnd
)

func (t Transition) String() string {
	switch t {
	case TransitionSpeechStart:
		return "speech_start"
	case TransitionSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Detector 基于连续计数的说话状态滞回判定
// 结束说话需要的连续静音比开始说话需要的连续语音更多，避免句中短暂停顿截断语句。
type Detector struct {
	speechThreshold    int
	silenceThreshold   int
	consecutiveSpeech  int
	consecutiveSilence int
	speaking           bool
}

// NewDetector 创建状态机，阈值不大于0时使用默认值
func NewDetector(speechThreshold, silenceThreshold int) *Detector {
	if speechThreshold <= 0 {
		speechThreshold = DefaultSpeechThreshold
	}
	if silenceThreshold <= 0 {
		silenceThreshold = DefaultSilenceThreshold
	}
	return &Detector{
		speechThreshold:  speechThreshold,
		silenceThreshold: silenceThreshold,
	}
}

// Observe 输入一个chunk的分类结果，返回是否发生状态变化
func (d *Detector) Observe(voiced bool) Transition {
	if voiced {
		d.consecutiveSpeech++
		d.consecutiveSilence = 0
		if !d.speaking && d.consecutiveSpeech >= d.speechThreshold {
			d.speaking = true
			return TransitionSpeechStart
		}
		return TransitionNone
	}

	d.consecutiveSilence++
	d.consecutiveSpeech = 0
	if d.speaking && d.consecutiveSilence >= d.silenceThreshold {
		d.speaking = false
		return TransitionSpeechEnd
	}
	return TransitionNone
}

// Speaking 当前是否处于说话状态
func (d *Detector) Speaking() bool { return d.speaking }

// Counters 返回连续语音和连续静音计数
func (d *Detector) Counters() (speech, silence int) {
	return d.consecutiveSpeech, d.consecutiveSilence
}

// Reset 回到初始的Idle状态
func (d *Detector) Reset() {
	d.consecutiveSpeech = 0
	d.consecutiveSilence = 0
	d.speaking = false
}
