package session

import (
	"fmt"
	"sync"
	"time"

	"voice-gateway/model"
	"voice-gateway/speech"

	"github.com/google/uuid"
)

// Decoder 把一个压缩音频包解码为单声道浮点PCM
type Decoder interface {
	Decode(data []byte) ([]float32, error)
}

// DecoderFactory 按协商的音频参数创建解码器
type DecoderFactory func(sampleRate, channels int) (Decoder, error)

// AudioParams 客户端协商的音频参数
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// VADFactory 按采样率创建子帧分类器
type VADFactory func(sampleRate int) speech.FrameClassifier

// Options 创建会话所需的参数
type Options struct {
	DeviceID      string
	Authenticated bool
	Params        AudioParams
	Speech        speech.Config
	VAD           speech.FrameClassifier
	NewVAD        VADFactory // 采样率变化时重建VAD，可以为nil
	NewDecoder    DecoderFactory
}

// Snapshot 会话的只读快照，供管理接口使用
type Snapshot struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	Authenticated bool      `json:"authenticated"`
	State         string    `json:"state"`
	Mode          string    `json:"mode"`
	SampleRate    int       `json:"sample_rate"`
	Speaking      bool      `json:"speaking"`
	SpeechCount   int       `json:"consecutive_speech"`
	SilenceCount  int       `json:"consecutive_silence"`
	Buffered      int       `json:"buffered_samples"`
	PreBuffered   int       `json:"pre_buffered_frames"`
	Capacity      int       `json:"buffer_capacity"`
	VADFrameSize  int       `json:"vad_frame_samples"`
	Utterances    int       `json:"utterances"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Session 一个设备连接的全部状态
// 除快照字段外只由连接的读协程访问；mu 保护快照会读取的字段，期间不做任何阻塞调用。
type Session struct {
	ID            string
	DeviceID      string
	Authenticated bool
	CreatedAt     time.Time

	mu           sync.Mutex
	state        model.ClientState
	mode         model.ResponseMode
	params       AudioParams
	lastActivity time.Time
	speaking     bool
	counters     [2]int // 连续语音、连续静音
	buffered     int
	preBuffered  int
	capacity     int
	frameSize    int
	utterances   int

	// 读协程独占
	decoder    Decoder
	newDecoder DecoderFactory
	newVAD     VADFactory
	vad        speech.FrameClassifier
	speechCfg  speech.Config
	segmenter  *speech.Segmenter

	closeOnce sync.Once
	closer    func()
}

// New 创建会话
func New(opts Options) *Session {
	now := time.Now()
	if opts.Params.SampleRate <= 0 {
		opts.Params.SampleRate = opts.Speech.SampleRate
	}
	if opts.Params.Channels <= 0 {
		opts.Params.Channels = 1
	}
	if opts.Params.Format == "" {
		opts.Params.Format = "opus"
	}
	opts.Speech.SampleRate = opts.Params.SampleRate
	if opts.VAD == nil && opts.NewVAD != nil {
		opts.VAD = opts.NewVAD(opts.Params.SampleRate)
	}

	s := &Session{
		ID:            uuid.NewString(),
		DeviceID:      opts.DeviceID,
		Authenticated: opts.Authenticated,
		CreatedAt:     now,
		state:         model.StateIdle,
		mode:          model.ModeAuto,
		params:        opts.Params,
		lastActivity:  now,
		newDecoder:    opts.NewDecoder,
		newVAD:        opts.NewVAD,
		vad:           opts.VAD,
		speechCfg:     opts.Speech,
		segmenter:     speech.NewSegmenter(opts.Speech, opts.VAD),
	}
	s.syncSnapshot()
	return s
}

// SetAudioParams 更新协商参数
// 采样率或声道变化时丢弃已缓冲的音频并重建解码器、VAD和分段器。
func (s *Session) SetAudioParams(p AudioParams) {
	s.mu.Lock()
	cur := s.params
	if p.Format == "" {
		p.Format = cur.Format
	}
	if p.SampleRate <= 0 {
		p.SampleRate = cur.SampleRate
	}
	if p.Channels <= 0 {
		p.Channels = cur.Channels
	}
	if p.FrameDuration <= 0 {
		p.FrameDuration = cur.FrameDuration
	}
	s.params = p
	s.mu.Unlock()

	if p.SampleRate != cur.SampleRate || p.Channels != cur.Channels {
		s.decoder = nil
		s.speechCfg.SampleRate = p.SampleRate
		if s.newVAD != nil {
			s.vad = s.newVAD(p.SampleRate)
		}
		s.segmenter = speech.NewSegmenter(s.speechCfg, s.vad)
		s.syncSnapshot()
	}
}

func (s *Session) AudioParams() AudioParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) SetMode(m model.ResponseMode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Session) Mode() model.ResponseMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetState 更新客户端状态，返回之前的状态以及是否发生变化
func (s *Session) SetState(state model.ClientState) (model.ClientState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev == state {
		return prev, false
	}
	s.state = state
	return prev, true
}

func (s *Session) State() model.ClientState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Decode 解码一个音频包，首次调用时按协商参数创建解码器
func (s *Session) Decode(data []byte) ([]float32, error) {
	if s.decoder == nil {
		if s.newDecoder == nil {
			return nil, fmt.Errorf("会话 %s 未配置解码器", s.ID)
		}
		p := s.AudioParams()
		dec, err := s.newDecoder(p.SampleRate, p.Channels)
		if err != nil {
			return nil, err
		}
		s.decoder = dec
	}
	return s.decoder.Decode(data)
}

// ProcessAudio 把解码后的PCM交给分段器
func (s *Session) ProcessAudio(pcm []float32) (speech.Result, error) {
	s.mu.Lock()
	mode, state := s.mode, s.state
	s.mu.Unlock()

	res, err := s.segmenter.Process(pcm, mode, state)
	s.syncSnapshot()
	return res, err
}

// RequestFlush 手动模式下由客户端状态变化触发识别
func (s *Session) RequestFlush() {
	s.segmenter.RequestFlush()
}

// TakeUtterance 取出待识别的语音，见 speech.Segmenter.TakeUtterance
// discarded 表示这次触发因不足最短时长被丢弃
func (s *Session) TakeUtterance() (samples []float32, ok bool, discarded bool) {
	if !s.segmenter.FlushReady() {
		return nil, false, false
	}
	samples, ok = s.segmenter.TakeUtterance(s.Mode())
	if ok {
		s.mu.Lock()
		s.utterances++
		s.mu.Unlock()
	}
	s.syncSnapshot()
	return samples, ok, !ok
}

// Reset 清空缓冲区和VAD计数器
func (s *Session) Reset() {
	s.segmenter.Reset()
	s.syncSnapshot()
}

// SampleRate 分段器当前使用的采样率
func (s *Session) SampleRate() int {
	return s.segmenter.SampleRate()
}

func (s *Session) syncSnapshot() {
	seg := s.segmenter
	speechRun, silenceRun := seg.Counters()
	speaking, buffered, preBuffered := seg.Speaking(), seg.Buffered(), seg.PreBuffered()
	capacity, frameSize := seg.Capacity(), seg.FrameSize()
	s.mu.Lock()
	s.speaking = speaking
	s.counters = [2]int{speechRun, silenceRun}
	s.buffered = buffered
	s.preBuffered = preBuffered
	s.capacity = capacity
	s.frameSize = frameSize
	s.mu.Unlock()
}

// Touch 记录最近一次活动时间
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor 距最近一次活动的时长
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		DeviceID:      s.DeviceID,
		Authenticated: s.Authenticated,
		State:         s.state.String(),
		Mode:          s.mode.String(),
		SampleRate:    s.params.SampleRate,
		Speaking:      s.speaking,
		SpeechCount:   s.counters[0],
		SilenceCount:  s.counters[1],
		Buffered:      s.buffered,
		PreBuffered:   s.preBuffered,
		Capacity:      s.capacity,
		VADFrameSize:  s.frameSize,
		Utterances:    s.utterances,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.lastActivity,
	}
}

// SetCloser 设置关闭会话时执行的函数（通常是关闭底层连接）
func (s *Session) SetCloser(fn func()) {
	s.mu.Lock()
	s.closer = fn
	s.mu.Unlock()
}

// Close 关闭会话，只执行一次
func (s *Session) Close() {
	s.mu.Lock()
	fn := s.closer
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		if fn != nil {
			fn()
		}
	})
}
