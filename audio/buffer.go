package audio

import "errors"

// ErrBufferFull 追加后将超过缓冲区上限
var ErrBufferFull = errors.New("audio buffer full")

const (
	// DefaultPreBufferFrames 预缓冲保留的最近帧数
	DefaultPreBufferFrames = 3
	// DefaultMaxBufferSeconds 主缓冲区最长保存的音频秒数
	DefaultMaxBufferSeconds = 5
)

// Buffer 会话音频缓冲区
// 主缓冲区保存当前语句的PCM采样，预缓冲区是最近几帧的环形队列，
// 用于在VAD判定开始说话时补回检测延迟期间的音频。
type Buffer struct {
	pcm             []float32
	preBuffer       [][]float32
	maxSamples      int
	preBufferFrames int
	silenceDuration int
}

// NewBuffer 创建音频缓冲区
// 参数:
//   - maxSamples: 主缓冲区最大采样数
//   - preBufferFrames: 预缓冲帧数
func NewBuffer(maxSamples, preBufferFrames int) *Buffer {
	if preBufferFrames < 0 {
		preBufferFrames = 0
	}
	return &Buffer{
		maxSamples:      maxSamples,
		preBufferFrames: preBufferFrames,
		preBuffer:       make([][]float32, 0, preBufferFrames),
	}
}

// Append 追加采样到主缓冲区，超过上限时不修改缓冲区并返回 ErrBufferFull
func (b *Buffer) Append(samples []float32) error {
	if len(b.pcm)+len(samples) > b.maxSamples {
		return ErrBufferFull
	}
	b.pcm = append(b.pcm, samples...)
	return nil
}

// PushPreBuffer 写入预缓冲区，满时淘汰最旧的一帧
func (b *Buffer) PushPreBuffer(frame []float32) {
	if b.preBufferFrames == 0 {
		return
	}
	if len(b.preBuffer) == b.preBufferFrames {
		copy(b.preBuffer, b.preBuffer[1:])
		b.preBuffer = b.preBuffer[:len(b.preBuffer)-1]
	}
	b.preBuffer = append(b.preBuffer, append([]float32(nil), frame...))
}

// CommitPreBuffer 将预缓冲区的帧按顺序移到主缓冲区末尾，然后清空预缓冲区
// 放不下的帧被丢弃并返回 ErrBufferFull。
func (b *Buffer) CommitPreBuffer() error {
	var err error
	for _, frame := range b.preBuffer {
		if appendErr := b.Append(frame); appendErr != nil {
			err = appendErr
		}
	}
	b.preBuffer = b.preBuffer[:0]
	return err
}

// Clear 清空主缓冲区和预缓冲区，并重置静音计数
func (b *Buffer) Clear() {
	b.pcm = nil
	b.preBuffer = b.preBuffer[:0]
	b.silenceDuration = 0
}

// Samples 返回主缓冲区的拷贝
func (b *Buffer) Samples() []float32 {
	return append([]float32(nil), b.pcm...)
}

func (b *Buffer) Len() int { return len(b.pcm) }

func (b *Buffer) PreBufferLen() int { return len(b.preBuffer) }

func (b *Buffer) MaxSamples() int { return b.maxSamples }

// AddSilence 累加静音采样数
func (b *Buffer) AddSilence(samples int) { b.silenceDuration += samples }

// SilenceDuration 返回当前累计静音采样数
func (b *Buffer) SilenceDuration() int { return b.silenceDuration }
