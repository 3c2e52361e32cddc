package speech

import (
	"fmt"

	"voice-gateway/audio"
)

// DefaultVoicedRatio 有声子帧比例达到该值时整个chunk判为有声
const DefaultVoicedRatio = 0.30

// FrameClassifier 对一个20ms子帧做有声/无声判断
// 子帧长度不符合要求时应返回错误。
type FrameClassifier interface {
	IsSpeech(frame []float32) (bool, error)
}

// ChunkClassifier 把一个chunk切成20ms子帧后逐帧分类，按有声比例给出整体结论
type ChunkClassifier struct {
	vad       FrameClassifier
	frameSize int
	ratio     float64
}

// NewChunkClassifier 创建chunk分类器
// 参数:
//   - vad: 子帧分类器
//   - sampleRate: 采样率，决定子帧采样数
//   - ratio: 有声比例阈值，不大于0时使用 DefaultVoicedRatio
func NewChunkClassifier(vad FrameClassifier, sampleRate int, ratio float64) *ChunkClassifier {
	if ratio <= 0 {
		ratio = DefaultVoicedRatio
	}
	return &ChunkClassifier{
		vad:       vad,
		frameSize: audio.SubFrameSize(sampleRate),
		ratio:     ratio,
	}
}

// Classify 对chunk分类
// 返回:
//   - voiced: 是否有声
//   - classified: chunk不足一个子帧时为false，调用方不应更新状态
//   - error: 子帧分类失败
func (c *ChunkClassifier) Classify(pcm []float32) (voiced bool, classified bool, err error) {
	frames := audio.SplitFrames(pcm, c.frameSize)
	if len(frames) == 0 {
		return false, false, nil
	}

	var voicedFrames int
	for i, frame := range frames {
		speech, err := c.vad.IsSpeech(frame)
		if err != nil {
			return false, false, fmt.Errorf("子帧 %d 分类失败: %w", i, err)
		}
		if speech {
			voicedFrames++
		}
	}

	return float64(voicedFrames)/float64(len(frames)) >= c.ratio, true, nil
}

// FrameSize 子帧采样数
func (c *ChunkClassifier) FrameSize() int { return c.frameSize }
