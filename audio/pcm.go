package audio

import "math"

// SubFrameMillis VAD子帧时长
const SubFrameMillis = 20

// SubFrameSize 返回指定采样率下一个20ms子帧的采样数
func SubFrameSize(sampleRate int) int {
	return sampleRate * SubFrameMillis / 1000
}

// SplitFrames 将PCM切成完整的定长子帧，不足一帧的尾部被丢弃
// 子帧引用原始切片，不做拷贝。
func SplitFrames(samples []float32, frameSize int) [][]float32 {
	if frameSize <= 0 {
		return nil
	}
	n := len(samples) / frameSize
	frames := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, samples[i*frameSize:(i+1)*frameSize])
	}
	return frames
}

// Int16ToFloat32 将int16采样转换为[-1, 1)范围的浮点采样
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 将浮点采样转换为int16，超出范围的值被截断
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// DownmixToMono 将交错的多声道采样平均为单声道
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample 线性插值重采样
func Resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// RMS 计算均方根能量
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
