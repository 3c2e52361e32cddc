package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader 标准44字节PCM WAV头
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 文件长度 - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // PCM为16
	AudioFormat   uint16  // PCM为1
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVHeaderSize 标准WAV头长度
const WAVHeaderSize = 44

// EncodeWAV 将单声道16位PCM编码为WAV
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("音频采样为空")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("采样率必须为正数，当前为 %d", sampleRate)
	}

	const numChannels, bitsPerSample = 1, 16
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("写入WAV头失败: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("写入音频数据失败: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeFloatWAV 将浮点PCM编码为16位WAV
func EncodeFloatWAV(samples []float32, sampleRate int) ([]byte, error) {
	return EncodeWAV(Float32ToInt16(samples), sampleRate)
}

// DecodeWAV 解析16位PCM WAV，返回单声道采样和采样率
// 按chunk遍历，跳过LIST等附加chunk；流式合成返回的data长度可能是0或0xFFFFFFFF，
// 此时取剩余全部字节。多声道数据会被混合为单声道。
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("WAV数据过短: %d 字节", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("无效的WAV文件: 缺少RIFF/WAVE标识")
	}

	var (
		channels      int
		sampleRate    int
		bitsPerSample int
		haveFormat    bool
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		rawSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		size := int(rawSize)
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, 0, fmt.Errorf("无效的WAV文件: fmt chunk过短")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 && format != 0xFFFE {
				return nil, 0, fmt.Errorf("不支持的音频格式: %d（仅支持PCM）", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, 0, fmt.Errorf("无效的WAV文件: data chunk出现在fmt之前")
			}
			if bitsPerSample != 16 {
				return nil, 0, fmt.Errorf("不支持的位深: %d（仅支持16位）", bitsPerSample)
			}
			if channels <= 0 {
				return nil, 0, fmt.Errorf("无效的声道数: %d", channels)
			}
			end := body + size
			if rawSize == 0 || rawSize == 0xFFFFFFFF || end > len(data) || end < body {
				end = len(data)
			}
			return decodePCM16(data[body:end], channels), sampleRate, nil
		}

		// chunk按偶数字节对齐
		offset = body + size + size%2
	}

	return nil, 0, fmt.Errorf("无效的WAV文件: 缺少data chunk")
}

func decodePCM16(raw []byte, channels int) []int16 {
	frames := len(raw) / (2 * channels)
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			pos := (i*channels + c) * 2
			sum += int(int16(binary.LittleEndian.Uint16(raw[pos : pos+2])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}
