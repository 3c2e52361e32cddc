package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/model"
	"voice-gateway/protocol"

	"github.com/gorilla/websocket"
)

// Synthesizer 把一句文本合成为opus帧序列
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

// emitFunc 把消息放入连接的发送队列，ctx取消时返回错误
type emitFunc func(ctx context.Context, msg ResponseMessage) error

// Sender 按句下发合成语音
type Sender struct {
	emit           emitFunc
	synth          Synthesizer
	binaryProtocol bool
	frameDuration  time.Duration
	metrics        *metrics.Metrics
}

// NewSender 创建下发器
// 参数:
//   - emit: 发送队列入口
//   - synth: 语音合成
//   - binaryProtocol: 音频帧是否加二进制协议头
//   - frameDuration: 每帧时长，用于节奏控制
func NewSender(emit emitFunc, synth Synthesizer, binaryProtocol bool, frameDuration time.Duration, m *metrics.Metrics) *Sender {
	return &Sender{
		emit:           emit,
		synth:          synth,
		binaryProtocol: binaryProtocol,
		frameDuration:  frameDuration,
		metrics:        m,
	}
}

// SendCommand 发送JSON控制消息
func (s *Sender) SendCommand(ctx context.Context, cmd model.ConnectionCommand) error {
	res, err := json.Marshal(&cmd)
	if err != nil {
		return fmt.Errorf("JSON编码错误: %w", err)
	}
	return s.emit(ctx, ResponseMessage{MessageType: websocket.TextMessage, Data: res})
}

// SendFrame 发送一个音频帧
// 超过协议长度字段上限的帧不加协议头，原样交给写协程分片；
// 带头消息最长 HeaderSize+MaxPayloadSize 字节，客户端据此区分。
func (s *Sender) SendFrame(ctx context.Context, frame []byte) error {
	if !s.binaryProtocol || len(frame) > protocol.MaxPayloadSize {
		return s.emit(ctx, ResponseMessage{MessageType: websocket.BinaryMessage, Data: frame})
	}
	data, err := protocol.Encode(protocol.MessageTypeAudio, frame)
	if err != nil {
		return err
	}
	return s.emit(ctx, ResponseMessage{MessageType: websocket.BinaryMessage, Data: data})
}

// SendEndOfSentence 发送零长度音频消息作为句末标记，裸opus模式下不发送
func (s *Sender) SendEndOfSentence(ctx context.Context) error {
	if !s.binaryProtocol {
		return nil
	}
	return s.SendFrame(ctx, nil)
}

// StreamSentence 合成并下发一句话
// 合成失败时通知客户端并返回nil，调用方继续下一句；ctx取消时返回ctx的错误。
func (s *Sender) StreamSentence(ctx context.Context, text string) error {
	if err := s.SendCommand(ctx, model.NewTTSCommand(model.TTSSentenceStart, text)); err != nil {
		return err
	}

	start := time.Now()
	frames, err := s.synth.Synthesize(ctx, text)
	s.metrics.ObserveStage(metrics.StageTTS, start, err)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("TTS处理错误: %v", err)
		errCmd := model.NewTTSCommand(model.TTSError, "")
		errCmd.Error = err.Error()
		if err := s.SendCommand(ctx, errCmd); err != nil {
			return err
		}
		return s.SendCommand(ctx, model.NewTTSCommand(model.TTSSentenceEnd, text))
	}

	for _, frame := range frames {
		if err := s.SendFrame(ctx, frame); err != nil {
			return err
		}
	}
	if err := s.SendEndOfSentence(ctx); err != nil {
		return err
	}
	if err := s.SendCommand(ctx, model.NewTTSCommand(model.TTSSentenceEnd, text)); err != nil {
		return err
	}
	s.metrics.RecordSentence(len(frames))

	// 按播放时长等待，避免客户端缓冲区堆积
	return sleepCtx(ctx, time.Duration(len(frames))*s.frameDuration)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
