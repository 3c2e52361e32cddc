package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType 二进制协议消息类型
type MessageType uint8

const (
	// MessageTypeAudio 音频负载（opus帧）
	MessageTypeAudio MessageType = 0
	// MessageTypeJSON JSON控制消息负载
	MessageTypeJSON MessageType = 1
)

const (
	// HeaderSize 协议头长度：[type:1][reserved:1][length:2]
	HeaderSize = 4
	// MaxPayloadSize 长度字段为2字节，负载最大65535字节
	MaxPayloadSize = 0xFFFF
)

// ErrProtocol 所有协议错误都可以用 errors.Is(err, ErrProtocol) 判断
var ErrProtocol = errors.New("protocol error")

// ProtocolError 表示二进制消息头错误或长度不匹配
type ProtocolError struct {
	Reason    string
	Declared  int // 头部声明的负载长度
	Available int // 实际可用的负载字节数
}

func (e *ProtocolError) Error() string {
	if e.Declared > 0 || e.Available > 0 {
		return fmt.Sprintf("protocol error: %s (declared %d bytes, available %d)", e.Reason, e.Declared, e.Available)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeAudio:
		return "audio"
	case MessageTypeJSON:
		return "json"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// BinaryMessage 带4字节头的应用层消息
type BinaryMessage struct {
	Type     MessageType
	Reserved uint8
	Payload  []byte
}

// NewBinaryMessage 创建二进制消息
// 参数:
//   - t: 消息类型
//   - payload: 负载数据，长度不能超过 MaxPayloadSize
//
// 返回:
//   - *BinaryMessage: 新消息，Reserved 固定为0
//   - error: 负载过长时返回 ProtocolError
func NewBinaryMessage(t MessageType, payload []byte) (*BinaryMessage, error) {
	if len(payload) > MaxPayloadSize {
		return nil, &ProtocolError{Reason: "payload too large", Declared: len(payload), Available: MaxPayloadSize}
	}
	return &BinaryMessage{Type: t, Payload: payload}, nil
}

// Encode 编码为 [type][0][length BE][payload]
func (m *BinaryMessage) Encode() []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	buf[0] = byte(m.Type)
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// Encode 编码一条消息，负载过长时返回错误
func Encode(t MessageType, payload []byte) ([]byte, error) {
	msg, err := NewBinaryMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msg.Encode(), nil
}

// Decode 从原始字节解析消息
// 只读取 data 范围内的字节；声明长度之后多余的字节被忽略。
// 返回的负载是独立拷贝，不引用 data。
func Decode(data []byte) (*BinaryMessage, error) {
	if len(data) < HeaderSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("header too short: expected %d bytes, got %d", HeaderSize, len(data))}
	}

	declared := int(binary.BigEndian.Uint16(data[2:4]))
	available := len(data) - HeaderSize
	if declared > available {
		return nil, &ProtocolError{Reason: "payload truncated", Declared: declared, Available: available}
	}

	msg := &BinaryMessage{
		Type:     MessageType(data[0]),
		Reserved: data[1],
		Payload:  make([]byte, declared),
	}
	copy(msg.Payload, data[HeaderSize:HeaderSize+declared])
	return msg, nil
}

// IsEndOfSentence 零长度音频消息是句子结束标记
func (m *BinaryMessage) IsEndOfSentence() bool {
	return m.Type == MessageTypeAudio && len(m.Payload) == 0
}
