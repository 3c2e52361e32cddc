package protocol

// DefaultChunkLimit 传输层单个分片的最大字节数
const DefaultChunkLimit = 65535

// Fragment 传输层分片
// 第一个分片 Continuation 为 false，其余为 true，对应 WebSocket 的首帧与延续帧。
type Fragment struct {
	Continuation bool
	Final        bool
	Data         []byte
}

// Split 将负载切分为不超过 limit 字节的分片
// 不超过 limit 的负载返回单个分片；空负载也返回一个空分片（零长度消息仍需发送）。
// 分片数据引用原始切片，不做拷贝。
func Split(payload []byte, limit int) []Fragment {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if len(payload) <= limit {
		return []Fragment{{Final: true, Data: payload}}
	}

	n := (len(payload) + limit - 1) / limit
	fragments := make([]Fragment, 0, n)
	for offset := 0; offset < len(payload); offset += limit {
		end := min(offset+limit, len(payload))
		fragments = append(fragments, Fragment{
			Continuation: offset > 0,
			Final:        end == len(payload),
			Data:         payload[offset:end],
		})
	}
	return fragments
}

// Reassemble 按顺序拼接分片，首个分片必须不是延续帧
func Reassemble(fragments []Fragment) ([]byte, error) {
	if len(fragments) == 0 {
		return nil, &ProtocolError{Reason: "no fragments"}
	}
	if fragments[0].Continuation {
		return nil, &ProtocolError{Reason: "first fragment marked as continuation"}
	}

	var size int
	for _, f := range fragments {
		size += len(f.Data)
	}
	out := make([]byte, 0, size)
	for i, f := range fragments {
		if i > 0 && !f.Continuation {
			return nil, &ProtocolError{Reason: "unexpected start fragment"}
		}
		out = append(out, f.Data...)
	}
	if !fragments[len(fragments)-1].Final {
		return nil, &ProtocolError{Reason: "missing final fragment"}
	}
	return out, nil
}
