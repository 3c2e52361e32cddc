package websocket

import (
	"context"
	"io"
	"time"

	"voice-gateway/protocol"

	"github.com/gorilla/websocket"
)

// ResponseMessage 表示要发送的响应消息
type ResponseMessage struct {
	MessageType int    // WebSocket消息类型
	Data        []byte // 消息数据
}

// wsWriter 连接的写端，便于测试替换
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	NextWriter(messageType int) (io.WriteCloser, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter 连接唯一的写协程
// 按入队顺序写出消息，定期发送ping，超过分片上限的二进制消息以分片方式写出。
type outboundWriter struct {
	ws           wsWriter
	ctx          context.Context
	out          <-chan ResponseMessage
	pingInterval time.Duration
	writeTimeout time.Duration
	chunkLimit   int
}

// Run 运行到ctx取消、通道关闭或写失败
func (w *outboundWriter) Run() error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if w.chunkLimit <= 0 {
		w.chunkLimit = protocol.DefaultChunkLimit
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			return nil
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case msg, ok := <-w.out:
			if !ok {
				return nil
			}
			if err := w.write(msg, writeTimeout); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) write(msg ResponseMessage, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if msg.MessageType != websocket.BinaryMessage || len(msg.Data) <= w.chunkLimit {
		return w.ws.WriteMessage(msg.MessageType, msg.Data)
	}
	return w.writeFragmented(msg.Data)
}

// writeFragmented 把大消息拆成首片加续片，作为一个分片的WebSocket消息写出
// 连接的写缓冲区大小等于分片上限，每次Write对应线上的一个帧。
func (w *outboundWriter) writeFragmented(data []byte) error {
	nw, err := w.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	for _, f := range protocol.Split(data, w.chunkLimit) {
		if _, err := nw.Write(f.Data); err != nil {
			nw.Close()
			return err
		}
	}
	return nw.Close()
}
