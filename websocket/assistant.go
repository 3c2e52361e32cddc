package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/model"
	"voice-gateway/store"
	"voice-gateway/utils/llm"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ResetReply 重置对话后的回复内容
const ResetReply = "对话已重置"

// AssistantConnection 文本助手连接：query 提问，reset 清空历史
// 读写都在同一个协程内完成。
type AssistantConnection struct {
	id           string
	conn         readConn
	responder    Responder
	conversation *llm.Conversation
	recorder     TurnRecorder
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// NewAssistantConnection 创建助手连接，每个连接有独立的对话历史
func NewAssistantConnection(conn readConn, deps *Dependencies) *AssistantConnection {
	cfg := deps.Config
	return &AssistantConnection{
		id:           uuid.NewString(),
		conn:         conn,
		responder:    deps.Responder,
		conversation: llm.NewConversation(cfg.LLM.SystemPrompt, cfg.LLM.MaxHistory),
		recorder:     deps.Recorder,
		metrics:      deps.Metrics,
		writeTimeout: cfg.WebSocket.GetWriteTimeout(),
	}
}

// HandleConnection 循环处理消息直到连接关闭
func (a *AssistantConnection) HandleConnection() {
	defer func() {
		a.conn.Close()
		log.Infof("助手连接 %s 已关闭", a.id)
	}()
	log.Infof("助手连接 %s 已建立", a.id)

	for {
		messageType, data, err := a.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Errorf("助手连接读取消息错误: %v", err)
			}
			return
		}

		reply, ok := a.handleMessage(context.Background(), data)
		if !ok {
			continue
		}
		if err := a.write(messageType, reply); err != nil {
			log.Errorf("助手连接写入消息错误: %v", err)
			return
		}
	}
}

// handleMessage 处理一条消息，ok 为false时不回复
func (a *AssistantConnection) handleMessage(ctx context.Context, data []byte) (model.AssistantMessage, bool) {
	var msg model.AssistantMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return errorReply(fmt.Errorf("解析消息失败: %w", err)), true
	}

	switch msg.Type {
	case "query":
		if msg.Content == "" {
			return model.AssistantMessage{}, false
		}
		a.conversation.AddUser(msg.Content)
		start := time.Now()
		reply, err := a.responder.Respond(ctx, a.conversation.History())
		a.metrics.ObserveStage(metrics.StageLLM, start, err)
		if err != nil {
			a.conversation.RollbackUser()
			return errorReply(err), true
		}
		a.conversation.AddAssistant(reply)
		a.record(msg.Content, reply)
		return model.AssistantMessage{Type: "response", Content: reply}, true

	case "reset":
		a.conversation.Reset()
		return model.AssistantMessage{Type: "response", Content: ResetReply}, true

	default:
		// 缺少type或未知类型时不回复
		return model.AssistantMessage{}, false
	}
}

func errorReply(err error) model.AssistantMessage {
	log.Errorf("助手消息处理错误: %v", err)
	return model.AssistantMessage{Type: "error", Message: err.Error()}
}

func (a *AssistantConnection) write(messageType int, msg model.AssistantMessage) error {
	data, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	if a.writeTimeout > 0 {
		if err := a.conn.SetWriteDeadline(time.Now().Add(a.writeTimeout)); err != nil {
			return err
		}
	}
	// 按收到的消息类型回复
	if messageType != websocket.BinaryMessage {
		messageType = websocket.TextMessage
	}
	return a.conn.WriteMessage(messageType, data)
}

func (a *AssistantConnection) record(question, reply string) {
	if a.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.recorder.RecordTurn(ctx, store.Turn{
		SessionID:     a.id,
		DeviceID:      "assistant",
		UserText:      question,
		AssistantText: reply,
	}); err != nil {
		log.Warnf("保存对话记录失败: %v", err)
	}
}
