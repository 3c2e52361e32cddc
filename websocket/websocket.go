package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voice-gateway/config"
	"voice-gateway/log"
	"voice-gateway/metrics"
	"voice-gateway/model"
	"voice-gateway/protocol"
	"voice-gateway/session"
	"voice-gateway/speech"
	"voice-gateway/utils/llm"

	"github.com/gorilla/websocket"
)

// Dependencies 连接处理所需的共享组件
type Dependencies struct {
	Config      *config.Config
	Registry    *session.Registry
	Metrics     *metrics.Metrics
	Recorder    TurnRecorder // 可以为nil
	NewVAD      session.VADFactory
	NewDecoder  session.DecoderFactory
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
}

// speechConfig 由配置生成分段参数
func (d *Dependencies) speechConfig() speech.Config {
	a := d.Config.Audio
	return speech.Config{
		SampleRate:          d.Config.WebSocket.SampleRate,
		PreBufferFrames:     a.PreBufferFrames,
		MaxBufferSeconds:    a.MaxBufferSeconds,
		MinUtteranceSeconds: a.MinUtteranceSeconds,
		SpeechThreshold:     a.SpeechThreshold,
		SilenceThreshold:    a.SilenceThreshold,
		VoicedRatio:         a.VoicedRatio,
	}
}

// readConn 连接的读写端
type readConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
}

// WebSocketConnection 表示一个设备的WebSocket连接
type WebSocketConnection struct {
	conn         readConn             // WebSocket连接对象
	deps         *Dependencies        // 共享组件
	session      *session.Session     // 会话状态
	sender       *Sender              // 语音下发
	pipeline     *Pipeline            // 识别流水线
	responseChan chan ResponseMessage // 响应消息通道
	ctx          context.Context      // 上下文，用于控制goroutine生命周期
	cancelFunc   context.CancelFunc   // 取消函数，用于关闭上下文
	clientIP     string               // 客户端地址
}

// NewWebSocketConnection 创建一个新的WebSocket连接处理器
// 参数:
//   - conn: 已完成握手的WebSocket连接
//   - deviceID: 请求头中的设备ID
//   - clientIP: 客户端地址
//   - authenticated: 握手时是否通过认证
//   - deps: 共享组件
//
// 返回:
//   - *WebSocketConnection: 新创建的WebSocket连接处理器
func NewWebSocketConnection(conn readConn, deviceID, clientIP string, authenticated bool, deps *Dependencies) *WebSocketConnection {
	// 创建带取消功能的上下文
	ctx, cancel := context.WithCancel(context.Background())
	cfg := deps.Config

	sess := session.New(session.Options{
		DeviceID:      deviceID,
		Authenticated: authenticated,
		Params: session.AudioParams{
			Format:        "opus",
			SampleRate:    cfg.WebSocket.SampleRate,
			Channels:      cfg.Audio.Channels,
			FrameDuration: cfg.Audio.FrameDuration,
		},
		Speech:     deps.speechConfig(),
		NewVAD:     deps.NewVAD,
		NewDecoder: deps.NewDecoder,
	})

	wsc := &WebSocketConnection{
		conn:         conn,
		deps:         deps,
		session:      sess,
		responseChan: make(chan ResponseMessage, cfg.WebSocket.QueueSize),
		ctx:          ctx,
		cancelFunc:   cancel,
		clientIP:     clientIP,
	}

	wsc.sender = NewSender(wsc.sendResponse, deps.Synthesizer, cfg.WebSocket.BinaryProtocol,
		time.Duration(cfg.Audio.FrameDuration)*time.Millisecond, deps.Metrics)
	wsc.pipeline = NewPipeline(ctx, PipelineOptions{
		Transcriber:  deps.Transcriber,
		Responder:    deps.Responder,
		Sender:       wsc.sender,
		Conversation: llm.NewConversation(cfg.LLM.SystemPrompt, cfg.LLM.MaxHistory),
		Recorder:     deps.Recorder,
		Metrics:      deps.Metrics,
		SessionID:    sess.ID,
		DeviceID:     deviceID,
	})

	sess.SetCloser(func() {
		cancel()
		conn.Close()
	})

	log.Debugf("新会话 %s，设备 %s，来自 %s", sess.ID, deviceID, clientIP)
	return wsc
}

// Session 返回连接的会话
func (wsc *WebSocketConnection) Session() *session.Session {
	return wsc.session
}

// sendResponse 发送响应消息
// 参数:
//   - ctx: 发送方的上下文，取消后不再入队
//   - msg: 响应消息
func (wsc *WebSocketConnection) sendResponse(ctx context.Context, msg ResponseMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		// 发送方已取消，不发送消息
		return ctx.Err()
	case <-wsc.ctx.Done():
		// 连接已关闭
		return wsc.ctx.Err()
	case wsc.responseChan <- msg:
		return nil
	}
}

// sendCommand 在连接上下文中发送控制消息
func (wsc *WebSocketConnection) sendCommand(cmd model.ConnectionCommand) error {
	return wsc.sender.SendCommand(wsc.ctx, cmd)
}

// handleResponses 回复响应消息的协程
func (wsc *WebSocketConnection) handleResponses() {
	defer log.Debugf("响应处理协程已退出")

	cfg := wsc.deps.Config.WebSocket
	w := outboundWriter{
		ws:           wsc.conn,
		ctx:          wsc.ctx,
		out:          wsc.responseChan,
		pingInterval: cfg.GetPingInterval(),
		writeTimeout: cfg.GetWriteTimeout(),
		chunkLimit:   cfg.MaxChunkSize,
	}
	if err := w.Run(); err != nil {
		log.Errorf("写入消息错误: %v", err)
		// 发生错误时取消上下文，触发连接关闭
		wsc.session.Close()
	}
}

// handleAudioMessage 处理一个音频包
func (wsc *WebSocketConnection) handleAudioMessage(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	pcm, err := wsc.session.Decode(data)
	if err != nil {
		wsc.deps.Metrics.RecordDecodeError()
		log.Debugf("会话 %s 跳过无法解码的音频帧: %v", wsc.session.ID, err)
		return nil
	}

	start := time.Now()
	res, err := wsc.session.ProcessAudio(pcm)
	wsc.deps.Metrics.ObserveStage(metrics.StageVAD, start, err)
	if err != nil {
		return fmt.Errorf("VAD分类失败: %w", err)
	}

	switch res.Transition {
	case speech.TransitionSpeechStart:
		log.Debugf("会话 %s 检测到开始说话", wsc.session.ID)
	case speech.TransitionSpeechEnd:
		log.Debugf("会话 %s 检测到说话结束", wsc.session.ID)
	}

	wsc.tryFlush()
	return nil
}

// tryFlush 缓冲区就绪时把语音交给流水线
func (wsc *WebSocketConnection) tryFlush() {
	samples, ok, discarded := wsc.session.TakeUtterance()
	if discarded {
		wsc.deps.Metrics.RecordDiscarded()
		log.Debugf("会话 %s 语音过短，丢弃", wsc.session.ID)
		return
	}
	if !ok {
		return
	}

	rate := wsc.session.SampleRate()
	wsc.deps.Metrics.RecordUtterance(len(samples), rate)
	log.Debugf("会话 %s 提交 %.2f 秒语音识别", wsc.session.ID, float64(len(samples))/float64(rate))
	wsc.pipeline.Submit(samples, rate)
}

// applyState 更新客户端状态，手动模式下 listening→idle 触发识别
func (wsc *WebSocketConnection) applyState(state model.ClientState) {
	prev, changed := wsc.session.SetState(state)
	if !changed {
		return
	}
	log.Debugf("会话 %s 状态 %s -> %s", wsc.session.ID, prev, state)

	if wsc.session.Mode() == model.ModeManual && prev == model.StateListening && state == model.StateIdle {
		wsc.session.RequestFlush()
		wsc.tryFlush()
	}
}

// abort 打断当前回复
func (wsc *WebSocketConnection) abort() error {
	log.Infof("DeviceId(%s) 中止消息", wsc.session.DeviceID)
	wsc.deps.Metrics.RecordAbort()

	wsc.pipeline.Abort()
	wsc.session.Reset()

	cmd := model.NewTTSCommand(model.TTSStop, "")
	cmd.Session = wsc.session.ID
	return wsc.sendCommand(cmd)
}

// helloResponse 构造hello回复
func (wsc *WebSocketConnection) helloResponse() model.ConnectionCommand {
	cfg := wsc.deps.Config
	return model.ConnectionCommand{
		Type:      "hello",
		Version:   3,
		Transport: "websocket",
		Session:   wsc.session.ID,
		AudioParams: &model.CommandAudioParams{
			Format:        "opus",
			SampleRate:    cfg.WebSocket.SampleRate,
			Channels:      1,
			FrameDuration: cfg.Audio.FrameDuration,
		},
	}
}

// listenStates listen消息的state到客户端状态
var listenStates = map[string]model.ClientState{
	"start":  model.StateListening,
	"stop":   model.StateIdle,
	"detect": model.StateWakeWordDetected,
}

// handleTextMessage 处理JSON控制消息
func (wsc *WebSocketConnection) handleTextMessage(data []byte) error {
	var cmd model.ConnectionCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		wsc.deps.Metrics.RecordProtocolError()
		return fmt.Errorf("解析控制消息失败: %w", err)
	}

	switch cmd.Type {
	case "hello":
		// 未指定响应模式时回到自动模式
		mode := model.ModeAuto
		if cmd.ResponseMode != "" {
			parsed, err := model.ParseResponseMode(cmd.ResponseMode)
			if err != nil {
				log.Warnf("会话 %s: %v", wsc.session.ID, err)
			} else {
				mode = parsed
			}
		}
		wsc.session.SetMode(mode)
		if p := cmd.AudioParams; p != nil {
			wsc.session.SetAudioParams(session.AudioParams{
				Format:        p.Format,
				SampleRate:    p.SampleRate,
				Channels:      p.Channels,
				FrameDuration: p.FrameDuration,
			})
		}
		return wsc.sendCommand(wsc.helloResponse())

	case "state":
		state, err := model.ParseClientState(cmd.State)
		if err != nil {
			log.Warnf("会话 %s: %v", wsc.session.ID, err)
			return nil
		}
		wsc.applyState(state)

	case "listen":
		if cmd.Mode != "" {
			if mode, err := model.ParseResponseMode(cmd.Mode); err != nil {
				log.Warnf("会话 %s: %v", wsc.session.ID, err)
			} else {
				wsc.session.SetMode(mode)
			}
		}
		state, ok := listenStates[cmd.State]
		if !ok {
			log.Warnf("会话 %s 未知的listen状态: %q", wsc.session.ID, cmd.State)
			return nil
		}
		if cmd.State == "detect" && cmd.Text != "" {
			log.Infof("设备 %s 唤醒词: %s", wsc.session.DeviceID, cmd.Text)
		}
		wsc.applyState(state)

	case "abort":
		return wsc.abort()

	default:
		log.Warnf("会话 %s 未知消息类型: %q", wsc.session.ID, cmd.Type)
	}

	return nil
}

// handleBinaryMessage 处理二进制消息，启用协议时先解析协议头
func (wsc *WebSocketConnection) handleBinaryMessage(data []byte) error {
	if !wsc.deps.Config.WebSocket.BinaryProtocol {
		return wsc.handleAudioMessage(data)
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		wsc.deps.Metrics.RecordProtocolError()
		return err
	}
	switch msg.Type {
	case protocol.MessageTypeAudio:
		if msg.IsEndOfSentence() {
			// 空音频包没有可解码的内容
			log.Debugf("会话 %s 收到空音频消息，忽略", wsc.session.ID)
			return nil
		}
		return wsc.handleAudioMessage(msg.Payload)
	case protocol.MessageTypeJSON:
		return wsc.handleTextMessage(msg.Payload)
	default:
		log.Debugf("会话 %s 忽略类型为 %s 的二进制消息", wsc.session.ID, msg.Type)
		return nil
	}
}

// processMessage 根据消息类型处理WebSocket消息
func (wsc *WebSocketConnection) processMessage(messageType int, data []byte) error {
	wsc.session.Touch()

	switch messageType {
	case websocket.TextMessage:
		log.Debugf("处理文本消息: %s", string(data))
		return wsc.handleTextMessage(data)
	case websocket.BinaryMessage:
		return wsc.handleBinaryMessage(data)
	default:
		return fmt.Errorf("未知的消息类型: %d", messageType)
	}
}

// HandleConnection 处理WebSocket连接的主循环
// 登记会话，启动写协程和流水线协程，循环读取并处理消息，返回前注销会话。
func (wsc *WebSocketConnection) HandleConnection() {
	registry := wsc.deps.Registry
	if err := registry.Register(wsc.session); err != nil {
		log.Errorf("登记会话失败: %v", err)
		wsc.conn.Close()
		wsc.cancelFunc()
		return
	}

	// 确保连接在函数返回时关闭
	defer func() {
		wsc.session.Close()
		registry.Remove(wsc.session.ID)
		log.Infof("WebSocket连接已关闭，会话 %s", wsc.session.ID)
	}()

	// 启动响应处理协程
	go wsc.handleResponses()

	// 启动流水线协程
	go wsc.pipeline.Run()

	log.Infof("设备 %s 已连接，会话 %s", wsc.session.DeviceID, wsc.session.ID)

	// 主消息循环
	for {
		messageType, message, err := wsc.conn.ReadMessage()
		if err != nil {
			if wsc.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Errorf("读取消息错误: %v", err)
			}
			return
		}

		if err := wsc.processMessage(messageType, message); err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				log.Warnf("会话 %s 丢弃错误的二进制消息: %v", wsc.session.ID, err)
				continue
			}
			log.Errorf("处理消息错误: %v", err)
		}
	}
}
