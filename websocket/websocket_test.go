package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voice-gateway/config"
	"voice-gateway/model"
	"voice-gateway/protocol"
	"voice-gateway/session"
	"voice-gateway/speech"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
)

type testServer struct {
	url      string
	deps     *Dependencies
	turns    *memoryRecorder
	registry *session.Registry
}

func newTestServer(t *testing.T, responder Responder) *testServer {
	t.Helper()

	cfg := config.Default()
	turns := &memoryRecorder{}
	registry := session.NewRegistry(nil)
	deps := &Dependencies{
		Config:   cfg,
		Registry: registry,
		Recorder: turns,
		NewVAD:   func(int) speech.FrameClassifier { return levelVAD{} },
		NewDecoder: func(sampleRate, channels int) (session.Decoder, error) {
			return levelDecoder{size: sampleRate * 60 / 1000}, nil
		},
		Transcriber: fakeTranscriber{text: "今天天气怎么样"},
		Responder:   responder,
		Synthesizer: fakeSynth{frames: 1},
	}

	upgrader := websocket.Upgrader{
		WriteBufferSize: protocol.DefaultChunkLimit,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewWebSocketConnection(conn, r.Header.Get("Device-Id"), r.RemoteAddr, true, deps).HandleConnection()
	}))
	t.Cleanup(srv.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		deps:     deps,
		turns:    turns,
		registry: registry,
	}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Device-Id", "aa:bb:cc:dd:ee:ff")
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, level byte, n int) {
	t.Helper()
	data, err := protocol.Encode(protocol.MessageTypeAudio, []byte{level})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
}

// readUntil 读取消息直到出现 stop 事件
func readUntil(t *testing.T, conn *websocket.Conn, last string) []string {
	t.Helper()

	var msgs []ResponseMessage
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (got %v)", err, describe(t, msgs, true))
		}
		msgs = append(msgs, ResponseMessage{MessageType: mt, Data: data})
		events := describe(t, msgs, true)
		if events[len(events)-1] == last {
			return events
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) model.ConnectionCommand {
	t.Helper()
	sendJSON(t, conn, model.ConnectionCommand{Type: "hello", Version: 3, Transport: "websocket", ResponseMode: "manual"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply model.ConnectionCommand
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	return reply
}

func TestConnectionConversation(t *testing.T) {
	is := is.New(t)

	srv := newTestServer(t, &fakeResponder{reply: "晴天。适合出门！"})
	conn := srv.dial(t)

	reply := hello(t, conn)
	is.Equal(reply.Type, "hello")
	is.Equal(reply.Version, 3)
	is.Equal(reply.Transport, "websocket")
	is.True(reply.Session != "")
	is.Equal(reply.AudioParams.SampleRate, 16000)
	is.Equal(reply.AudioParams.FrameDuration, 60)

	sess, ok := srv.registry.Get(reply.Session)
	is.True(ok)
	is.Equal(sess.DeviceID, "aa:bb:cc:dd:ee:ff")
	is.Equal(sess.Mode(), model.ModeManual)

	sendJSON(t, conn, model.ConnectionCommand{Type: "listen", State: "start", Mode: "manual"})
	sendAudio(t, conn, 90, 20)
	sendJSON(t, conn, model.ConnectionCommand{Type: "listen", State: "stop"})

	is.Equal(readUntil(t, conn, "tts:stop:"), []string{
		"stt::今天天气怎么样",
		"tts:start:",
		"tts:sentence_start:晴天。",
		"audio:2",
		"audio:0",
		"tts:sentence_end:晴天。",
		"tts:sentence_start:适合出门！",
		"audio:2",
		"audio:0",
		"tts:sentence_end:适合出门！",
		"tts:stop:",
	})

	srv.turns.mu.Lock()
	is.Equal(len(srv.turns.turns), 1)
	is.Equal(srv.turns.turns[0].SessionID, reply.Session)
	srv.turns.mu.Unlock()

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	is.Equal(srv.registry.Count(), 0)
}

func TestConnectionAbort(t *testing.T) {
	is := is.New(t)

	srv := newTestServer(t, &fakeResponder{block: true})
	conn := srv.dial(t)
	reply := hello(t, conn)

	sendJSON(t, conn, model.ConnectionCommand{Type: "listen", State: "start", Mode: "manual"})
	sendAudio(t, conn, 90, 20)
	sendJSON(t, conn, model.ConnectionCommand{Type: "listen", State: "stop"})
	is.Equal(readUntil(t, conn, "tts:start:"), []string{"stt::今天天气怎么样", "tts:start:"})

	sendJSON(t, conn, model.ConnectionCommand{Type: "abort", Reason: "wake_word_detected"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var stop model.ConnectionCommand
	is.NoErr(conn.ReadJSON(&stop))
	is.Equal(stop.Type, "tts")
	is.Equal(stop.State, model.TTSStop)
	is.Equal(stop.Session, reply.Session)
}

func TestConnectionSurvivesBadFrames(t *testing.T) {
	is := is.New(t)

	srv := newTestServer(t, &fakeResponder{reply: "好。"})
	conn := srv.dial(t)

	// 头部不完整、长度不符、未知类型、无法解析的JSON
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0}))
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 9, 1}))
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, []byte{7, 0, 0, 0}))
	is.NoErr(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	is.NoErr(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"iot"}`)))

	reply := hello(t, conn)
	is.Equal(reply.Type, "hello")
}

func TestConnectionJSONOverBinary(t *testing.T) {
	is := is.New(t)

	srv := newTestServer(t, &fakeResponder{reply: "好。"})
	conn := srv.dial(t)

	payload, err := json.Marshal(model.ConnectionCommand{Type: "hello", Version: 3})
	is.NoErr(err)
	data, err := protocol.Encode(protocol.MessageTypeJSON, payload)
	is.NoErr(err)
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, data))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply model.ConnectionCommand
	is.NoErr(conn.ReadJSON(&reply))
	is.Equal(reply.Type, "hello")
}

func TestHelloWithoutModeResetsToAuto(t *testing.T) {
	is := is.New(t)

	srv := newTestServer(t, &fakeResponder{reply: "好。"})
	conn := srv.dial(t)

	reply := hello(t, conn)
	sess, ok := srv.registry.Get(reply.Session)
	is.True(ok)
	is.Equal(sess.Mode(), model.ModeManual)

	// 空音频消息不进入解码
	end, err := protocol.Encode(protocol.MessageTypeAudio, nil)
	is.NoErr(err)
	is.NoErr(conn.WriteMessage(websocket.BinaryMessage, end))

	sendJSON(t, conn, model.ConnectionCommand{Type: "hello", Version: 3})
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var again model.ConnectionCommand
	is.NoErr(conn.ReadJSON(&again))
	is.Equal(again.Type, "hello")
	is.Equal(sess.Mode(), model.ModeAuto)
	is.Equal(sess.Snapshot().Buffered, 0)
}
