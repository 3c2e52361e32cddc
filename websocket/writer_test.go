package websocket

import (
	"bytes"
	"context"
	"testing"
	"time"

	"voice-gateway/protocol"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
)

func runWriter(t *testing.T, msgs ...ResponseMessage) []recordedWrite {
	t.Helper()

	out := make(chan ResponseMessage, len(msgs))
	for _, m := range msgs {
		out <- m
	}
	close(out)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          context.Background(),
		out:          out,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		chunkLimit:   protocol.DefaultChunkLimit,
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return ws.snapshot()
}

func TestWriterChunksLargeBinary(t *testing.T) {
	is := is.New(t)

	payload := make([]byte, 200000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	writes := runWriter(t, ResponseMessage{MessageType: websocket.BinaryMessage, Data: payload})
	is.Equal(len(writes), 1)

	frags := writes[0].fragments
	is.Equal(len(frags), 4)
	for _, f := range frags[:3] {
		is.Equal(len(f), 65535)
	}
	is.Equal(len(frags[3]), 200000-3*65535)
	is.True(bytes.Equal(writes[0].data, payload))

	// the fragment sequence marks first/continuation the same way the splitter does
	split := protocol.Split(payload, protocol.DefaultChunkLimit)
	is.True(!split[0].Continuation)
	for _, f := range split[1:] {
		is.True(f.Continuation)
	}
	joined, err := protocol.Reassemble(split)
	is.NoErr(err)
	is.True(bytes.Equal(joined, payload))
}

func TestWriterKeepsOrderAndSmallMessagesWhole(t *testing.T) {
	is := is.New(t)

	writes := runWriter(t,
		ResponseMessage{MessageType: websocket.TextMessage, Data: []byte(`{"type":"tts","state":"start"}`)},
		ResponseMessage{MessageType: websocket.BinaryMessage, Data: make([]byte, 65535)},
		ResponseMessage{MessageType: websocket.TextMessage, Data: []byte(`{"type":"tts","state":"stop"}`)},
	)

	is.Equal(len(writes), 3)
	is.Equal(writes[0].messageType, websocket.TextMessage)
	is.Equal(writes[1].messageType, websocket.BinaryMessage)
	is.Equal(writes[1].fragments, nil) // exactly at the limit, not fragmented
	is.Equal(string(writes[2].data), `{"type":"tts","state":"stop"}`)
}

func TestWriterSendsCloseOnCancel(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := &fakeWSWriter{}
	w := outboundWriter{ws: ws, ctx: ctx, out: make(chan ResponseMessage)}
	is.NoErr(w.Run())

	writes := ws.snapshot()
	is.Equal(len(writes), 1)
	is.Equal(writes[0].messageType, websocket.CloseMessage)
}
