package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"voice-gateway/model"
	"voice-gateway/store"

	"github.com/gorilla/websocket"
)

type recordedWrite struct {
	messageType int
	data        []byte
	fragments   [][]byte // set for messages written through NextWriter
}

// fakeWSWriter records everything the writer goroutine puts on the wire.
type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	closed bool
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeWSWriter) NextWriter(messageType int) (io.WriteCloser, error) {
	return &fragmentWriter{parent: f, messageType: messageType}, nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedWrite(nil), f.writes...)
}

type fragmentWriter struct {
	parent      *fakeWSWriter
	messageType int
	fragments   [][]byte
}

func (w *fragmentWriter) Write(p []byte) (int, error) {
	w.fragments = append(w.fragments, append([]byte(nil), p...))
	return len(p), nil
}

func (w *fragmentWriter) Close() error {
	var data []byte
	for _, f := range w.fragments {
		data = append(data, f...)
	}
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	w.parent.writes = append(w.parent.writes, recordedWrite{messageType: w.messageType, data: data, fragments: w.fragments})
	return nil
}

// recorder collects what a Sender emits.
type recorder struct {
	mu   sync.Mutex
	msgs []ResponseMessage

	failBinary error // returned for every binary message when set
}

func (r *recorder) emit(ctx context.Context, msg ResponseMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failBinary != nil && msg.MessageType == websocket.BinaryMessage {
		return r.failBinary
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) snapshot() []ResponseMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResponseMessage(nil), r.msgs...)
}

type fakeSynth struct {
	frames int
	fail   map[string]bool
}

func (s fakeSynth) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	if s.fail[text] {
		return nil, errors.New("voice unavailable")
	}
	out := make([][]byte, s.frames)
	for i := range out {
		out[i] = []byte{0xF8, byte(i)}
	}
	return out, nil
}

// bigSynth returns a single frame of the given size.
type bigSynth struct {
	size int
}

func (s bigSynth) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	frame := make([]byte, s.size)
	for i := range frame {
		frame[i] = byte(i % 251)
	}
	return [][]byte{frame}, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return t.text, t.err
}

type fakeResponder struct {
	reply string
	err   error
	block bool // wait for cancellation

	mu      sync.Mutex
	history [][]model.Dialogue
	started chan struct{}
}

func (r *fakeResponder) Respond(ctx context.Context, history []model.Dialogue) (string, error) {
	r.mu.Lock()
	r.history = append(r.history, history)
	started := r.started
	r.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.reply, r.err
}

type memoryRecorder struct {
	mu    sync.Mutex
	turns []store.Turn
}

func (m *memoryRecorder) RecordTurn(ctx context.Context, t store.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return nil
}

// levelVAD treats a sub-frame as voiced when its first sample is at least 0.5.
type levelVAD struct{}

func (levelVAD) IsSpeech(frame []float32) (bool, error) {
	return frame[0] >= 0.5, nil
}

// levelDecoder turns the first byte of a packet into a 60ms chunk at that level (byte/100).
type levelDecoder struct{ size int }

func (d levelDecoder) Decode(data []byte) ([]float32, error) {
	pcm := make([]float32, d.size)
	for i := range pcm {
		pcm[i] = float32(data[0]) / 100
	}
	return pcm, nil
}
