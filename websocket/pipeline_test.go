package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-gateway/model"
	"voice-gateway/utils/llm"

	"github.com/matryer/is"
)

type pipelineFixture struct {
	pipeline     *Pipeline
	out          *recorder
	conversation *llm.Conversation
	turns        *memoryRecorder
}

func newPipelineFixture(ctx context.Context, asr Transcriber, responder Responder, synth Synthesizer) *pipelineFixture {
	out := &recorder{}
	conv := llm.NewConversation("system", 10)
	turns := &memoryRecorder{}
	p := NewPipeline(ctx, PipelineOptions{
		Transcriber:  asr,
		Responder:    responder,
		Sender:       NewSender(out.emit, synth, true, time.Millisecond, nil),
		Conversation: conv,
		Recorder:     turns,
		SessionID:    "s-1",
		DeviceID:     "dev-1",
	})
	return &pipelineFixture{pipeline: p, out: out, conversation: conv, turns: turns}
}

func TestPipelineProcess(t *testing.T) {
	is := is.New(t)

	responder := &fakeResponder{reply: "你好。今天天气不错！"}
	f := newPipelineFixture(context.Background(), fakeTranscriber{text: " 今天天气怎么样 "}, responder, fakeSynth{frames: 1})

	is.NoErr(f.pipeline.Process(context.Background(), make([]float32, 16000), 16000))

	is.Equal(describe(t, f.out.snapshot(), true), []string{
		"stt::今天天气怎么样",
		"tts:start:",
		"tts:sentence_start:你好。",
		"audio:2",
		"audio:0",
		"tts:sentence_end:你好。",
		"tts:sentence_start:今天天气不错！",
		"audio:2",
		"audio:0",
		"tts:sentence_end:今天天气不错！",
		"tts:stop:",
	})

	// LLM 收到的历史以 system 开头，以本轮用户发言结尾
	is.Equal(len(responder.history), 1)
	is.Equal(responder.history[0], []model.Dialogue{
		{Role: model.RoleSystem, Content: "system"},
		{Role: model.RoleUser, Content: "今天天气怎么样"},
	})
	is.Equal(f.conversation.Len(), 3)

	is.Equal(len(f.turns.turns), 1)
	is.Equal(f.turns.turns[0].DeviceID, "dev-1")
	is.Equal(f.turns.turns[0].UserText, "今天天气怎么样")
	is.Equal(f.turns.turns[0].AssistantText, "你好。今天天气不错！")
}

func TestPipelineProcessFailures(t *testing.T) {
	tests := []struct {
		name       string
		asr        fakeTranscriber
		responder  *fakeResponder
		wantEvents []string
		wantErr    bool
		wantLen    int
	}{
		{
			name:       "empty transcript",
			asr:        fakeTranscriber{text: "   "},
			responder:  &fakeResponder{reply: "不该调用"},
			wantEvents: nil,
			wantLen:    1,
		},
		{
			name:       "asr error",
			asr:        fakeTranscriber{err: errors.New("asr down")},
			responder:  &fakeResponder{reply: "不该调用"},
			wantEvents: []string{"tts:error:"},
			wantErr:    true,
			wantLen:    1,
		},
		{
			name:       "llm error",
			asr:        fakeTranscriber{text: "你好"},
			responder:  &fakeResponder{err: errors.New("llm down")},
			wantEvents: []string{"stt::你好", "tts:start:", "tts:error:", "tts:stop:"},
			wantErr:    true,
			wantLen:    1, // 用户发言已撤回
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			f := newPipelineFixture(context.Background(), tt.asr, tt.responder, fakeSynth{frames: 1})
			err := f.pipeline.Process(context.Background(), make([]float32, 16000), 16000)
			is.Equal(err != nil, tt.wantErr)
			is.Equal(describe(t, f.out.snapshot(), true), tt.wantEvents)
			is.Equal(f.conversation.Len(), tt.wantLen)
			is.Equal(len(f.turns.turns), 0)
		})
	}
}

func TestPipelineContinuesAfterSentenceFailure(t *testing.T) {
	is := is.New(t)

	responder := &fakeResponder{reply: "第一句。第二句。"}
	synth := fakeSynth{frames: 1, fail: map[string]bool{"第一句。": true}}
	f := newPipelineFixture(context.Background(), fakeTranscriber{text: "说两句"}, responder, synth)

	is.NoErr(f.pipeline.Process(context.Background(), make([]float32, 16000), 16000))
	is.Equal(describe(t, f.out.snapshot(), true), []string{
		"stt::说两句",
		"tts:start:",
		"tts:sentence_start:第一句。",
		"tts:error:",
		"tts:sentence_end:第一句。",
		"tts:sentence_start:第二句。",
		"audio:2",
		"audio:0",
		"tts:sentence_end:第二句。",
		"tts:stop:",
	})
}

func TestPipelineStreamsOversizedFrame(t *testing.T) {
	is := is.New(t)

	f := newPipelineFixture(context.Background(), fakeTranscriber{text: "hi"}, &fakeResponder{reply: "One. Two."}, bigSynth{size: 200000})

	is.NoErr(f.pipeline.Process(context.Background(), make([]float32, 16000), 16000))
	is.Equal(describe(t, f.out.snapshot(), true), []string{
		"stt::hi",
		"tts:start:",
		"tts:sentence_start:One.",
		"raw:200000",
		"audio:0",
		"tts:sentence_end:One.",
		"tts:sentence_start:Two.",
		"raw:200000",
		"audio:0",
		"tts:sentence_end:Two.",
		"tts:stop:",
	})
}

func TestPipelineStopsAfterSendFailure(t *testing.T) {
	is := is.New(t)

	f := newPipelineFixture(context.Background(), fakeTranscriber{text: "hi"}, &fakeResponder{reply: "One. Two."}, fakeSynth{frames: 1})
	f.out.failBinary = errors.New("send failed")

	err := f.pipeline.Process(context.Background(), make([]float32, 16000), 16000)
	is.True(err != nil)
	is.Equal(describe(t, f.out.snapshot(), true), []string{
		"stt::hi",
		"tts:start:",
		"tts:sentence_start:One.",
		"tts:error:",
		"tts:stop:",
	})
}

func TestPipelineRunAndAbort(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	responder := &fakeResponder{block: true, started: make(chan struct{}, 1)}
	f := newPipelineFixture(ctx, fakeTranscriber{text: "讲个故事"}, responder, fakeSynth{frames: 1})
	go f.pipeline.Run()

	is.True(f.pipeline.Submit(make([]float32, 16000), 16000))
	select {
	case <-responder.started:
	case <-time.After(2 * time.Second):
		t.Fatal("responder never called")
	}

	// 排队中的任务在中止后不应再执行
	is.True(f.pipeline.Submit(make([]float32, 16000), 16000))

	start := time.Now()
	f.pipeline.Abort()
	is.True(time.Since(start) < abortWait)

	// 中止返回后当前任务已经退出，历史中没有残留的用户发言
	is.Equal(f.conversation.Len(), 1)
	is.Equal(describe(t, f.out.snapshot(), true), []string{"stt::讲个故事", "tts:start:"})

	time.Sleep(50 * time.Millisecond)
	responder.mu.Lock()
	calls := len(responder.history)
	responder.mu.Unlock()
	is.Equal(calls, 1)
}

func TestPipelineSubmitQueueFull(t *testing.T) {
	is := is.New(t)

	f := newPipelineFixture(context.Background(), fakeTranscriber{}, &fakeResponder{}, fakeSynth{})
	// 没有启动Run，队列不会被消费
	for i := 0; i < 4; i++ {
		is.True(f.pipeline.Submit(nil, 16000))
	}
	is.True(!f.pipeline.Submit(nil, 16000))

	f.pipeline.Abort()
	is.True(f.pipeline.Submit(nil, 16000))
}
