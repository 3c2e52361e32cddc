package speech

import (
	"errors"
	"testing"

	"voice-gateway/model"

	"github.com/matryer/is"
)

const chunkSize = 960 // 60ms at 16kHz, three 20ms sub-frames

// levelVAD treats a sub-frame as voiced when its first sample is at least 0.5.
type levelVAD struct{}

func (levelVAD) IsSpeech(frame []float32) (bool, error) {
	if len(frame) != 320 {
		return false, errors.New("bad frame length")
	}
	return frame[0] >= 0.5, nil
}

type failingVAD struct{}

func (failingVAD) IsSpeech([]float32) (bool, error) { return false, errors.New("classifier down") }

func chunk(level float32) []float32 {
	c := make([]float32, chunkSize)
	for i := range c {
		c[i] = level
	}
	return c
}

func feed(t *testing.T, s *Segmenter, mode model.ResponseMode, state model.ClientState, levels ...float32) Result {
	t.Helper()
	var res Result
	for _, l := range levels {
		var err error
		res, err = s.Process(chunk(l), mode, state)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	return res
}

func repeat(level float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestChunkClassifierRatio(t *testing.T) {
	is := is.New(t)
	c := NewChunkClassifier(levelVAD{}, 16000, 0)

	// one voiced sub-frame out of three is 0.33, above 0.30
	pcm := make([]float32, chunkSize)
	pcm[0] = 1
	voiced, classified, err := c.Classify(pcm)
	is.NoErr(err)
	is.True(classified)
	is.True(voiced)

	// one of four is 0.25
	pcm = make([]float32, 4*320)
	pcm[0] = 1
	voiced, _, err = c.Classify(pcm)
	is.NoErr(err)
	is.True(!voiced)

	// shorter than a sub-frame is not classified
	_, classified, err = c.Classify(make([]float32, 319))
	is.NoErr(err)
	is.True(!classified)
}

func TestPreBufferCommittedOnSpeechStart(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeAuto, model.StateIdle, 0.1, 0.2, 0.3)
	is.Equal(s.PreBuffered(), 3)
	is.Equal(s.Buffered(), 0)

	res := feed(t, s, model.ModeAuto, model.StateIdle, 0.6, 0.7, 0.8, 0.9)
	is.Equal(res.Transition, TransitionNone)
	is.Equal(s.Buffered(), 0)

	res = feed(t, s, model.ModeAuto, model.StateIdle, 1.0)
	is.Equal(res.Transition, TransitionSpeechStart)
	is.True(s.Speaking())
	is.Equal(s.PreBuffered(), 0)

	// the three most recent pre-buffered chunks lead, followed by the triggering chunk
	samples := s.Samples()
	is.Equal(len(samples), 4*chunkSize)
	is.Equal(samples[0], float32(0.7))
	is.Equal(samples[chunkSize], float32(0.8))
	is.Equal(samples[2*chunkSize], float32(0.9))
	is.Equal(samples[3*chunkSize], float32(1.0))
}

func TestAutoUtteranceFlush(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeAuto, model.StateIdle, repeat(1, 12)...)
	res := feed(t, s, model.ModeAuto, model.StateIdle, repeat(0, 7)...)
	is.True(!res.FlushReady) // seven silent chunks keep speaking

	res = feed(t, s, model.ModeAuto, model.StateIdle, 0)
	is.Equal(res.Transition, TransitionSpeechEnd)
	is.True(res.FlushReady)

	// 3 pre-buffered + 8 voiced while speaking + 7 silent while speaking
	utterance, ok := s.TakeUtterance(model.ModeAuto)
	is.True(ok)
	is.Equal(len(utterance), 18*chunkSize)
	is.True(!s.FlushReady())
	is.Equal(s.Buffered(), 0)
	is.Equal(s.PreBuffered(), 0)
}

func TestMinimumDurationGate(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeAuto, model.StateIdle, repeat(1, 5)...)
	res := feed(t, s, model.ModeAuto, model.StateIdle, repeat(0, 8)...)
	is.True(res.FlushReady)
	is.True(s.Buffered() < s.MinSamples())

	utterance, ok := s.TakeUtterance(model.ModeAuto)
	is.True(!ok)
	is.True(utterance == nil)
	is.True(!s.FlushReady())
	is.Equal(s.Buffered(), 0) // fragment discarded
}

func TestTakeUtteranceWithoutFlushReady(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeAuto, model.StateIdle, repeat(1, 30)...)
	_, ok := s.TakeUtterance(model.ModeAuto)
	is.True(!ok)
	is.True(s.Buffered() > 0)
}

func TestAutoBufferOverflowSetsFlushReady(t *testing.T) {
	is := is.New(t)
	cfg := DefaultConfig()
	cfg.MaxBufferSeconds = 1
	s := NewSegmenter(cfg, levelVAD{})

	// start: 3 committed + 1 appended, then 12 more fit into 16000 samples
	res := feed(t, s, model.ModeAuto, model.StateIdle, repeat(1, 17)...)
	is.True(!res.BufferFull)
	is.Equal(s.Buffered(), 16*chunkSize)

	res = feed(t, s, model.ModeAuto, model.StateIdle, 1)
	is.True(res.BufferFull)
	is.True(!res.Appended)
	is.True(res.FlushReady)
	is.Equal(s.Buffered(), 16*chunkSize)
}

func TestManualModeAppendsOnlyWhileListening(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeManual, model.StateIdle, repeat(1, 3)...)
	is.Equal(s.Buffered(), 0)

	feed(t, s, model.ModeManual, model.StateListening, repeat(1, 10)...)
	res := feed(t, s, model.ModeManual, model.StateListening, repeat(0, 10)...)
	is.Equal(s.Buffered(), 20*chunkSize)
	is.True(!res.FlushReady) // VAD never triggers a flush in manual mode

	s.RequestFlush()
	utterance, ok := s.TakeUtterance(model.ModeManual)
	is.True(ok)
	is.Equal(len(utterance), 20*chunkSize)
}

func TestRealTimeFlushesEveryChunk(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	res := feed(t, s, model.ModeRealTime, model.StateIdle, 0)
	is.True(res.Appended)
	is.True(res.FlushReady)

	// below one second the flag clears but real-time audio keeps accumulating
	_, ok := s.TakeUtterance(model.ModeRealTime)
	is.True(!ok)
	is.True(!s.FlushReady())
	is.Equal(s.Buffered(), chunkSize)

	for i := 0; i < 16; i++ {
		feed(t, s, model.ModeRealTime, model.StateIdle, 0)
		if i < 15 {
			_, ok = s.TakeUtterance(model.ModeRealTime)
			is.True(!ok)
		}
	}
	utterance, ok := s.TakeUtterance(model.ModeRealTime)
	is.True(ok)
	is.Equal(len(utterance), 17*chunkSize)
}

func TestSegmenterSizes(t *testing.T) {
	is := is.New(t)

	cfg := DefaultConfig()
	cfg.SampleRate = 8000
	s := NewSegmenter(cfg, levelVAD{})
	is.Equal(s.Capacity(), 8000*cfg.MaxBufferSeconds)
	is.Equal(s.FrameSize(), 160)
	is.Equal(s.MinSamples(), 8000)
}

func TestShortChunkIsNotClassified(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	res, err := s.Process(make([]float32, 100), model.ModeAuto, model.StateIdle)
	is.NoErr(err)
	is.True(!res.Classified)
	speech, silence := s.Counters()
	is.Equal(speech+silence, 0)
}

func TestClassificationErrorLeavesStateUntouched(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), failingVAD{})

	_, err := s.Process(chunk(1), model.ModeRealTime, model.StateIdle)
	is.True(err != nil)
	is.Equal(s.Buffered(), 0)
	is.True(!s.FlushReady())
}

func TestReset(t *testing.T) {
	is := is.New(t)
	s := NewSegmenter(DefaultConfig(), levelVAD{})

	feed(t, s, model.ModeAuto, model.StateIdle, repeat(1, 8)...)
	s.RequestFlush()
	s.Reset()

	is.True(!s.Speaking())
	is.True(!s.FlushReady())
	is.Equal(s.Buffered(), 0)
	is.Equal(s.PreBuffered(), 0)
}
