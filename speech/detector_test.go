package speech

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

// runTrace feeds a V/U trace and returns the index of every transition.
func runTrace(d *Detector, trace string) map[int]Transition {
	got := map[int]Transition{}
	for i, c := range trace {
		if tr := d.Observe(c == 'V'); tr != TransitionNone {
			got[i] = tr
		}
	}
	return got
}

func TestDetectorHysteresis(t *testing.T) {
	tests := []struct {
		name  string
		trace string
		want  map[int]Transition
	}{
		{
			name:  "five voiced starts",
			trace: "VVVVV",
			want:  map[int]Transition{4: TransitionSpeechStart},
		},
		{
			name:  "four voiced is not enough",
			trace: "VVVV",
			want:  map[int]Transition{},
		},
		{
			name:  "unvoiced breaks the streak",
			trace: "VVVVUVVVVV",
			want:  map[int]Transition{9: TransitionSpeechStart},
		},
		{
			name:  "eight unvoiced ends",
			trace: "VVVVV" + strings.Repeat("U", 8),
			want:  map[int]Transition{4: TransitionSpeechStart, 12: TransitionSpeechEnd},
		},
		{
			name:  "voiced chunk resets silence run",
			trace: "VVVVV" + strings.Repeat("U", 7) + "V" + strings.Repeat("U", 8),
			want:  map[int]Transition{4: TransitionSpeechStart, 20: TransitionSpeechEnd},
		},
		{
			name:  "silence while idle never ends",
			trace: strings.Repeat("U", 20),
			want:  map[int]Transition{},
		},
		{
			name:  "long speech then restart",
			trace: strings.Repeat("V", 9) + strings.Repeat("U", 8) + strings.Repeat("V", 5),
			want:  map[int]Transition{4: TransitionSpeechStart, 16: TransitionSpeechEnd, 21: TransitionSpeechStart},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			d := NewDetector(DefaultSpeechThreshold, DefaultSilenceThreshold)
			is.Equal(runTrace(d, tt.trace), tt.want)
		})
	}
}

func TestDetectorCounters(t *testing.T) {
	is := is.New(t)

	d := NewDetector(0, 0) // defaults
	d.Observe(true)
	d.Observe(true)
	speech, silence := d.Counters()
	is.Equal(speech, 2)
	is.Equal(silence, 0)

	d.Observe(false)
	speech, silence = d.Counters()
	is.Equal(speech, 0)
	is.Equal(silence, 1)

	d.Reset()
	speech, silence = d.Counters()
	is.Equal(speech+silence, 0)
	is.True(!d.Speaking())
}
