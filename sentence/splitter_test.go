package sentence

import (
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "ascii sentences",
			in:   "Hello, world. This is great!",
			want: []string{"Hello, world.", "This is great!"},
		},
		{
			name: "closing quote stays attached",
			in:   `He said "Stop." Then left.`,
			want: []string{`He said "Stop."`, "Then left."},
		},
		{
			name: "full width marks",
			in:   "你好。今天天气怎么样？很好！",
			want: []string{"你好。", "今天天气怎么样？", "很好！"},
		},
		{
			name: "chinese closing quote",
			in:   "他说：“走吧。”然后离开了。",
			want: []string{"他说：“走吧。”", "然后离开了。"},
		},
		{
			name: "corner bracket quote",
			in:   "「好。」嗯",
			want: []string{"「好。」", "嗯"},
		},
		{
			name: "repeated end marks",
			in:   "真的吗？！是的...",
			want: []string{"真的吗？！", "是的..."},
		},
		{
			name: "no terminator",
			in:   "  just words  ",
			want: []string{"just words"},
		},
		{
			name: "empty",
			in:   "",
			want: nil,
		},
		{
			name: "whitespace only",
			in:   " \n\t ",
			want: nil,
		},
		{
			name: "short clause is not split at comma",
			in:   "首先，我们出发。",
			want: []string{"首先，我们出发。"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(Split(tt.in), tt.want)
		})
	}
}

func TestSplitLongClauseAtPause(t *testing.T) {
	is := is.New(t)

	clause := strings.Repeat("长", 15) // 45 bytes
	got := Split(clause + "，后半句。")
	is.Equal(got, []string{clause + "，", "后半句。"})

	// the threshold counts bytes, a 44-byte clause keeps going
	short := strings.Repeat("a", 43)
	got = Split(short + ", tail.")
	is.Equal(got, []string{short + ", tail."})
}

func TestSplitSkipsInvalidBytes(t *testing.T) {
	is := is.New(t)

	got := Split("abc\xffdef. gh\xe4i")
	is.Equal(got, []string{"abcdef.", "ghi"})
}

func TestSplitReconstructsInput(t *testing.T) {
	is := is.New(t)

	in := "第一句。第二句，比较长一点的内容在这里继续延伸下去直到超过限制，然后结束！最后一句?"
	got := Split(in)
	is.Equal(strings.Join(got, ""), in)
	for _, s := range got {
		is.True(s != "")
	}
}
