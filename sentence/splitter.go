package sentence

import (
	"strings"
	"unicode/utf8"
)

// PauseSplitBytes 当前句子达到该字节长度后，遇到逗号、分号也切分
const PauseSplitBytes = 45

// 字符分类表，包初始化时构建一次
var (
	endMarks = runeSet('。', '！', '？', '.', '!', '?', '…')
	// 收尾引号和括号
	quoteMarks = runeSet('”', '’', '」', '』', '》', '】', '）', ')', '"', '\'')
	pauseMarks = runeSet('，', '；', '、', ',', ';')
)

func runeSet(runes ...rune) map[rune]struct{} {
	set := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		set[r] = struct{}{}
	}
	return set
}

func isEnd(r rune) bool {
	_, ok := endMarks[r]
	return ok
}

func isQuote(r rune) bool {
	_, ok := quoteMarks[r]
	return ok
}

func isPause(r rune) bool {
	_, ok := pauseMarks[r]
	return ok
}

// peek 返回位置i处的字符，越界或非法编码时返回 utf8.RuneError
func peek(text string, i int) rune {
	if i >= len(text) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return r
}

// Split 将回复文本切分为可以逐句合成的句子
// 句末标点后切分，但紧跟收尾引号时把引号留在本句；连续的句末标点（如“？！”、“...”）不拆开。
// 句子长度达到 PauseSplitBytes 后遇到逗号、分号也切分。结果去掉首尾空白，空句被丢弃。
// 非法的UTF-8字节逐字节跳过。
func Split(text string) []string {
	var (
		sentences []string
		current   strings.Builder
		closing   bool // 句末标点之后正在吸收收尾引号
	)

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
		closing = false
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size <= 1 {
			i++
			continue
		}
		current.WriteString(text[i : i+size])
		i += size
		next := peek(text, i)

		switch {
		case isEnd(r):
			if isQuote(next) {
				closing = true
			} else if !isEnd(next) {
				flush()
			}
		case closing && isQuote(r):
			if !isQuote(next) {
				flush()
			}
		case isPause(r) && current.Len() >= PauseSplitBytes:
			flush()
		}
	}
	flush()

	return sentences
}
