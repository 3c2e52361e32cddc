package protocol

import (
	"bytes"
	"testing"

	"github.com/matryer/is"
)

func TestSplitSmallPayload(t *testing.T) {
	is := is.New(t)

	frags := Split([]byte("hello"), DefaultChunkLimit)
	is.Equal(len(frags), 1)
	is.True(!frags[0].Continuation)
	is.True(frags[0].Final)

	frags = Split(nil, DefaultChunkLimit)
	is.Equal(len(frags), 1) // empty payloads still produce one message
}

func TestSplitLargePayload(t *testing.T) {
	is := is.New(t)

	payload := make([]byte, 200000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	frags := Split(payload, DefaultChunkLimit)
	is.Equal(len(frags), 4) // 3 full chunks + remainder

	is.True(!frags[0].Continuation)
	for i, f := range frags {
		is.True(len(f.Data) <= DefaultChunkLimit)
		if i > 0 {
			is.True(f.Continuation)
		}
		is.Equal(f.Final, i == len(frags)-1)
	}

	out, err := Reassemble(frags)
	is.NoErr(err)
	is.True(bytes.Equal(out, payload))
}

func TestSplitExactLimit(t *testing.T) {
	is := is.New(t)

	frags := Split(make([]byte, 2*DefaultChunkLimit), DefaultChunkLimit)
	is.Equal(len(frags), 2)
	is.Equal(len(frags[1].Data), DefaultChunkLimit)
}

func TestReassembleRejectsBadOrder(t *testing.T) {
	is := is.New(t)

	_, err := Reassemble([]Fragment{{Continuation: true, Final: true, Data: []byte{1}}})
	is.True(err != nil)

	_, err = Reassemble([]Fragment{{Data: []byte{1}}, {Data: []byte{2}, Final: true}})
	is.True(err != nil)

	_, err = Reassemble([]Fragment{{Data: []byte{1}}})
	is.True(err != nil) // no final fragment
}
