package codec

import (
	"bytes"
	"errors"
	"testing"
)

type pingMsg struct {
	N int `json:"n"`
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		tag Tag
		val pingMsg
	}{
		{tag: 1, val: pingMsg{N: 0}},
		{tag: 7, val: pingMsg{N: 42}},
		{tag: 255, val: pingMsg{N: -1}},
	}
	for _, c := range cases {
		buf := &bytes.Buffer{}
		if err := WriteFrame(buf, c.tag, c.val); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		msg, err := ReadFrame(buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if msg.Tag != c.tag {
			t.Fatalf("got tag %v, want %v", msg.Tag, c.tag)
		}
		var got pingMsg
		if err := Unmarshal(msg, &got); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if got != c.val {
			t.Fatalf("got %v, want %v", got, c.val)
		}
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 1, 0, 0, 0, 'x'})
	_, err := ReadFrame(buf)
	if !errors.Is(err, ErrBadFrame) {
		t.Fatalf("got %v, want ErrBadFrame", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteFrame(buf, 1, pingMsg{N: 1}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewBuffer(buf.Bytes()[:6])
	_, err := ReadFrame(truncated)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

func TestUnmarshalDecodeError(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteFrame(buf, 1, pingMsg{N: 1}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	msg, err := ReadFrame(buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var wrongShape []int
	if err := Unmarshal(msg, &wrongShape); !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
}
