package ipc

import (
	"bytes"
	"testing"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

func TestWriteFrameReadFrame_RoundTrip(t *testing.T) {
	req := Request{Verb: VerbFlush, Paths: []string{"a.txt", "b.txt"}, N: 5}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Verb != req.Verb || got.N != req.N || len(got.Paths) != len(req.Paths) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestWriteFrameReadFrame_Response(t *testing.T) {
	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	resp := Response{
		OK:     true,
		Status: &StatusInfo{Running: true, HeadID: id, CheckpointCount: 3},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, resp); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got Response
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !got.OK || got.Status == nil || got.Status.HeadID != id {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{0xff, 0xff, 0xff, 0xff} // declares ~4GiB, over maxFrameSize
	buf.Write(header)

	var got Request
	if err := ReadFrame(&buf, &got); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Request{Verb: VerbStatus}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var got Request
	if err := ReadFrame(truncated, &got); err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
}
