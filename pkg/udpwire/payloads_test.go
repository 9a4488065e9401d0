package udpwire

import (
	"errors"
	"slices"
	"testing"
)

func TestRequestPayloadRoundTrip(t *testing.T) {
	payload := RequestPayload("report.pdf")
	if string(payload) != "GET /report.pdf" {
		t.Fatalf("unexpected payload %q", payload)
	}
	name, err := ParseRequest(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if name != "report.pdf" {
		t.Fatalf("name mismatch: got %q", name)
	}
}

func TestParseRequestVariants(t *testing.T) {
	cases := map[string]string{
		"GET /a.txt":       "a.txt",
		"GET /dir/b.bin\n": "dir/b.bin",
		"plain.txt":        "plain.txt",
		"/rooted.txt":      "rooted.txt",
	}
	for in, want := range cases {
		got, err := ParseRequest([]byte(in))
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
	for _, in := range []string{"", "GET /", "   "} {
		if _, err := ParseRequest([]byte(in)); !errors.Is(err, ErrEmptyFilename) {
			t.Fatalf("%q: expected ErrEmptyFilename, got %v", in, err)
		}
	}
}

func TestIsBareRequest(t *testing.T) {
	if !IsBareRequest([]byte("GET /file.txt")) {
		t.Fatalf("expected bare request")
	}
	frame := NewRequest("file.txt")
	if IsBareRequest(frame.Bytes()) {
		t.Fatalf("framed request misdetected as bare")
	}
}

func TestNackRoundTrip(t *testing.T) {
	seqs := []uint32{1, 3, 150, 4294967295}
	payload := EncodeNack(seqs)
	if string(payload) != "1,3,150,4294967295" {
		t.Fatalf("unexpected payload %q", payload)
	}
	got, err := ParseNack(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !slices.Equal(got, seqs) {
		t.Fatalf("seqs mismatch: got %v want %v", got, seqs)
	}
}

func TestParseNackTolerance(t *testing.T) {
	got, err := ParseNack([]byte(" 4, ,9,"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !slices.Equal(got, []uint32{4, 9}) {
		t.Fatalf("got %v want [4 9]", got)
	}
	empty, err := ParseNack(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty payload: got %v, %v", empty, err)
	}
	for _, bad := range []string{"1,x", "-1", "4294967296"} {
		if _, err := ParseNack([]byte(bad)); !errors.Is(err, ErrMalformedNack) {
			t.Fatalf("%q: expected ErrMalformedNack, got %v", bad, err)
		}
	}
}

func TestDescribeRanges(t *testing.T) {
	if got := DescribeRanges([]uint32{7, 1, 2, 3, 3, 9, 10}); got != "1-3,7,9-10" {
		t.Fatalf("got %q", got)
	}
	if got := DescribeRanges(nil); got != "" {
		t.Fatalf("got %q want empty", got)
	}
}
