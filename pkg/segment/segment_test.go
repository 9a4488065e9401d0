package segment

import (
	"bytes"
	"crypto/rand"
	"errors"
	"slices"
	"testing"

	"github.com/jgoldverg/blast/pkg/udpwire"
)

func TestCount(t *testing.T) {
	cases := []struct {
		size int64
		want uint32
	}{
		{0, 0},
		{1, 1},
		{1400, 1},
		{1401, 2},
		{4200, 3},
		{4201, 4},
	}
	for _, tc := range cases {
		if got := Count(tc.size, udpwire.PayloadSize); got != tc.want {
			t.Fatalf("Count(%d): got %d want %d", tc.size, got, tc.want)
		}
	}
}

func TestSplitBoundaries(t *testing.T) {
	data := make([]byte, 4201)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	s := Split(data, udpwire.PayloadSize)
	if s.Total() != 4 {
		t.Fatalf("total mismatch: got %d want 4", s.Total())
	}

	last, err := s.Segment(3)
	if err != nil {
		t.Fatalf("segment 3: %v", err)
	}
	if len(last) != 1 || last[0] != data[4200] {
		t.Fatalf("last segment should hold only the final byte, got %d bytes", len(last))
	}

	for seq := uint32(0); seq < s.Total(); seq++ {
		seg, _ := s.Segment(seq)
		digest, err := s.Digest(seq)
		if err != nil {
			t.Fatalf("digest %d: %v", seq, err)
		}
		if digest != udpwire.ContentHash(seg) {
			t.Fatalf("digest %d does not match segment bytes", seq)
		}
	}
	if s.FileDigest() != udpwire.ContentHash(data) {
		t.Fatalf("file digest mismatch")
	}
}

func TestSegmentOutOfRange(t *testing.T) {
	s := Split([]byte("abc"), udpwire.PayloadSize)
	if _, err := s.Segment(1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := s.Digest(5); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestEmptyFile(t *testing.T) {
	s := Split(nil, udpwire.PayloadSize)
	if s.Total() != 0 {
		t.Fatalf("empty file should have no segments, got %d", s.Total())
	}
	if s.FileDigest() != udpwire.ContentHash(nil) {
		t.Fatalf("empty file digest mismatch")
	}
	b := NewBuffer(0)
	if !b.Complete() || len(b.Bytes()) != 0 {
		t.Fatalf("empty buffer should be complete and empty")
	}
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)
	s := Split(data, udpwire.PayloadSize)

	slots := make([][]byte, s.Total())
	for seq := range slots {
		seg, err := s.Segment(uint32(seq))
		if err != nil {
			t.Fatalf("segment %d: %v", seq, err)
		}
		slots[seq] = seg
	}
	if !bytes.Equal(Reassemble(slots), data) {
		t.Fatalf("reassembled bytes differ from source")
	}
}

func TestBufferPutIsIdempotent(t *testing.T) {
	b := NewBuffer(3)
	if !b.Put(1, []byte("one")) {
		t.Fatalf("first put should store")
	}
	if b.Put(1, []byte("uno")) {
		t.Fatalf("duplicate put should be ignored")
	}
	if b.Put(3, []byte("out")) {
		t.Fatalf("out of range put should be ignored")
	}
	if b.Received() != 1 {
		t.Fatalf("received mismatch: got %d want 1", b.Received())
	}
	if got := b.Missing(); !slices.Equal(got, []uint32{0, 2}) {
		t.Fatalf("missing mismatch: got %v", got)
	}

	b.Put(0, []byte("zero-"))
	b.Put(2, []byte("-two"))
	if !b.Complete() {
		t.Fatalf("buffer should be complete")
	}
	if string(b.Bytes()) != "zero-one-two" {
		t.Fatalf("unexpected bytes %q", b.Bytes())
	}
}

func TestBufferCopiesPayload(t *testing.T) {
	b := NewBuffer(1)
	payload := []byte("abc")
	b.Put(0, payload)
	payload[0] = 'z'
	if string(b.Bytes()) != "abc" {
		t.Fatalf("buffer aliases caller payload")
	}
}
