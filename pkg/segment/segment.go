// Package segment splits file contents into fixed-size segments for the wire
// and reassembles them on the receiving side.
package segment

import (
	"errors"
	"fmt"

	"github.com/jgoldverg/blast/pkg/udpwire"
)

var ErrOutOfRange = errors.New("segment out of range")

// Count returns ceil(size/segSize). An empty file has no segments.
func Count(size int64, segSize int) uint32 {
	if size <= 0 || segSize <= 0 {
		return 0
	}
	return uint32((size + int64(segSize) - 1) / int64(segSize)) // ceil div
}

// Store holds a file's bytes with the per-segment digests computed up front so
// retransmissions reuse them.
type Store struct {
	data       []byte
	segSize    int
	total      uint32
	digests    []udpwire.Digest
	fileDigest udpwire.Digest
}

func Split(data []byte, segSize int) *Store {
	if segSize <= 0 {
		segSize = udpwire.PayloadSize
	}
	s := &Store{
		data:       data,
		segSize:    segSize,
		total:      Count(int64(len(data)), segSize),
		fileDigest: udpwire.ContentHash(data),
	}
	s.digests = make([]udpwire.Digest, s.total)
	for seq := uint32(0); seq < s.total; seq++ {
		start, end := s.bounds(seq)
		s.digests[seq] = udpwire.ContentHash(data[start:end])
	}
	return s
}

func (s *Store) Total() uint32              { return s.total }
func (s *Store) Size() int                  { return len(s.data) }
func (s *Store) SegmentSize() int           { return s.segSize }
func (s *Store) FileDigest() udpwire.Digest { return s.fileDigest }
func (s *Store) InRange(seq uint32) bool    { return seq < s.total }

func (s *Store) bounds(seq uint32) (int, int) {
	start := int(seq) * s.segSize
	end := start + s.segSize
	if end > len(s.data) {
		end = len(s.data)
	}
	return start, end
}

// Segment returns the bytes of segment seq. The slice aliases the store.
func (s *Store) Segment(seq uint32) ([]byte, error) {
	if !s.InRange(seq) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, seq, s.total)
	}
	start, end := s.bounds(seq)
	return s.data[start:end], nil
}

func (s *Store) Digest(seq uint32) (udpwire.Digest, error) {
	if !s.InRange(seq) {
		return udpwire.Digest{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, seq, s.total)
	}
	return s.digests[seq], nil
}

// Frame builds the DATA frame for seq.
func (s *Store) Frame(seq uint32) (udpwire.Frame, error) {
	payload, err := s.Segment(seq)
	if err != nil {
		return udpwire.Frame{}, err
	}
	return udpwire.NewData(seq, s.total, s.digests[seq], payload), nil
}

// Reassemble concatenates slots in index order.
func Reassemble(slots [][]byte) []byte {
	size := 0
	for _, slot := range slots {
		size += len(slot)
	}
	out := make([]byte, 0, size)
	for _, slot := range slots {
		out = append(out, slot...)
	}
	return out
}
