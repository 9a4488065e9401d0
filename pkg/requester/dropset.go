package requester

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DropSet names segments to discard on first arrival, for exercising the
// retransmission path. Each segment is dropped at most once.
type DropSet map[uint32]struct{}

// ParseDropSet reads a comma separated list such as "1,3,5". An empty string
// or "none" yields an empty set.
func ParseDropSet(s string) (DropSet, error) {
	d := DropSet{}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return d, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid segment number %q", part)
		}
		d[uint32(v)] = struct{}{}
	}
	return d, nil
}

// Take reports whether seq should be dropped and forgets it.
func (d DropSet) Take(seq uint32) bool {
	if _, ok := d[seq]; !ok {
		return false
	}
	delete(d, seq)
	return true
}

func (d DropSet) Len() int { return len(d) }

func (d DropSet) Sorted() []uint32 {
	out := make([]uint32, 0, len(d))
	for seq := range d {
		out = append(out, seq)
	}
	slices.Sort(out)
	return out
}

func (d DropSet) String() string {
	seqs := d.Sorted()
	parts := make([]string, len(seqs))
	for i, seq := range seqs {
		parts[i] = strconv.FormatUint(uint64(seq), 10)
	}
	return strings.Join(parts, ",")
}
