package udpwire

import (
	"slices"
	"strconv"
	"strings"
)

// SeqRange is an inclusive run of sequence numbers.
type SeqRange struct {
	Start uint32
	End   uint32
}

// CompressRanges folds seqs into ascending inclusive runs. Duplicates collapse.
func CompressRanges(seqs []uint32) []SeqRange {
	if len(seqs) == 0 {
		return nil
	}
	sorted := slices.Clone(seqs)
	slices.Sort(sorted)

	ranges := make([]SeqRange, 0, 4)
	cur := SeqRange{Start: sorted[0], End: sorted[0]}
	for _, seq := range sorted[1:] {
		switch {
		case seq == cur.End:
		case seq == cur.End+1:
			cur.End = seq
		default:
			ranges = append(ranges, cur)
			cur = SeqRange{Start: seq, End: seq}
		}
	}
	return append(ranges, cur)
}

// DescribeRanges renders seqs compactly for logs, e.g. "1-3,7".
func DescribeRanges(seqs []uint32) string {
	ranges := CompressRanges(seqs)
	if len(ranges) == 0 {
		return ""
	}
	var b strings.Builder
	for i, rng := range ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(rng.Start), 10))
		if rng.End != rng.Start {
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(rng.End), 10))
		}
	}
	return b.String()
}
