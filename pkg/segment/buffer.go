package segment

// Buffer collects segments on the receiving side. It is not thread safe and
// is meant to be owned by a single requester.
type Buffer struct {
	slots    [][]byte
	present  []bool
	received int
}

func NewBuffer(total uint32) *Buffer {
	return &Buffer{
		slots:   make([][]byte, total),
		present: make([]bool, total),
	}
}

func (b *Buffer) Total() uint32 { return uint32(len(b.slots)) }

func (b *Buffer) Received() int { return b.received }

func (b *Buffer) Complete() bool { return b.received == len(b.slots) }

func (b *Buffer) Has(seq uint32) bool {
	return int(seq) < len(b.present) && b.present[seq]
}

// Put stores a copy of payload in slot seq. Only the first store of a slot
// counts; later duplicates and out-of-range seqs return false.
func (b *Buffer) Put(seq uint32, payload []byte) bool {
	if int(seq) >= len(b.slots) || b.present[seq] {
		return false
	}
	b.slots[seq] = append([]byte(nil), payload...)
	b.present[seq] = true
	b.received++
	return true
}

// Missing lists absent slots in ascending order.
func (b *Buffer) Missing() []uint32 {
	missing := make([]uint32, 0, len(b.slots)-b.received)
	for seq, ok := range b.present {
		if !ok {
			missing = append(missing, uint32(seq))
		}
	}
	return missing
}

func (b *Buffer) Bytes() []byte { return Reassemble(b.slots) }
