package udpwire

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	DigestLen   = md5.Size
	HeaderLen   = 4 + 4 + DigestLen + 1 // seq | total | digest | kind
	PayloadSize = 1400
	MaxFrameLen = HeaderLen + PayloadSize
)

type Kind uint8

const (
	KindRequest Kind = iota
	KindData
	KindNack
	KindInfo
	KindError
	KindAck
	KindBusy
)

var kindNames = [...]string{
	KindRequest: "REQUEST",
	KindData:    "DATA",
	KindNack:    "NACK",
	KindInfo:    "INFO",
	KindError:   "ERROR",
	KindAck:     "ACK",
	KindBusy:    "BUSY",
}

func (k Kind) Valid() bool { return k <= KindBusy }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
	return kindNames[k]
}

// carriesDigest reports whether frames of this kind put a digest on the wire.
// Every other kind zero-fills the field.
func (k Kind) carriesDigest() bool { return k == KindData || k == KindInfo }

var (
	ErrMalformedHeader = errors.New("malformed header")
	ErrBufferTooSmall  = errors.New("buffer too small")
)

// Digest is the MD5 of a segment (DATA) or of the whole file (INFO).
type Digest [DigestLen]byte

func ContentHash(b []byte) Digest { return md5.Sum(b) }

func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

type Header struct {
	Seq    uint32
	Total  uint32
	Digest Digest
	Kind   Kind
}

func (h *Header) Encode(dst []byte) (int, error) {
	if len(dst) < HeaderLen {
		return 0, ErrBufferTooSmall
	}
	binary.BigEndian.PutUint32(dst[0:4], h.Seq)
	binary.BigEndian.PutUint32(dst[4:8], h.Total)
	if h.Kind.carriesDigest() {
		copy(dst[8:8+DigestLen], h.Digest[:])
	} else {
		clear(dst[8 : 8+DigestLen])
	}
	dst[HeaderLen-1] = byte(h.Kind)
	return HeaderLen, nil
}

func (h *Header) Bytes() []byte {
	buf := make([]byte, HeaderLen)
	_, _ = h.Encode(buf)
	return buf
}

func (h *Header) Decode(src []byte) (int, error) {
	if len(src) < HeaderLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(src))
	}
	kind := Kind(src[HeaderLen-1])
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown kind %d", ErrMalformedHeader, uint8(kind))
	}
	h.Seq = binary.BigEndian.Uint32(src[0:4])
	h.Total = binary.BigEndian.Uint32(src[4:8])
	copy(h.Digest[:], src[8:8+DigestLen])
	h.Kind = kind
	return HeaderLen, nil
}

// Frame is one datagram: a fixed header followed by a kind specific payload.
type Frame struct {
	Header
	Payload []byte
}

func (f *Frame) Len() int { return HeaderLen + len(f.Payload) }

func (f *Frame) Encode(dst []byte) (int, error) {
	need := f.Len()
	if len(dst) < need {
		return 0, ErrBufferTooSmall
	}
	if _, err := f.Header.Encode(dst); err != nil {
		return 0, err
	}
	copy(dst[HeaderLen:need], f.Payload)
	return need, nil
}

func (f *Frame) Bytes() []byte {
	buf := make([]byte, f.Len())
	_, _ = f.Encode(buf)
	return buf
}

// Decode reads a frame from src. The payload aliases src.
func (f *Frame) Decode(src []byte) (int, error) {
	if _, err := f.Header.Decode(src); err != nil {
		return 0, err
	}
	f.Payload = src[HeaderLen:]
	return len(src), nil
}

func DecodeFrame(src []byte) (Frame, error) {
	var f Frame
	if _, err := f.Decode(src); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func PeekKind(src []byte) (Kind, bool) {
	if len(src) < HeaderLen {
		return 0, false
	}
	kind := Kind(src[HeaderLen-1])
	return kind, kind.Valid()
}

func NewRequest(filename string) Frame {
	return Frame{Header: Header{Kind: KindRequest}, Payload: RequestPayload(filename)}
}

func NewInfo(total uint32, fileDigest Digest) Frame {
	return Frame{Header: Header{Seq: 0, Total: total, Digest: fileDigest, Kind: KindInfo}}
}

func NewData(seq, total uint32, digest Digest, payload []byte) Frame {
	return Frame{Header: Header{Seq: seq, Total: total, Digest: digest, Kind: KindData}, Payload: payload}
}

func NewNack(seqs []uint32) Frame {
	return Frame{Header: Header{Kind: KindNack}, Payload: EncodeNack(seqs)}
}

func NewAck() Frame {
	return Frame{Header: Header{Kind: KindAck}}
}

func NewError(msg string) Frame {
	return Frame{Header: Header{Kind: KindError}, Payload: []byte(msg)}
}

func NewBusy(msg string) Frame {
	return Frame{Header: Header{Kind: KindBusy}, Payload: []byte(msg)}
}
