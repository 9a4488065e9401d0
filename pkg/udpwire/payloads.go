package udpwire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const requestPrefix = "GET /"

var (
	ErrEmptyFilename = errors.New("request names no file")
	ErrMalformedNack = errors.New("malformed nack payload")
)

// RequestPayload renders the REQUEST payload for filename.
func RequestPayload(filename string) []byte {
	return []byte(requestPrefix + strings.TrimPrefix(filename, "/"))
}

// ParseRequest extracts the filename from a REQUEST payload. A payload without
// the "GET /" prefix is taken as a bare filename.
func ParseRequest(payload []byte) (string, error) {
	text := strings.TrimSpace(string(payload))
	if rest, ok := strings.CutPrefix(text, "GET "); ok {
		text = strings.TrimSpace(rest)
	}
	name := strings.TrimPrefix(text, "/")
	if name == "" {
		return "", ErrEmptyFilename
	}
	return name, nil
}

// IsBareRequest reports whether a datagram is a headerless "GET /name" text
// request as sent by older requesters.
func IsBareRequest(src []byte) bool {
	return bytes.HasPrefix(src, []byte(requestPrefix))
}

// EncodeNack renders seqs as comma separated decimals in the order given.
func EncodeNack(seqs []uint32) []byte {
	buf := make([]byte, 0, len(seqs)*5)
	for i, seq := range seqs {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(seq), 10)
	}
	return buf
}

func ParseNack(payload []byte) ([]uint32, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	seqs := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedNack, part)
		}
		seqs = append(seqs, uint32(v))
	}
	return seqs, nil
}
