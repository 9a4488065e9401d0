// Package transport moves whole datagrams between peers. Implementations poll
// with a timeout so callers can run timer driven state machines on a single
// goroutine.
package transport

import (
	"errors"
	"net"
	"time"
)

var (
	ErrTimeout = errors.New("receive timed out")
	ErrClosed  = errors.New("transport closed")
)

type Datagram struct {
	Payload []byte
	Addr    net.Addr
}

// Transport sends and receives datagrams. Receive blocks for at most timeout
// (forever when timeout <= 0) and returns ErrTimeout when nothing arrived.
// Implementations are not safe for concurrent Receive calls.
type Transport interface {
	Send(payload []byte, addr net.Addr) error
	Receive(timeout time.Duration) (Datagram, error)
	LocalAddr() net.Addr
	Close() error
}

// SameAddr compares UDP addresses by IP, port and zone and everything else by
// network and string form.
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.Zone == ub.Zone && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
