package transport

import (
	"net"
	"sync"
	"time"
)

const memInboxDepth = 8192

// MemAddr names an endpoint on a MemNetwork.
type MemAddr string

func (a MemAddr) Network() string { return "mem" }
func (a MemAddr) String() string  { return string(a) }

// Filter sees every datagram in flight and returns false to drop it.
type Filter func(from, to net.Addr, payload []byte) bool

// MemNetwork is an in-process datagram network. Datagrams to unknown
// endpoints or full inboxes vanish, as they would on a real network.
type MemNetwork struct {
	mu        sync.RWMutex
	endpoints map[MemAddr]*MemEndpoint
	filter    Filter
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{endpoints: make(map[MemAddr]*MemEndpoint)}
}

func (n *MemNetwork) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Endpoint attaches a new endpoint named name, replacing any previous one.
func (n *MemNetwork) Endpoint(name string) *MemEndpoint {
	ep := &MemEndpoint{
		network: n,
		addr:    MemAddr(name),
		inbox:   make(chan Datagram, memInboxDepth),
		closed:  make(chan struct{}),
	}
	n.mu.Lock()
	n.endpoints[ep.addr] = ep
	n.mu.Unlock()
	return ep
}

func (n *MemNetwork) deliver(from MemAddr, to net.Addr, payload []byte) {
	n.mu.RLock()
	dst := n.endpoints[MemAddr(to.String())]
	filter := n.filter
	n.mu.RUnlock()

	if dst == nil {
		return
	}
	if filter != nil && !filter(from, to, payload) {
		return
	}
	dg := Datagram{Payload: append([]byte(nil), payload...), Addr: from}
	select {
	case <-dst.closed:
	case dst.inbox <- dg:
	default:
	}
}

func (n *MemNetwork) detach(ep *MemEndpoint) {
	n.mu.Lock()
	if n.endpoints[ep.addr] == ep {
		delete(n.endpoints, ep.addr)
	}
	n.mu.Unlock()
}

type MemEndpoint struct {
	network *MemNetwork
	addr    MemAddr
	inbox   chan Datagram
	closed  chan struct{}
	once    sync.Once
}

func (e *MemEndpoint) Send(payload []byte, addr net.Addr) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	e.network.deliver(e.addr, addr, payload)
	return nil
}

func (e *MemEndpoint) Receive(timeout time.Duration) (Datagram, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case dg := <-e.inbox:
		return dg, nil
	case <-e.closed:
		return Datagram{}, ErrClosed
	case <-expired:
		return Datagram{}, ErrTimeout
	}
}

func (e *MemEndpoint) LocalAddr() net.Addr { return e.addr }

func (e *MemEndpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		e.network.detach(e)
	})
	return nil
}
