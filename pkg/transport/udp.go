package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/jgoldverg/blast/internal"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

const maxDatagram = 64 * 1024

type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// DSCP marks outgoing IPv4 datagrams when > 0.
	DSCP int
}

// UDP is a Transport over a net.PacketConn.
type UDP struct {
	pc  net.PacketConn
	buf []byte
}

func NewUDP(pc net.PacketConn) *UDP {
	return &UDP{
		pc:  pc,
		buf: make([]byte, maxDatagram),
	}
}

// Listen binds addr with SO_REUSEADDR set so a restarted responder can rebind
// its port immediately.
func Listen(ctx context.Context, addr string, opts Options) (*UDP, error) {
	return listen(ctx, "udp", addr, opts)
}

// Dial opens an ephemeral local socket for talking to server and resolves the
// server address. The socket is not connected so replies from any port reach it.
func Dial(ctx context.Context, server string, opts Options) (*UDP, *net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %s: %w", server, err)
	}
	network := "udp6"
	local := "[::]:0"
	if raddr.IP == nil || raddr.IP.To4() != nil {
		network = "udp4"
		local = "0.0.0.0:0"
	}
	u, err := listen(ctx, network, local, opts)
	if err != nil {
		return nil, nil, err
	}
	return u, raddr, nil
}

func listen(ctx context.Context, network, addr string, opts Options) (*UDP, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
		},
	}
	pc, err := lc.ListenPacket(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	applyOptions(pc, opts)
	return NewUDP(pc), nil
}

func applyOptions(pc net.PacketConn, opts Options) {
	if uc, ok := pc.(*net.UDPConn); ok {
		if opts.ReadBufferSize > 0 {
			if err := uc.SetReadBuffer(opts.ReadBufferSize); err != nil {
				internal.Warn("failed to set udp read buffer", internal.Fields{
					internal.FieldError: err.Error(),
					"bytes":             opts.ReadBufferSize,
				})
			}
		}
		if opts.WriteBufferSize > 0 {
			if err := uc.SetWriteBuffer(opts.WriteBufferSize); err != nil {
				internal.Warn("failed to set udp write buffer", internal.Fields{
					internal.FieldError: err.Error(),
					"bytes":             opts.WriteBufferSize,
				})
			}
		}
	}
	if opts.DSCP > 0 {
		if err := ipv4.NewPacketConn(pc).SetTOS(opts.DSCP << 2); err != nil {
			internal.Debug("dscp marking unavailable", internal.Fields{
				internal.FieldError: err.Error(),
				"dscp":              opts.DSCP,
			})
		}
	}
}

func (u *UDP) Send(payload []byte, addr net.Addr) error {
	if _, err := u.pc.WriteTo(payload, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive copies the datagram out of the shared read buffer.
func (u *UDP) Receive(timeout time.Duration) (Datagram, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := u.pc.SetReadDeadline(deadline); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, err
	}

	n, addr, err := u.pc.ReadFrom(u.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Datagram{}, ErrTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}
		return Datagram{}, err
	}
	return Datagram{
		Payload: append([]byte(nil), u.buf[:n]...),
		Addr:    addr,
	}, nil
}

func (u *UDP) LocalAddr() net.Addr { return u.pc.LocalAddr() }

func (u *UDP) Close() error { return u.pc.Close() }
