package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestUDPLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	server, err := Listen(ctx, "127.0.0.1:0", Options{ReadBufferSize: 1 << 20})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer server.Close()

	client, raddr, err := Dial(ctx, server.LocalAddr().String(), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	payload := []byte("hello over udp")
	if err := client.Send(payload, raddr); err != nil {
		t.Fatalf("send: %v", err)
	}
	dg, err := server.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(dg.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", dg.Payload, payload)
	}

	if err := server.Send([]byte("reply"), dg.Addr); err != nil {
		t.Fatalf("reply send: %v", err)
	}
	back, err := client.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("reply receive: %v", err)
	}
	if !SameAddr(back.Addr, raddr) {
		t.Fatalf("reply from %v, want %v", back.Addr, raddr)
	}
}

func TestUDPReceiveTimeoutAndClose(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	u := NewUDP(pc)

	start := time.Now()
	if _, err := u.Receive(50 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("receive returned before the timeout")
	}

	u.Close()
	if _, err := u.Receive(50 * time.Millisecond); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestUDPReceiveCopiesPayload(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	u := NewUDP(pc)
	defer u.Close()

	sender, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen sender: %v", err)
	}
	defer sender.Close()

	sender.WriteTo([]byte("first"), u.LocalAddr())
	sender.WriteTo([]byte("second"), u.LocalAddr())

	a, err := u.Receive(time.Second)
	if err != nil {
		t.Fatalf("receive a: %v", err)
	}
	if _, err := u.Receive(time.Second); err != nil {
		t.Fatalf("receive b: %v", err)
	}
	if string(a.Payload) != "first" {
		t.Fatalf("first payload overwritten: %q", a.Payload)
	}
}

func TestMemNetworkDelivery(t *testing.T) {
	network := NewMemNetwork()
	a := network.Endpoint("a")
	b := network.Endpoint("b")
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("ping"), b.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}
	dg, err := b.Receive(time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(dg.Payload) != "ping" || !SameAddr(dg.Addr, a.LocalAddr()) {
		t.Fatalf("unexpected datagram %+v", dg)
	}

	if _, err := b.Receive(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMemNetworkFilterAndClose(t *testing.T) {
	network := NewMemNetwork()
	a := network.Endpoint("a")
	b := network.Endpoint("b")

	dropped := 0
	network.SetFilter(func(_, _ net.Addr, payload []byte) bool {
		if string(payload) == "drop" {
			dropped++
			return false
		}
		return true
	})
	a.Send([]byte("drop"), b.LocalAddr())
	a.Send([]byte("keep"), b.LocalAddr())

	dg, err := b.Receive(time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(dg.Payload) != "keep" || dropped != 1 {
		t.Fatalf("filter not applied: got %q dropped=%d", dg.Payload, dropped)
	}

	b.Close()
	if _, err := b.Receive(time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Send([]byte("late"), MemAddr("b")); err != nil {
		t.Fatalf("send to detached endpoint should be silent, got %v", err)
	}
}

func TestSameAddr(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	b := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	c := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	if !SameAddr(a, b) {
		t.Fatalf("expected %v == %v", a, b)
	}
	if SameAddr(a, c) {
		t.Fatalf("expected %v != %v", a, c)
	}
	if SameAddr(a, MemAddr("127.0.0.1:9000")) {
		t.Fatalf("different networks must not match")
	}
	if !SameAddr(nil, nil) || SameAddr(a, nil) {
		t.Fatalf("nil handling wrong")
	}
}
