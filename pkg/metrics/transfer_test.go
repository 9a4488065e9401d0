package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewTransferCollector("")
	c.ObserveSend(1400, false)
	c.ObserveSend(1400, false)
	c.ObserveSend(1400, true)
	c.ObserveReceive(25)
	c.ObserveNackRound(2)
	c.ObserveCorrupt()
	c.ObserveNoise()
	c.SetQueueDepth(3)
	c.ObserveSession(OutcomeCompleted)
	c.ObserveSession(OutcomeCompleted)
	c.ObserveSession(OutcomeExpired)

	s := c.Snapshot()
	if s.FramesSent != 3 || s.BytesSent != 2800 || s.BytesRetransmit != 1400 {
		t.Fatalf("send accounting wrong: %+v", s)
	}
	if s.Retransmissions != 1 || s.NackRounds != 1 || s.NackedSegments != 2 {
		t.Fatalf("nack accounting wrong: %+v", s)
	}
	if s.CorruptSegments != 1 || s.NoiseFrames != 1 || s.QueueDepth != 3 {
		t.Fatalf("discard accounting wrong: %+v", s)
	}
	if s.Outcomes[OutcomeCompleted] != 2 || s.Outcomes[OutcomeExpired] != 1 {
		t.Fatalf("outcomes wrong: %v", s.Outcomes)
	}
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *TransferCollector
	c.ObserveSend(10, false)
	c.ObserveSession(OutcomeFailed)
	if s := c.Snapshot(); s.FramesSent != 0 {
		t.Fatalf("nil collector recorded data")
	}
}

func TestRegistryGather(t *testing.T) {
	c := NewTransferCollector("blast_test")
	c.ObserveSession(OutcomeCompleted)
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "blast_test_transfer_sessions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sessions_total not registered")
	}
}

func TestServeListener(t *testing.T) {
	c := NewTransferCollector("")
	c.ObserveSend(100, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, c.Registry()) }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "blast_transfer_frames_sent_total 1") {
		t.Fatalf("frames_sent_total missing from exposition:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
