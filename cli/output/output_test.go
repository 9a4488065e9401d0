package output

import (
	"strings"
	"testing"
	"time"

	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/jgoldverg/blast/pkg/requester"
)

func TestFormatBytes(t *testing.T) {
	cases := map[uint64]string{
		0:       "0 B",
		512:     "512 B",
		2048:    "2.00 KB",
		5 << 20: "5.00 MB",
		3 << 30: "3.00 GB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(0); got != "--" {
		t.Fatalf("zero duration: %q", got)
	}
	if got := formatDuration(250 * time.Millisecond); got != "250 ms" {
		t.Fatalf("sub-second: %q", got)
	}
	if got := formatDuration(1234 * time.Millisecond); got != "1.2s" {
		t.Fatalf("seconds: %q", got)
	}
}

func TestFormatOutcomes(t *testing.T) {
	got := formatOutcomes(map[string]uint64{metrics.OutcomeFailed: 1, metrics.OutcomeCompleted: 3})
	if got != "completed=3 failed=1" {
		t.Fatalf("unexpected outcomes %q", got)
	}
	if formatOutcomes(nil) != "--" {
		t.Fatalf("empty outcomes should render --")
	}
}

func TestResultFields(t *testing.T) {
	fields := resultFields(&requester.Result{
		Filename:  "a.txt",
		SavedAs:   "received_a.txt",
		Size:      2048,
		Segments:  2,
		Rounds:    1,
		NacksSent: 1,
	})
	if fields["size"] != "2.00 KB" || fields["nacks_sent"] != 1 {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["corrupt"]; ok {
		t.Fatalf("zero counters should be omitted")
	}
}

func TestRenderSnapshotContainsCounters(t *testing.T) {
	table := RenderSnapshot(metrics.TransferSnapshot{NackRounds: 7, BytesSent: 1})
	if !strings.Contains(table, "NACK Rounds") || !strings.Contains(table, "7") {
		t.Fatalf("table missing NACK rounds:\n%s", table)
	}
}

func TestNilProgressIsInert(t *testing.T) {
	var p *SegmentProgress
	cb := p.Callbacks()
	if cb.OnInfo != nil || cb.OnSegment != nil {
		t.Fatalf("nil progress should not install callbacks")
	}
	p.Stop()
}
