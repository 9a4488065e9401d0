package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/pterm/pterm"
)

// RenderSnapshot formats a transfer snapshot as a two column table.
func RenderSnapshot(snap metrics.TransferSnapshot) string {
	data := pterm.TableData{
		{"Metric", "Value"},
		{"Network Throughput", formatMbps(snap.ThroughputMbps)},
		{"Goodput", formatMbps(snap.GoodputMbps)},
		{"Frames Sent", fmt.Sprintf("%d", snap.FramesSent)},
		{"Frames Received", fmt.Sprintf("%d", snap.FramesReceived)},
		{"Retransmissions", fmt.Sprintf("%d (%s)", snap.Retransmissions, formatPercent(snap.RetransmitRate))},
		{"Retransmitted Bytes", formatBytes(snap.BytesRetransmit)},
		{"NACK Rounds", fmt.Sprintf("%d", snap.NackRounds)},
		{"NACKed Segments", fmt.Sprintf("%d", snap.NackedSegments)},
		{"Corrupt Segments", fmt.Sprintf("%d", snap.CorruptSegments)},
		{"Noise Datagrams", fmt.Sprintf("%d", snap.NoiseFrames)},
		{"Bytes Sent", formatBytes(snap.BytesSent)},
		{"Bytes Received", formatBytes(snap.BytesReceived)},
		{"Disk Read Bytes", formatBytes(snap.DiskReadBytes)},
		{"Disk Write Bytes", formatBytes(snap.DiskWriteBytes)},
		{"Sessions", formatOutcomes(snap.Outcomes)},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return ""
	}
	return table
}

// PrintSnapshot prints a titled summary. Nothing is printed for an idle
// collector.
func PrintSnapshot(title string, snap metrics.TransferSnapshot) {
	if snap.BytesSent == 0 && snap.BytesReceived == 0 {
		return
	}
	pterm.Println()
	pterm.DefaultSection.Println(title)
	fmt.Println(RenderSnapshot(snap))
	fmt.Printf("Elapsed: %s\n", formatDuration(snap.Elapsed))
}

func formatOutcomes(outcomes map[string]uint64) string {
	if len(outcomes) == 0 {
		return "--"
	}
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, outcomes[k]))
	}
	return strings.Join(parts, " ")
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatBytes(b uint64) string {
	const kb = 1024
	const mb = kb * 1024
	const gb = mb * 1024
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	case b > 0:
		return fmt.Sprintf("%d B", b)
	default:
		return "0 B"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func formatPercent(ratio float64) string {
	if ratio <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}
