package output

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/jgoldverg/blast/pkg/requester"
	"github.com/jgoldverg/blast/pkg/udpwire"
	"github.com/pterm/pterm"
)

// SegmentProgress renders one fetch as a progress bar counted in segments.
// A nil *SegmentProgress is valid and renders nothing.
type SegmentProgress struct {
	title string

	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

func NewSegmentProgress(filename string) *SegmentProgress {
	title := path.Base(strings.TrimSpace(filename))
	if title == "" || title == "." || title == "/" {
		title = "file"
	}
	return &SegmentProgress{title: title}
}

// Callbacks wires the bar into a requester.
func (p *SegmentProgress) Callbacks() requester.Callbacks {
	if p == nil {
		return requester.Callbacks{}
	}
	return requester.Callbacks{
		OnInfo:    p.start,
		OnBusy:    p.busy,
		OnSegment: func(uint32, int) { p.add(1) },
		OnRound:   p.round,
	}
}

func (p *SegmentProgress) start(total uint32, _ udpwire.Digest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil || total == 0 {
		return
	}
	bar, err := pterm.DefaultProgressbar.
		WithTitle(p.title).
		WithTotal(clampToInt(total)).
		WithShowElapsedTime(true).
		WithShowCount(true).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return
	}
	p.bar = bar
}

func (p *SegmentProgress) busy(msg string) {
	pterm.Info.Println(msg)
}

func (p *SegmentProgress) add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Add(n)
	}
}

func (p *SegmentProgress) round(s requester.RoundStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.UpdateTitle(fmt.Sprintf("%s (round %d, %d missing)", p.title, s.Round, s.Missing))
	}
}

// Stop removes the bar. Safe to call more than once.
func (p *SegmentProgress) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	bar := p.bar
	p.bar = nil
	p.mu.Unlock()
	if bar != nil {
		_, _ = bar.Stop()
	}
}

func clampToInt(v uint32) int {
	if v == 0 {
		return 1
	}
	return int(v)
}
