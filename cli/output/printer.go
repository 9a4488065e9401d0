package output

import (
	"sort"
	"sync"

	"github.com/jgoldverg/blast/pkg/requester"
	"github.com/pterm/pterm"
)

// Printer renders structured CLI messages without relying on the logger.
type Printer struct {
	mu sync.Mutex
}

func NewPrinter() *Printer {
	return &Printer{}
}

func (p *Printer) Info(msg string, fields map[string]any) {
	p.printWith(pterm.Info, msg, fields)
}

func (p *Printer) Success(msg string, fields map[string]any) {
	p.printWith(pterm.Success, msg, fields)
}

func (p *Printer) Error(msg string, fields map[string]any) {
	p.printWith(pterm.Error, msg, fields)
}

func (p *Printer) Warn(msg string, fields map[string]any) {
	p.printWith(pterm.Warning, msg, fields)
}

// Result reports a finished fetch.
func (p *Printer) Result(res *requester.Result) {
	if res == nil {
		return
	}
	p.Success("File received", resultFields(res))
}

func resultFields(res *requester.Result) map[string]any {
	fields := map[string]any{
		"file":     res.Filename,
		"saved_as": res.SavedAs,
		"size":     formatBytes(uint64(res.Size)),
		"segments": res.Segments,
		"md5":      res.Digest.String(),
		"elapsed":  formatDuration(res.Elapsed),
	}
	if res.Rounds > 0 {
		fields["nack_rounds"] = res.Rounds
		fields["nacks_sent"] = res.NacksSent
	}
	if res.Corrupt > 0 {
		fields["corrupt"] = res.Corrupt
	}
	if res.Dropped > 0 {
		fields["dropped"] = res.Dropped
	}
	return fields
}

func (p *Printer) printWith(logger pterm.PrefixPrinter, msg string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger.Println(msg)
	if len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pterm.Printf("  %s: %v\n", k, fields[k])
	}
}
