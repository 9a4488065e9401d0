// Package requester retrieves one file from a responder: it asks for the file,
// collects the blast, NACKs what is missing until nothing is, verifies the
// whole-file digest, stores the result and ACKs.
package requester

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strings"
	"time"

	"github.com/jgoldverg/blast/internal"
	"github.com/jgoldverg/blast/pkg/filestore"
	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/jgoldverg/blast/pkg/segment"
	"github.com/jgoldverg/blast/pkg/transport"
	"github.com/jgoldverg/blast/pkg/udpwire"
)

const (
	defaultInfoTimeout   = 20 * time.Second
	defaultQueueTimeout  = 2 * time.Minute
	defaultBurstTimeout  = 2 * time.Second
	defaultMaxNoProgress = 5
	defaultNackBatchSize = 150
	defaultOutputPrefix  = "received_"

	// infoPoll caps each receive while waiting for INFO so cancellation is
	// noticed promptly.
	infoPoll = 250 * time.Millisecond
)

var (
	ErrServerError        = errors.New("server error")
	ErrServerUnresponsive = errors.New("server unresponsive")
	ErrNoProgress         = errors.New("server not responding")
	ErrIntegrityMismatch  = errors.New("integrity mismatch")
)

type State int

const (
	StateRequesting State = iota
	StateAwaitingInfo
	StateReceiving
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "REQUESTING"
	case StateAwaitingInfo:
		return "AWAITING_INFO"
	case StateReceiving:
		return "RECEIVING"
	case StateVerifying:
		return "VERIFYING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Config struct {
	// InfoTimeout bounds the wait for INFO after the request.
	InfoTimeout time.Duration
	// QueueTimeout replaces InfoTimeout once the server answers BUSY.
	QueueTimeout time.Duration
	// BurstTimeout is the per-datagram silence that ends a receive round.
	BurstTimeout        time.Duration
	MaxNoProgressRounds int
	NackBatchSize       int
	// OutputPrefix is prepended to the base name of the stored file.
	OutputPrefix string
}

func (c Config) withDefaults() Config {
	if c.InfoTimeout <= 0 {
		c.InfoTimeout = defaultInfoTimeout
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = defaultQueueTimeout
	}
	if c.BurstTimeout <= 0 {
		c.BurstTimeout = defaultBurstTimeout
	}
	if c.MaxNoProgressRounds <= 0 {
		c.MaxNoProgressRounds = defaultMaxNoProgress
	}
	if c.NackBatchSize <= 0 {
		c.NackBatchSize = defaultNackBatchSize
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = defaultOutputPrefix
	}
	return c
}

type RoundStats struct {
	Round      int
	Received   int
	Total      uint32
	Missing    int
	NoProgress int
}

// Callbacks observe a transfer. Every field is optional.
type Callbacks struct {
	OnInfo    func(total uint32, digest udpwire.Digest)
	OnBusy    func(msg string)
	OnSegment func(seq uint32, size int)
	OnRound   func(RoundStats)
}

type Result struct {
	Filename  string
	SavedAs   string
	Size      int
	Segments  uint32
	Digest    udpwire.Digest
	Rounds    int
	NacksSent int
	Corrupt   int
	Dropped   int
	Elapsed   time.Duration
}

type Option func(*Requester)

func WithDropSet(d DropSet) Option {
	return func(r *Requester) { r.drop = d }
}

func WithCallbacks(cb Callbacks) Option {
	return func(r *Requester) { r.cb = cb }
}

func WithMetrics(m *metrics.TransferCollector) Option {
	return func(r *Requester) { r.metrics = m }
}

// Requester fetches files from one server. It is not safe for concurrent use.
type Requester struct {
	tr      transport.Transport
	server  net.Addr
	out     filestore.Store
	cfg     Config
	drop    DropSet
	cb      Callbacks
	metrics *metrics.TransferCollector

	state State
}

func New(tr transport.Transport, server net.Addr, out filestore.Store, cfg Config, opts ...Option) *Requester {
	r := &Requester{
		tr:     tr,
		server: server,
		out:    out,
		cfg:    cfg.withDefaults(),
		drop:   DropSet{},
		state:  StateRequesting,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.drop == nil {
		r.drop = DropSet{}
	}
	return r
}

func (r *Requester) State() State { return r.state }

// OutputName is the name a fetched file is stored under.
func (r *Requester) OutputName(filename string) string {
	return r.cfg.OutputPrefix + path.Base(path.Clean("/"+filename))
}

type fileInfo struct {
	total  uint32
	digest udpwire.Digest
}

// Fetch runs one transfer to completion. Failures carry one of the package
// sentinel errors, the context error or a transport/store error.
func (r *Requester) Fetch(ctx context.Context, filename string) (*Result, error) {
	start := time.Now()
	res := &Result{Filename: filename}
	fields := internal.Fields{
		internal.FieldPeer: r.server.String(),
		internal.FieldFile: filename,
	}

	if strings.Trim(strings.TrimSpace(filename), "/") == "" {
		return r.fail(fields, udpwire.ErrEmptyFilename)
	}

	r.state = StateRequesting
	if err := r.send(udpwire.NewRequest(filename)); err != nil {
		return r.fail(fields, err)
	}

	r.state = StateAwaitingInfo
	info, err := r.awaitInfo(ctx)
	if err != nil {
		return r.fail(fields, err)
	}
	res.Segments = info.total
	res.Digest = info.digest
	if r.cb.OnInfo != nil {
		r.cb.OnInfo(info.total, info.digest)
	}
	fields[internal.FieldTotal] = info.total
	internal.Debug("transfer announced", fields)

	r.state = StateReceiving
	buf := segment.NewBuffer(info.total)
	if err := r.receive(ctx, buf, res); err != nil {
		return r.fail(fields, err)
	}

	r.state = StateVerifying
	data := buf.Bytes()
	if got := udpwire.ContentHash(data); got != info.digest {
		return r.fail(fields, fmt.Errorf("%w: got %s want %s", ErrIntegrityMismatch, got, info.digest))
	}

	saved := r.OutputName(filename)
	if err := r.out.WriteAll(saved, data); err != nil {
		return r.fail(fields, fmt.Errorf("store %s: %w", saved, err))
	}
	r.metrics.ObserveDiskWrite(len(data))

	if err := r.send(udpwire.NewAck()); err != nil {
		return r.fail(fields, err)
	}
	r.state = StateDone
	r.metrics.ObserveSession(metrics.OutcomeCompleted)

	res.SavedAs = saved
	res.Size = len(data)
	res.Elapsed = time.Since(start)
	internal.Info("file received", internal.Fields{
		internal.FieldFile:    filename,
		internal.FieldTotal:   info.total,
		internal.FieldElapsed: res.Elapsed.String(),
		"saved_as":            saved,
		"nacks":               res.NacksSent,
	})
	return res, nil
}

func (r *Requester) awaitInfo(ctx context.Context) (fileInfo, error) {
	deadline := time.Now().Add(r.cfg.InfoTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return fileInfo{}, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return fileInfo{}, ErrServerUnresponsive
		}
		frame, ok, err := r.next(min(wait, infoPoll))
		if err != nil {
			return fileInfo{}, err
		}
		if !ok {
			continue
		}

		switch frame.Kind {
		case udpwire.KindInfo:
			info := fileInfo{total: frame.Total, digest: frame.Digest}
			if info.digest.IsZero() && len(frame.Payload) == udpwire.DigestLen {
				copy(info.digest[:], frame.Payload)
			}
			return info, nil
		case udpwire.KindError:
			return fileInfo{}, fmt.Errorf("%w: %s", ErrServerError, frame.Payload)
		case udpwire.KindBusy:
			deadline = time.Now().Add(r.cfg.QueueTimeout)
			internal.Info("server busy, waiting in queue", internal.Fields{
				internal.FieldPeer: r.server.String(),
				internal.FieldMsg:  string(frame.Payload),
			})
			if r.cb.OnBusy != nil {
				r.cb.OnBusy(string(frame.Payload))
			}
		}
	}
}

func (r *Requester) receive(ctx context.Context, buf *segment.Buffer, res *Result) error {
	lastCount := 0
	noProgress := 0
	for round := 1; !buf.Complete(); round++ {
		if err := r.burst(ctx, buf, res); err != nil {
			return err
		}
		if buf.Complete() {
			return nil
		}

		missing := buf.Missing()
		if buf.Received() == lastCount {
			noProgress++
		} else {
			noProgress = 0
			lastCount = buf.Received()
		}
		res.Rounds = round
		if r.cb.OnRound != nil {
			r.cb.OnRound(RoundStats{
				Round:      round,
				Received:   buf.Received(),
				Total:      buf.Total(),
				Missing:    len(missing),
				NoProgress: noProgress,
			})
		}
		if noProgress >= r.cfg.MaxNoProgressRounds {
			return fmt.Errorf("%w: %d of %d segments after %d idle rounds",
				ErrNoProgress, buf.Received(), buf.Total(), noProgress)
		}

		internal.Debug("requesting retransmission", internal.Fields{
			internal.FieldRound:   round,
			internal.FieldMissing: udpwire.DescribeRanges(missing),
		})
		for _, batch := range nackBatches(missing, r.cfg.NackBatchSize) {
			if err := r.send(udpwire.NewNack(batch)); err != nil {
				return err
			}
			res.NacksSent++
		}
		r.metrics.ObserveNackRound(len(missing))
	}
	return nil
}

// burst reads DATA until BurstTimeout passes without a datagram or the buffer
// fills.
func (r *Requester) burst(ctx context.Context, buf *segment.Buffer, res *Result) error {
	for !buf.Complete() {
		if err := ctx.Err(); err != nil {
			return err
		}
		dg, err := r.tr.Receive(r.cfg.BurstTimeout)
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		frame, ok := r.decode(dg)
		if !ok {
			continue
		}
		switch frame.Kind {
		case udpwire.KindData:
			r.accept(buf, frame, res)
		case udpwire.KindError:
			return fmt.Errorf("%w: %s", ErrServerError, frame.Payload)
		}
	}
	return nil
}

func (r *Requester) accept(buf *segment.Buffer, frame udpwire.Frame, res *Result) {
	if frame.Total != buf.Total() || frame.Seq >= buf.Total() {
		internal.Debug("discarding segment outside transfer", internal.Fields{
			internal.FieldSeq:   frame.Seq,
			internal.FieldTotal: frame.Total,
		})
		return
	}
	if r.drop.Take(frame.Seq) {
		res.Dropped++
		internal.Debug("dropping segment on request", internal.Fields{
			internal.FieldSeq: frame.Seq,
		})
		return
	}
	if udpwire.ContentHash(frame.Payload) != frame.Digest {
		res.Corrupt++
		r.metrics.ObserveCorrupt()
		internal.Warn("segment digest mismatch, discarding", internal.Fields{
			internal.FieldSeq: frame.Seq,
		})
		return
	}
	if buf.Put(frame.Seq, frame.Payload) {
		r.metrics.ObserveReceive(len(frame.Payload))
		if r.cb.OnSegment != nil {
			r.cb.OnSegment(frame.Seq, len(frame.Payload))
		}
	}
}

// next receives one frame from the server. ok is false when the wait timed
// out or the datagram was not a frame from the server.
func (r *Requester) next(timeout time.Duration) (udpwire.Frame, bool, error) {
	dg, err := r.tr.Receive(timeout)
	if errors.Is(err, transport.ErrTimeout) {
		return udpwire.Frame{}, false, nil
	}
	if err != nil {
		return udpwire.Frame{}, false, err
	}
	frame, ok := r.decode(dg)
	return frame, ok, nil
}

func (r *Requester) decode(dg transport.Datagram) (udpwire.Frame, bool) {
	if !transport.SameAddr(dg.Addr, r.server) {
		return udpwire.Frame{}, false
	}
	frame, err := udpwire.DecodeFrame(dg.Payload)
	if err != nil {
		r.metrics.ObserveNoise()
		internal.Debug("discarding undecodable datagram", internal.Fields{
			internal.FieldError: err.Error(),
		})
		return udpwire.Frame{}, false
	}
	return frame, true
}

func (r *Requester) send(frame udpwire.Frame) error {
	if err := r.tr.Send(frame.Bytes(), r.server); err != nil {
		return fmt.Errorf("send %s: %w", frame.Kind, err)
	}
	r.metrics.ObserveSend(frame.Len(), false)
	return nil
}

func (r *Requester) fail(fields internal.Fields, err error) (*Result, error) {
	prev := r.state
	r.state = StateFailed
	r.metrics.ObserveSession(metrics.OutcomeFailed)
	fields[internal.FieldState] = prev.String()
	fields[internal.FieldError] = err.Error()
	internal.Warn("transfer failed", fields)
	return nil, err
}

func nackBatches(missing []uint32, size int) [][]uint32 {
	if size <= 0 {
		size = defaultNackBatchSize
	}
	batches := make([][]uint32, 0, (len(missing)+size-1)/size)
	for len(missing) > 0 {
		n := min(size, len(missing))
		batches = append(batches, missing[:n])
		missing = missing[n:]
	}
	return batches
}
