// Package responder serves files to one requester at a time. It blasts every
// segment, then retransmits what the requester NACKs until it ACKs, goes
// quiet, or runs out of retransmission rounds. Requests arriving meanwhile are
// answered BUSY and queued.
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jgoldverg/blast/internal"
	"github.com/jgoldverg/blast/pkg/filestore"
	"github.com/jgoldverg/blast/pkg/metrics"
	"github.com/jgoldverg/blast/pkg/segment"
	"github.com/jgoldverg/blast/pkg/transport"
	"github.com/jgoldverg/blast/pkg/udpwire"
)

const (
	defaultFeedbackTimeout = 10 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
	defaultQueueLimit      = 64

	msgFileNotFound   = "file not found"
	msgReadFailed     = "failed to read file"
	msgBadRequest     = "malformed request"
	msgQueueFull      = "server busy: admission queue full"
	msgRetransmitDone = "retransmission limit reached"
)

type State int

const (
	StateIdle State = iota
	StateServing
	StateAwaitingFeedback
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateServing:
		return "SERVING"
	case StateAwaitingFeedback:
		return "AWAITING_FEEDBACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Config struct {
	// FeedbackTimeout is how long a session waits for a NACK or ACK.
	FeedbackTimeout time.Duration
	// PollInterval caps each receive so cancellation is noticed.
	PollInterval time.Duration
	QueueLimit   int
	// QueueTTL drops queued requests older than this when they reach the
	// head of the queue. Zero keeps them forever.
	QueueTTL time.Duration
	// MaxNackRounds ends a session after this many NACK rounds. Zero
	// disables the ceiling.
	MaxNackRounds int
}

func (c Config) withDefaults() Config {
	if c.FeedbackTimeout <= 0 {
		c.FeedbackTimeout = defaultFeedbackTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = defaultQueueLimit
	}
	return c
}

type Option func(*Responder)

func WithMetrics(m *metrics.TransferCollector) Option {
	return func(r *Responder) { r.metrics = m }
}

// Responder is not safe for concurrent use; Run or Poll drive it from a
// single goroutine.
type Responder struct {
	tr      transport.Transport
	files   filestore.Store
	cfg     Config
	metrics *metrics.TransferCollector

	state   State
	session *Session
	queue   *AdmissionQueue
}

func New(tr transport.Transport, files filestore.Store, cfg Config, opts ...Option) *Responder {
	cfg = cfg.withDefaults()
	r := &Responder{
		tr:    tr,
		files: files,
		cfg:   cfg,
		state: StateIdle,
		queue: NewAdmissionQueue(cfg.QueueLimit),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Responder) State() State { return r.state }

// Session returns the active session or nil when idle.
func (r *Responder) Session() *Session { return r.session }

func (r *Responder) QueueLen() int { return r.queue.Len() }

// Run polls until ctx is cancelled or the transport is closed.
func (r *Responder) Run(ctx context.Context) error {
	internal.Info("responder ready", internal.Fields{
		internal.FieldAddr: r.tr.LocalAddr().String(),
		"feedback_timeout": r.cfg.FeedbackTimeout.String(),
		"queue_limit":      r.cfg.QueueLimit,
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.Poll(); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Poll advances the state machine by at most one received datagram or one
// timer expiry. It blocks for at most PollInterval.
func (r *Responder) Poll() error {
	switch r.state {
	case StateAwaitingFeedback:
		return r.pollFeedback()
	default:
		if r.admitQueued() {
			return nil
		}
		dg, err := r.tr.Receive(r.cfg.PollInterval)
		if errors.Is(err, transport.ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		return r.handleIdle(dg)
	}
}

func (r *Responder) pollFeedback() error {
	wait := time.Until(r.session.deadline)
	if wait <= 0 {
		r.expire()
		return nil
	}
	if wait > r.cfg.PollInterval {
		wait = r.cfg.PollInterval
	}
	dg, err := r.tr.Receive(wait)
	if errors.Is(err, transport.ErrTimeout) {
		if !time.Now().Before(r.session.deadline) {
			r.expire()
		}
		return nil
	}
	if err != nil {
		return err
	}
	return r.handleFeedback(dg)
}

// parseRequest classifies a datagram. ok is false for anything that is not a
// request; err is set for requests that name no file.
func (r *Responder) parseRequest(dg transport.Datagram) (name string, ok bool, err error) {
	payload := dg.Payload
	if udpwire.IsBareRequest(payload) {
		name, err = udpwire.ParseRequest(payload)
		return name, true, err
	}
	frame, decodeErr := udpwire.DecodeFrame(payload)
	if decodeErr != nil {
		r.noise(dg, decodeErr)
		return "", false, nil
	}
	if frame.Kind != udpwire.KindRequest {
		return "", false, nil
	}
	name, err = udpwire.ParseRequest(frame.Payload)
	return name, true, err
}

func (r *Responder) handleIdle(dg transport.Datagram) error {
	name, ok, err := r.parseRequest(dg)
	if !ok {
		return nil
	}
	if err != nil {
		return r.sendError(dg.Addr, msgBadRequest)
	}
	return r.admit(name, dg.Addr)
}

func (r *Responder) admitQueued() bool {
	for _, req := range r.queue.Expire(time.Now(), r.cfg.QueueTTL) {
		internal.Info("dropping stale queued request", internal.Fields{
			internal.FieldPeer: req.Addr.String(),
			internal.FieldFile: req.Filename,
			"waited":           time.Since(req.QueuedAt).String(),
		})
	}
	req, ok := r.queue.Dequeue()
	r.metrics.SetQueueDepth(r.queue.Len())
	if !ok {
		return false
	}
	if err := r.admit(req.Filename, req.Addr); err != nil {
		internal.Warn("failed to admit queued request", internal.Fields{
			internal.FieldError: err.Error(),
			internal.FieldPeer:  req.Addr.String(),
		})
	}
	return true
}

// admit starts a session for name, or answers ERROR and stays idle.
func (r *Responder) admit(name string, addr net.Addr) error {
	fields := internal.Fields{
		internal.FieldPeer: addr.String(),
		internal.FieldFile: name,
	}
	if !r.files.Exists(name) {
		internal.Info("requested file not found", fields)
		r.metrics.ObserveSession(metrics.OutcomeRejected)
		return r.sendError(addr, msgFileNotFound)
	}
	data, err := r.files.ReadAll(name)
	if err != nil {
		fields[internal.FieldError] = err.Error()
		internal.Error("failed to read requested file", fields)
		r.metrics.ObserveSession(metrics.OutcomeRejected)
		if errors.Is(err, filestore.ErrNotFound) {
			return r.sendError(addr, msgFileNotFound)
		}
		return r.sendError(addr, msgReadFailed)
	}
	r.metrics.ObserveDiskRead(len(data))

	sess := newSession(addr, name, segment.Split(data, udpwire.PayloadSize))
	r.session = sess
	r.state = StateServing
	fields[internal.FieldSession] = sess.ID.String()
	fields[internal.FieldTotal] = sess.Store.Total()
	fields["bytes"] = sess.Store.Size()
	internal.Info("serving file", fields)

	if err := r.blast(sess); err != nil {
		r.finish(metrics.OutcomeFailed)
		return err
	}
	sess.touch(r.cfg.FeedbackTimeout)
	r.state = StateAwaitingFeedback
	return nil
}

// blast sends INFO followed by every segment in ascending order.
func (r *Responder) blast(sess *Session) error {
	info := udpwire.NewInfo(sess.Store.Total(), sess.Store.FileDigest())
	if err := r.send(info, sess.Client, false); err != nil {
		return err
	}
	for seq := uint32(0); seq < sess.Store.Total(); seq++ {
		frame, err := sess.Store.Frame(seq)
		if err != nil {
			return err
		}
		if err := r.send(frame, sess.Client, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Responder) handleFeedback(dg transport.Datagram) error {
	sess := r.session
	if !transport.SameAddr(dg.Addr, sess.Client) {
		return r.handleForeign(dg)
	}

	frame, err := udpwire.DecodeFrame(dg.Payload)
	if err != nil {
		r.noise(dg, err)
		return nil
	}
	switch frame.Kind {
	case udpwire.KindNack:
		return r.retransmit(sess, frame)
	case udpwire.KindAck:
		internal.Info("completed file transfer", internal.Fields{
			internal.FieldSession: sess.ID.String(),
			internal.FieldPeer:    sess.Client.String(),
			internal.FieldFile:    sess.Filename,
			internal.FieldElapsed: time.Since(sess.Started).String(),
			"nack_rounds":         sess.NackRounds,
			"retransmitted":       sess.Retransmitted,
		})
		r.finish(metrics.OutcomeCompleted)
	default:
		internal.Debug("ignoring frame from active client", internal.Fields{
			internal.FieldSession: sess.ID.String(),
			internal.FieldKind:    frame.Kind.String(),
		})
	}
	return nil
}

// handleForeign queues requests from other peers and drops everything else
// they send.
func (r *Responder) handleForeign(dg transport.Datagram) error {
	name, ok, err := r.parseRequest(dg)
	if !ok {
		return nil
	}
	if err != nil {
		return r.sendError(dg.Addr, msgBadRequest)
	}
	pos, err := r.queue.Enqueue(PendingRequest{
		Filename: name,
		Addr:     dg.Addr,
		QueuedAt: time.Now(),
	})
	fields := internal.Fields{
		internal.FieldPeer:    dg.Addr.String(),
		internal.FieldFile:    name,
		internal.FieldSession: r.session.ID.String(),
	}
	if err != nil {
		fields[internal.FieldError] = err.Error()
		internal.Warn("rejecting request, queue full", fields)
		return r.sendError(dg.Addr, msgQueueFull)
	}
	r.metrics.SetQueueDepth(r.queue.Len())
	fields[internal.FieldQueue] = r.queue.Len()
	internal.Info("server busy, request queued", fields)
	busy := udpwire.NewBusy(fmt.Sprintf("server busy, request queued at position %d", pos))
	return r.send(busy, dg.Addr, false)
}

func (r *Responder) retransmit(sess *Session, frame udpwire.Frame) error {
	seqs, err := udpwire.ParseNack(frame.Payload)
	if err != nil {
		internal.Warn("discarding malformed nack", internal.Fields{
			internal.FieldSession: sess.ID.String(),
			internal.FieldError:   err.Error(),
		})
		return nil
	}
	if r.cfg.MaxNackRounds > 0 && sess.NackRounds >= r.cfg.MaxNackRounds {
		internal.Warn("nack ceiling reached, abandoning session", internal.Fields{
			internal.FieldSession: sess.ID.String(),
			internal.FieldPeer:    sess.Client.String(),
			internal.FieldRound:   sess.NackRounds,
		})
		sendErr := r.sendError(sess.Client, msgRetransmitDone)
		r.finish(metrics.OutcomeAbandoned)
		return sendErr
	}

	sess.NackRounds++
	r.metrics.ObserveNackRound(len(seqs))
	skipped := 0
	for _, seq := range seqs {
		data, err := sess.Store.Frame(seq)
		if err != nil {
			skipped++
			continue
		}
		if err := r.send(data, sess.Client, true); err != nil {
			return err
		}
		sess.Retransmitted++
	}
	sess.touch(r.cfg.FeedbackTimeout)

	internal.Debug("served nack", internal.Fields{
		internal.FieldSession: sess.ID.String(),
		internal.FieldRound:   sess.NackRounds,
		internal.FieldMissing: udpwire.DescribeRanges(seqs),
		"skipped":             skipped,
	})
	return nil
}

func (r *Responder) expire() {
	sess := r.session
	internal.Warn("session expired waiting for feedback", internal.Fields{
		internal.FieldSession: sess.ID.String(),
		internal.FieldPeer:    sess.Client.String(),
		internal.FieldFile:    sess.Filename,
		internal.FieldRound:   sess.NackRounds,
	})
	r.finish(metrics.OutcomeExpired)
}

// finish drops the active session. The next Poll serves the queue before
// reading new datagrams.
func (r *Responder) finish(outcome string) {
	r.metrics.ObserveSession(outcome)
	r.session = nil
	r.state = StateIdle
}

func (r *Responder) send(frame udpwire.Frame, addr net.Addr, retransmit bool) error {
	if err := r.tr.Send(frame.Bytes(), addr); err != nil {
		internal.Warn("send failed", internal.Fields{
			internal.FieldError: err.Error(),
			internal.FieldPeer:  addr.String(),
			internal.FieldKind:  frame.Kind.String(),
			internal.FieldSeq:   frame.Seq,
		})
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		return nil
	}
	r.metrics.ObserveSend(frame.Len(), retransmit)
	return nil
}

func (r *Responder) sendError(addr net.Addr, msg string) error {
	return r.send(udpwire.NewError(msg), addr, false)
}

func (r *Responder) noise(dg transport.Datagram, err error) {
	r.metrics.ObserveNoise()
	internal.Debug("discarding undecodable datagram", internal.Fields{
		internal.FieldPeer:  dg.Addr.String(),
		internal.FieldError: err.Error(),
	})
}
