// Package session implements the orchestrator that drives one identical
// configure/connect/stream/stop lifecycle over four structurally different
// transports and presents a single transport-agnostic sample stream.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/handshake"
	"github.com/srg/wearlink/internal/sensor"
	"github.com/srg/wearlink/internal/transport"
)

var (
	// ErrReentrant rejects a lifecycle command issued while another is in
	// flight. Not a state change; the caller retries after the first one
	// returns.
	ErrReentrant = errors.New("command already in flight")
	// ErrNotConfigured rejects Connect before a successful Configure.
	ErrNotConfigured = errors.New("session not configured")
)

// Listener receives one normalized sample per decoded frame. Invoked on
// the read-loop goroutine; listeners must not block.
type Listener func(sensor.UnifiedSample)

// Stats counts what the session has seen since construction.
type Stats struct {
	Samples         uint64
	MalformedFrames uint64
	SoftAckFailures uint64
}

// Session owns one device across one transport. Lifecycle commands
// (Configure, Connect, StartStreaming, StopStreaming, Disconnect) are
// mutually exclusive per session: the handshake is not safe to run twice
// concurrently against the same physical device, so a command that finds
// another one in flight is rejected fast instead of interleaved.
type Session struct {
	id     string
	addr   string
	tr     transport.Transport
	cod    codec.Codec
	acks   *handshake.AckTable
	seq    *handshake.Sequencer
	norm   *sensor.Normalizer
	logger *logrus.Entry

	cmdMu sync.Mutex // serializes lifecycle commands

	stateMu    sync.RWMutex
	state      State
	cfg        sensor.Configuration
	rateHz     float64
	configured bool

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	opMu     sync.Mutex
	opCancel context.CancelFunc

	samples   atomic.Uint64
	malformed atomic.Uint64
}

// New builds a session over the given transport/codec pair. Both are
// constructor-injected so the orchestrator is testable with fakes.
func New(id, addr string, tr transport.Transport, cod codec.Codec, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	acks := handshake.NewAckTable()
	return &Session{
		id:        id,
		addr:      addr,
		tr:        tr,
		cod:       cod,
		acks:      acks,
		seq:       handshake.NewSequencer(tr, cod, acks, logger),
		norm:      sensor.NewNormalizer(),
		logger:    logger.WithFields(logrus.Fields{"session": id, "transport": tr.Kind()}),
		state:     Idle,
		listeners: make(map[int]Listener),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected reports whether the device is configured or streaming.
// Never blocks on command execution.
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == Configured || st == Streaming
}

// Stats returns dispatch/drop counters.
func (s *Session) Stats() Stats {
	return Stats{
		Samples:         s.samples.Load(),
		MalformedFrames: s.malformed.Load(),
		SoftAckFailures: s.seq.SoftFailures(),
	}
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = st
	s.stateMu.Unlock()
	if prev != st {
		s.logger.WithFields(logrus.Fields{"from": prev, "to": st}).Debug("State transition")
	}
}

// Configure validates and stores the sensor configuration and sampling
// rate for the next Connect. No device side effects. Legal only while
// idle, disconnected or failed.
func (s *Session) Configure(cfg sensor.Configuration, rateHz float64) error {
	if !s.cmdMu.TryLock() {
		return ErrReentrant
	}
	defer s.cmdMu.Unlock()

	if st := s.State(); !st.canConnect() {
		return &StateError{Op: "configure", State: st}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := sensor.ValidateRate(rateHz); err != nil {
		return err
	}

	s.stateMu.Lock()
	s.cfg = cfg
	s.rateHz = rateHz
	s.configured = true
	s.stateMu.Unlock()
	s.logger.WithField("rate_hz", rateHz).Info("Session configured")
	return nil
}

func (s *Session) plan() handshake.Plan {
	return handshake.Plan{Kind: s.tr.Kind(), Profile: s.tr.Profile(), Address: s.addr}
}

func (s *Session) snapshotConfig() (sensor.Configuration, float64, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.cfg, s.rateHz, s.configured
}

// beginOp publishes a cancel func so Disconnect can interrupt the
// in-flight handshake instead of waiting out its timeouts.
func (s *Session) beginOp(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	s.opMu.Lock()
	s.opCancel = cancel
	s.opMu.Unlock()
	return opCtx, func() {
		s.opMu.Lock()
		s.opCancel = nil
		s.opMu.Unlock()
		cancel()
	}
}

// Connect opens the transport and runs the configure phase of the
// handshake. Idempotent against double invocation: a Connect racing an
// in-flight Connect, or issued while already connected, returns
// immediately without touching the device.
func (s *Session) Connect(ctx context.Context) error {
	if !s.cmdMu.TryLock() {
		s.logger.Debug("Connect ignored, command in flight")
		return nil
	}
	defer s.cmdMu.Unlock()

	switch st := s.State(); st {
	case Connecting, Configuring, Configured, Streaming:
		s.logger.WithField("state", st).Debug("Connect ignored, already connected")
		return nil
	case Stopping:
		return &StateError{Op: "connect", State: st}
	}

	cfg, rate, ok := s.snapshotConfig()
	if !ok {
		return ErrNotConfigured
	}

	opCtx, done := s.beginOp(ctx)
	defer done()

	s.setState(Connecting)
	s.norm.Reset()

	if err := s.tr.Open(opCtx); err != nil {
		s.setState(Failed)
		s.logger.WithField("error", err).Error("Transport open failed")
		return err
	}

	s.startReadLoop()

	s.setState(Configuring)
	if err := s.seq.Run(opCtx, handshake.Configure(s.plan(), cfg, rate)); err != nil {
		s.teardown()
		s.setState(Failed)
		s.logger.WithField("error", err).Error("Configure handshake failed")
		return err
	}

	s.setState(Configured)
	s.logger.Info("Device connected and configured")
	return nil
}

// StartStreaming re-runs the pre-stream handshake (drain, reassert the
// sensor bitmap - devices silently revert it after idle periods), issues
// start and transitions to Streaming.
func (s *Session) StartStreaming(ctx context.Context) error {
	if !s.cmdMu.TryLock() {
		return ErrReentrant
	}
	defer s.cmdMu.Unlock()

	switch st := s.State(); st {
	case Streaming:
		return nil
	case Configured:
	default:
		return &StateError{Op: "start streaming", State: st}
	}

	cfg, rate, _ := s.snapshotConfig()
	opCtx, done := s.beginOp(ctx)
	defer done()

	if err := s.seq.Run(opCtx, handshake.Start(s.plan(), cfg, rate)); err != nil {
		s.teardown()
		s.setState(Failed)
		s.logger.WithField("error", err).Error("Start handshake failed")
		return err
	}

	s.setState(Streaming)
	s.logger.Info("Streaming started")
	return nil
}

// StopStreaming sends stop best-effort and returns to Configured. The
// read loop keeps running; it only dies with the connection.
func (s *Session) StopStreaming(ctx context.Context) error {
	if !s.cmdMu.TryLock() {
		return ErrReentrant
	}
	defer s.cmdMu.Unlock()

	if st := s.State(); st != Streaming {
		return &StateError{Op: "stop streaming", State: st}
	}

	s.setState(Stopping)
	opCtx, done := s.beginOp(ctx)
	defer done()
	if err := s.seq.Run(opCtx, handshake.Stop(s.plan())); err != nil {
		// Best effort: local state cleanup must not be blocked by an
		// undeliverable stop.
		s.logger.WithField("error", err).Warn("Stop command not delivered")
	}
	s.setState(Configured)
	s.logger.Info("Streaming stopped")
	return nil
}

// Disconnect tears the session down from any state. Never fails and is
// idempotent; it interrupts an in-flight command and any outstanding
// acknowledgement wait immediately rather than waiting out timeouts.
func (s *Session) Disconnect() error {
	// Interrupt whatever is in flight before taking the command mutex, so
	// we acquire it quickly instead of after a timeout window.
	s.opMu.Lock()
	if s.opCancel != nil {
		s.opCancel()
	}
	s.opMu.Unlock()
	s.acks.FailAll("disconnect")

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if st := s.State(); st == Disconnected || st == Idle {
		s.setState(Disconnected)
		return nil
	}

	if s.State() == Streaming {
		// Best-effort stop; the connection is going away regardless.
		if p, err := s.cod.EncodeCommand(codec.Command{Name: "stop"}); err == nil {
			_ = s.tr.Send(p)
		}
	}

	s.teardown()
	s.setState(Disconnected)
	s.logger.Info("Disconnected")
	return nil
}

// teardown stops the read loop and closes the transport. Caller holds
// cmdMu.
func (s *Session) teardown() {
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	_ = s.tr.Close()
	if s.loopDone != nil {
		select {
		case <-s.loopDone:
		case <-time.After(2 * time.Second):
			s.logger.Warn("Read loop did not exit in time")
		}
		s.loopDone = nil
	}
	s.acks.FailAll("connection closed")
}

// OnSample registers a listener and returns a handle for removal. Safe
// while streaming.
func (s *Session) OnSample(fn Listener) int {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return id
}

// RemoveOnSample unregisters a listener. Safe while streaming; a no-op for
// unknown handles.
func (s *Session) RemoveOnSample(id int) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	delete(s.listeners, id)
}

func (s *Session) dispatch(sample sensor.UnifiedSample) {
	s.listenerMu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(sample)
	}
}

func (s *Session) startReadLoop() {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	done := s.loopDone
	groutine.Go(loopCtx, "wearlink-read-"+s.id, func(ctx context.Context) {
		// Release the loop context on self-termination (stream death) too,
		// not only when teardown cancels it.
		defer cancel()
		defer close(done)
		s.readLoop(ctx)
	})
}

// readLoop is the single consumer of the transport. It resolves pending
// acknowledgements during handshakes and normalizes/dispatches sample
// frames while streaming. Malformed frames are dropped and counted, never
// fatal; a dead stream is.
func (s *Session) readLoop(ctx context.Context) {
	for {
		p, err := s.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.WithField("error", err).Error("Read loop terminated")
			s.failFromLoop()
			return
		}

		events, derr := s.cod.Decode(p)
		if derr != nil {
			s.malformed.Add(1)
			s.logger.WithField("error", derr).Debug("Dropped malformed frame")
		}

		for _, ev := range events {
			switch {
			case ev.Control != nil:
				if !s.acks.Resolve(*ev.Control) {
					s.logger.WithField("token", ev.Control.Token).Debug("Unsolicited control message dropped")
				}
			case ev.Sample != nil:
				if s.State() != Streaming {
					continue
				}
				cfg, _, _ := s.snapshotConfig()
				sample := s.norm.Normalize(*ev.Sample, cfg)
				s.samples.Add(1)
				s.dispatch(sample)
			}
		}
	}
}

// failFromLoop marks the session Failed when the stream dies underneath
// it. Outstanding acknowledgement waits resolve negatively so an in-flight
// handshake fails promptly instead of timing out.
func (s *Session) failFromLoop() {
	s.setState(Failed)
	_ = s.tr.Close()
	s.acks.FailAll("stream ended")
}
