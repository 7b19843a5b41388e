package link

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/miskoemotorsports/pitdash/internal/publish"
	"github.com/miskoemotorsports/pitdash/internal/telemetry"
)

// State is a Link Manager state.
type State int32

const (
	Closed State = iota
	Opening
	Open
	Degraded // read errors seen since the last open, port still up
	Reopening
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Degraded:
		return "degraded"
	case Reopening:
		return "reopening"
	}
	return "unknown"
}

// Sink receives decoded records and link status. *publish.Publisher
// satisfies it.
type Sink interface {
	Publish(rec telemetry.Record)
	SetLink(st publish.LinkStatus)
}

// Config controls the Link Manager.
type Config struct {
	PortName       string // for logs and status only
	Protocol       *telemetry.Protocol
	ErrorThreshold int           // force a reopen once consecutive read errors exceed this
	BackoffInitial time.Duration // delay after the first failed open
	BackoffMax     time.Duration // cap; equal to BackoffInitial gives a fixed interval
	Pacing         time.Duration // minimum spacing after each decoded line, 0 disables
	MaxLineBytes   int
}

// Manager owns the serial link: it opens and reopens the port, frames
// lines, decodes them and publishes records. Run is the ingest loop and
// must be called from exactly one goroutine; Status is safe from any.
type Manager struct {
	cfg  Config
	open Opener
	sink Sink

	port   Port
	reader *lineReader
	bo     *backoff.ExponentialBackOff

	state     atomic.Int32
	errCount  atomic.Int32
	readErrs  atomic.Uint64
	frameErrs atomic.Uint64
	decErrs   atomic.Uint64
	reconnect atomic.Uint64
	opens     atomic.Uint64

	mu      sync.Mutex
	lastErr string
	since   time.Time
}

// NewManager builds a Manager in the Closed state.
func NewManager(cfg Config, open Opener, sink Sink) *Manager {
	if cfg.Protocol == nil {
		cfg.Protocol = telemetry.V3
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = 5
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffInitial
	bo.MaxInterval = cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // never give up on the port
	bo.Reset()

	m := &Manager{
		cfg:   cfg,
		open:  open,
		sink:  sink,
		bo:    bo,
		since: time.Now(),
	}
	m.state.Store(int32(Closed))
	return m
}

// State returns the current link state.
func (m *Manager) State() State { return State(m.state.Load()) }

// ErrorCount returns the consecutive read error counter.
func (m *Manager) ErrorCount() int { return int(m.errCount.Load()) }

// Opens returns how many times the port was successfully opened.
func (m *Manager) Opens() uint64 { return m.opens.Load() }

// Status summarises the link for the renderer.
func (m *Manager) Status() publish.LinkStatus {
	m.mu.Lock()
	lastErr, since := m.lastErr, m.since
	m.mu.Unlock()
	return publish.LinkStatus{
		State:             m.State().String(),
		Port:              m.cfg.PortName,
		ConsecutiveErrors: m.ErrorCount(),
		ReadErrors:        m.readErrs.Load(),
		FramingErrors:     m.frameErrs.Load(),
		DecodeErrors:      m.decErrs.Load(),
		Reconnects:        m.reconnect.Load(),
		LastError:         lastErr,
		Since:             since,
	}
}

// Run drives the state machine until ctx is cancelled. It always returns
// ctx.Err(); every link error is handled here.
func (m *Manager) Run(ctx context.Context) error {
	log.Printf("[link] starting on %s (protocol=%s, %d fields)", m.cfg.PortName, m.cfg.Protocol.Name, m.cfg.Protocol.FieldCount())
	defer m.closePort()

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("[link] stopping: %v", err)
			return err
		}

		switch m.State() {
		case Closed:
			m.transition(Opening)
		case Opening:
			m.tryOpen(ctx)
		case Open, Degraded:
			m.readOnce(ctx)
		case Reopening:
			log.Printf("[link] %d consecutive read errors on %s, forcing reopen", m.ErrorCount(), m.cfg.PortName)
			m.closePort()
			m.errCount.Store(0)
			m.reconnect.Add(1)
			m.transition(Closed)
		}
	}
}

func (m *Manager) tryOpen(ctx context.Context) {
	p, err := m.open()
	if err != nil {
		m.setLastErr(err)
		delay := m.bo.NextBackOff()
		log.Printf("[link] open %s failed: %v (retry in %v)", m.cfg.PortName, err, delay)
		m.publishStatus()
		sleepCtx(ctx, delay)
		return
	}

	m.port = p
	m.reader = newLineReader(p, m.cfg.MaxLineBytes)
	m.errCount.Store(0)
	m.opens.Add(1)
	m.bo.Reset()
	log.Printf("[link] connected to %s", m.cfg.PortName)
	m.transition(Open)
}

func (m *Manager) readOnce(ctx context.Context) {
	line, err := m.reader.ReadLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errLineTooLong) {
			m.lineRejected(err, true)
			return
		}
		m.readFailed(err)
		return
	}
	if line == "" {
		return
	}

	rec, err := m.cfg.Protocol.Decode(line)
	if err != nil {
		m.lineRejected(err, telemetry.IsFraming(err))
		return
	}
	m.sink.Publish(rec)

	// Only a fresh open clears the error counter.
	if m.State() == Degraded {
		m.transition(Open)
	}
	if m.cfg.Pacing > 0 {
		sleepCtx(ctx, m.cfg.Pacing)
	}
}

// readFailed handles an I/O error from the port.
func (m *Manager) readFailed(err error) {
	m.readErrs.Add(1)
	m.setLastErr(err)

	if IsLinkDropped(err) {
		log.Printf("[link] %s dropped: %v", m.cfg.PortName, err)
		m.closePort()
		m.reconnect.Add(1)
		m.transition(Closed)
		return
	}

	n := int(m.errCount.Add(1))
	log.Printf("[link] read error on %s (%d/%d): %v", m.cfg.PortName, n, m.cfg.ErrorThreshold, err)
	if n > m.cfg.ErrorThreshold {
		m.transition(Reopening)
		return
	}
	if m.State() == Degraded {
		m.publishStatus()
		return
	}
	m.transition(Degraded)
}

// lineRejected counts a discarded line. Connection state is untouched.
func (m *Manager) lineRejected(err error, framing bool) {
	var n uint64
	kind := "decode"
	if framing {
		n = m.frameErrs.Add(1)
		kind = "framing"
	} else {
		n = m.decErrs.Add(1)
	}
	if n == 1 || n%100 == 0 {
		log.Printf("[link] %s error #%d, line dropped: %v", kind, n, err)
	}
	m.publishStatus()
}

func (m *Manager) transition(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.mu.Lock()
	m.since = time.Now()
	m.mu.Unlock()
	log.Printf("[link] %s -> %s", from, to)
	m.publishStatus()
}

func (m *Manager) publishStatus() {
	if m.sink != nil {
		m.sink.SetLink(m.Status())
	}
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Manager) closePort() {
	if m.port == nil {
		return
	}
	if err := m.port.Close(); err != nil {
		log.Printf("[link] close %s: %v", m.cfg.PortName, err)
	}
	m.port = nil
	m.reader = nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
