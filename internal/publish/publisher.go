package publish

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/miskoemotorsports/pitdash/internal/telemetry"
	"github.com/miskoemotorsports/pitdash/internal/window"
)

// LinkStatus describes the serial link as last reported by the ingest loop.
type LinkStatus struct {
	State             string    `json:"state"`
	Port              string    `json:"port"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	ReadErrors        uint64    `json:"readErrors"`
	FramingErrors     uint64    `json:"framingErrors"`
	DecodeErrors      uint64    `json:"decodeErrors"`
	Reconnects        uint64    `json:"reconnects"`
	LastError         string    `json:"lastError,omitempty"`
	Since             time.Time `json:"since"`
}

// Snapshot is an immutable view of one completed publish. Callers must not
// modify the slices it holds.
type Snapshot struct {
	Seq        uint64                          `json:"seq"`
	Current    telemetry.Record                `json:"current"`
	Windows    map[telemetry.Channel][]float64 `json:"windows"`
	Channels   []telemetry.Channel             `json:"channels"`
	AckVisible bool                            `json:"ackVisible"`
	Updated    time.Time                       `json:"updated"` // zero until the first record
	Link       LinkStatus                      `json:"link"`
}

// Age is the time since the last published record, or -1 if none yet.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s.Updated.IsZero() {
		return -1
	}
	return now.Sub(s.Updated)
}

// Stale reports whether no record arrived within limit.
func (s *Snapshot) Stale(now time.Time, limit time.Duration) bool {
	age := s.Age(now)
	return age < 0 || age > limit
}

// Publisher is the handoff between the ingest loop and the renderer.
// Publish and SetLink are serialised by mu; readers only load the current
// immutable snapshot and never wait on the writer.
type Publisher struct {
	mu    sync.Mutex
	store *window.Store
	link  LinkStatus
	now   func() time.Time

	snap atomic.Pointer[Snapshot]
}

// New creates a Publisher over store.
func New(store *window.Store) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	p.link = LinkStatus{State: "closed", Since: p.now()}
	p.rebuild(time.Time{})
	return p
}

// Publish pushes rec into the store and swaps in a fresh snapshot.
func (p *Publisher) Publish(rec telemetry.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.store.Push(rec)
	p.rebuild(p.now())
}

// SetLink records the link status; it shows up in the next snapshot.
func (p *Publisher) SetLink(st LinkStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.link = st
	prev := p.snap.Load()
	next := *prev
	next.Link = st
	p.snap.Store(&next)
}

// Current returns the latest snapshot. It never blocks.
func (p *Publisher) Current() *Snapshot {
	return p.snap.Load()
}

func (p *Publisher) rebuild(updated time.Time) {
	if updated.IsZero() {
		if prev := p.snap.Load(); prev != nil {
			updated = prev.Updated
		}
	}
	p.snap.Store(&Snapshot{
		Seq:        p.store.Pushes(),
		Current:    p.store.Current(),
		Windows:    p.store.Windows(),
		Channels:   p.store.Channels(),
		AckVisible: p.store.AckVisible(),
		Updated:    updated,
		Link:       p.link,
	})
}
