package window

import "github.com/miskoemotorsports/pitdash/internal/telemetry"

// Store holds one Ring per plotted channel, the latest record and the
// acknowledgment latch. Push updates all of them together.
//
// Store is single-writer and not synchronised; the publish package wraps
// it behind its snapshot boundary.
type Store struct {
	channels []telemetry.Channel
	rings    map[telemetry.Channel]*Ring
	length   int

	current  telemetry.Record
	pushes   uint64
	ackPrev  bool
	ackShown bool
}

// NewStore builds windows of the given length for channels, each seeded
// with seed.
func NewStore(channels []telemetry.Channel, length int, seed float64) *Store {
	s := &Store{
		channels: append([]telemetry.Channel(nil), channels...),
		rings:    make(map[telemetry.Channel]*Ring, len(channels)),
	}
	for _, c := range channels {
		s.rings[c] = NewRing(length, seed)
	}
	if len(channels) > 0 {
		s.length = s.rings[channels[0]].Len()
	} else {
		s.length = NewRing(length, 0).Len()
	}
	return s
}

// Length is the per-channel window capacity.
func (s *Store) Length() int { return s.length }

// Channels returns the windowed channels in plot order.
func (s *Store) Channels() []telemetry.Channel { return s.channels }

// Push records rec as the current value, appends its plotted channels to
// their windows and advances the ack latch.
func (s *Store) Push(rec telemetry.Record) {
	for _, c := range s.channels {
		s.rings[c].Push(rec.Value(c))
	}
	s.current = rec
	s.pushes++

	// Rising edge of the button toggles the indicator.
	if rec.AckButtonPressed && !s.ackPrev {
		s.ackShown = !s.ackShown
	}
	s.ackPrev = rec.AckButtonPressed
}

// Current returns the latest pushed record.
func (s *Store) Current() telemetry.Record { return s.current }

// Pushes is the number of records pushed so far.
func (s *Store) Pushes() uint64 { return s.pushes }

// AckVisible reports the acknowledgment latch.
func (s *Store) AckVisible() bool { return s.ackShown }

// Window returns a newest-first copy of channel c's history, or nil if c
// is not windowed.
func (s *Store) Window(c telemetry.Channel) []float64 {
	r, ok := s.rings[c]
	if !ok {
		return nil
	}
	return r.Values(nil)
}

// Windows copies every window.
func (s *Store) Windows() map[telemetry.Channel][]float64 {
	out := make(map[telemetry.Channel][]float64, len(s.rings))
	for c, r := range s.rings {
		out[c] = r.Values(nil)
	}
	return out
}
