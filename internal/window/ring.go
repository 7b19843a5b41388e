package window

import "math"

// Ring is a fixed-capacity history of float samples. Pushing past capacity
// evicts the oldest sample. Ring is not safe for concurrent use; Store
// callers serialise access.
type Ring struct {
	buf  []float64
	head int // index of the newest sample
}

// NewRing returns a ring of capacity n with every slot set to seed.
func NewRing(n int, seed float64) *Ring {
	if n < 1 {
		n = 1
	}
	r := &Ring{buf: make([]float64, n), head: n - 1}
	for i := range r.buf {
		r.buf[i] = seed
	}
	return r
}

// Len returns the fixed capacity.
func (r *Ring) Len() int { return len(r.buf) }

// Push records v as the newest sample.
func (r *Ring) Push(v float64) {
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
	r.buf[r.head] = v
}

// Values copies the samples into dst newest-first and returns it. dst is
// grown when it is too small.
func (r *Ring) Values(dst []float64) []float64 {
	n := len(r.buf)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		idx := r.head - i
		if idx < 0 {
			idx += n
		}
		dst[i] = r.buf[idx]
	}
	return dst
}

// Length computes the window length for a display span and sample period.
func Length(displayPeriodSeconds, samplePeriodSeconds float64) int {
	if samplePeriodSeconds <= 0 || displayPeriodSeconds <= 0 {
		return 1
	}
	n := int(math.Round(displayPeriodSeconds / samplePeriodSeconds))
	if n < 1 {
		return 1
	}
	return n
}
