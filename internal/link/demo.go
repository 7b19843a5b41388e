package link

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"
)

// DemoPort is a Port that synthesises v3 telemetry lines for running the
// dashboard without hardware.
type DemoPort struct {
	mu      sync.Mutex
	period  time.Duration
	next    time.Time
	pending []byte
	closed  bool

	t        float64 // virtual time accumulator
	fuelMs   int64
	revs     int64
	lines    int
	ackUntil int
}

// NewDemoPort emits one line every period (default 250ms).
func NewDemoPort(period time.Duration) *DemoPort {
	if period <= 0 {
		period = 250 * time.Millisecond
	}
	return &DemoPort{period: period, next: time.Now()}
}

func (d *DemoPort) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, fmt.Errorf("demo port: %w", os.ErrClosed)
	}

	if len(d.pending) == 0 {
		wait := time.Until(d.next)
		if wait > 0 {
			// Behave like a serial read timeout so the caller can check its context.
			if wait > 200*time.Millisecond {
				wait = 200 * time.Millisecond
			}
			d.mu.Unlock()
			time.Sleep(wait)
			d.mu.Lock()
			if time.Now().Before(d.next) {
				return 0, nil
			}
		}
		d.next = d.next.Add(d.period)
		if time.Until(d.next) < -d.period {
			d.next = time.Now().Add(d.period)
		}
		d.pending = []byte(d.line() + "\r\n")
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *DemoPort) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// line generates one 12-field record.
func (d *DemoPort) line() string {
	d.t += d.period.Seconds()
	d.lines++

	// Simulate RPM cycling between idle and revving
	rpm := 850.0 + 6000.0*math.Pow(math.Sin(d.t*0.3), 2) + rand.Float64()*50
	tps := (rpm - 850) / (7200 - 850) * 100
	tps = math.Max(0, math.Min(100, tps))

	afr := 14.7 - (tps/100)*2.0 + rand.Float64()*0.4
	coolantC := 85.0 + rand.Float64()*5
	battery := 13.8 + rand.Float64()*0.4
	mapKPa := 30 + tps/100*170
	advance := 10 + (tps/100)*28

	pw := 2.0 + tps/100*10
	duty := pw / (120000.0 / rpm) * 100

	d.fuelMs += int64(pw * rpm / 120 * d.period.Seconds())
	d.revs += int64(rpm / 60 * d.period.Seconds())

	// Driver presses the ack button roughly every 20s for about a second.
	ack := 0
	if d.lines%80 == 0 {
		d.ackUntil = d.lines + 4
	}
	if d.lines < d.ackUntil {
		ack = 1
	}
	vdrop := 0
	if battery < 13.85 {
		vdrop = 1
	}

	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d",
		d.fuelMs,
		int(rpm),
		int(tps*10),
		int(afr*1000),
		int(coolantC*10),
		int(battery*10),
		int(mapKPa*10),
		int(advance*10),
		int(math.Min(duty, 100)),
		d.revs,
		vdrop,
		ack,
	)
}
