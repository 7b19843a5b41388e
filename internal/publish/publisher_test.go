package publish

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/miskoemotorsports/pitdash/internal/telemetry"
	"github.com/miskoemotorsports/pitdash/internal/window"
)

func newPublisher(length int) *Publisher {
	return New(window.NewStore(telemetry.V3.Plotted, length, 0))
}

func TestPublisherEmptySnapshot(t *testing.T) {
	p := newPublisher(8)
	snap := p.Current()
	if snap == nil {
		t.Fatalf("expected an initial snapshot")
	}
	if snap.Seq != 0 || !snap.Updated.IsZero() {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	if snap.Age(time.Now()) != -1 {
		t.Fatalf("age before first record should be -1")
	}
	if !snap.Stale(time.Now(), time.Hour) {
		t.Fatalf("snapshot without data should be stale")
	}
	if got := len(snap.Windows[telemetry.RPM]); got != 8 {
		t.Fatalf("rpm window length: got %d", got)
	}
	if snap.Link.State != "closed" {
		t.Fatalf("initial link state: got %q", snap.Link.State)
	}
}

func TestPublisherPublish(t *testing.T) {
	p := newPublisher(4)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	before := p.Current()
	rec, err := telemetry.V3.Decode("114,3500,500,14500,900,135,1015,120,45,12000,0,1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p.Publish(rec)

	snap := p.Current()
	if snap == before {
		t.Fatalf("expected a new snapshot after Publish")
	}
	if snap.Seq != 1 || snap.Current.RPM != 3500 {
		t.Fatalf("unexpected snapshot: %+v", snap.Current)
	}
	if snap.Windows[telemetry.ThrottlePosition][0] != 50 {
		t.Fatalf("tps window head: got %v", snap.Windows[telemetry.ThrottlePosition][0])
	}
	if !snap.AckVisible {
		t.Fatalf("ack indicator should be visible after the first press")
	}
	if got := snap.Age(base.Add(3 * time.Second)); got != 3*time.Second {
		t.Fatalf("age: got %v", got)
	}
	if snap.Stale(base.Add(time.Second), 2*time.Second) {
		t.Fatalf("snapshot should be fresh")
	}
	if !snap.Stale(base.Add(5*time.Second), 2*time.Second) {
		t.Fatalf("snapshot should be stale")
	}

	// the earlier snapshot is untouched
	if before.Seq != 0 || before.Windows[telemetry.RPM][0] != 0 {
		t.Fatalf("previous snapshot was mutated: %+v", before)
	}
}

func TestPublisherSetLinkKeepsData(t *testing.T) {
	p := newPublisher(4)
	p.Publish(telemetry.Record{RPM: 900})
	updated := p.Current().Updated

	p.SetLink(LinkStatus{State: "degraded", ConsecutiveErrors: 2})
	snap := p.Current()
	if snap.Link.State != "degraded" || snap.Link.ConsecutiveErrors != 2 {
		t.Fatalf("link not updated: %+v", snap.Link)
	}
	if snap.Current.RPM != 900 || !snap.Updated.Equal(updated) {
		t.Fatalf("SetLink must not change record data: %+v", snap)
	}

	p.Publish(telemetry.Record{RPM: 1000})
	if p.Current().Link.State != "degraded" {
		t.Fatalf("link status lost on publish")
	}
}

// Every field of record i is derived from i, so a snapshot mixing two
// records shows up as an inconsistency.
func TestPublisherSnapshotConsistency(t *testing.T) {
	p := newPublisher(16)
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			line := fmt.Sprintf("%d,%d,%d,0,0,0,0,0,%d,%d,0,%d", i*1000, i, i, i%100, i, i%2)
			rec, err := telemetry.V3.Decode(line)
			if err != nil {
				t.Errorf("Decode(%q): %v", line, err)
				return
			}
			p.Publish(rec)
		}
	}()

	done := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := p.Current()
				cur := snap.Current
				if snap.Seq == 0 {
					continue
				}
				if cur.RPM != int64(snap.Seq) || cur.EngineRevolutions != cur.RPM {
					t.Errorf("seq %d mixed record: %+v", snap.Seq, cur)
					return
				}
				if cur.FuelOpenTimeMs != cur.RPM*1000 {
					t.Errorf("fuel open time inconsistent: %+v", cur)
					return
				}
				want := math.Round(float64(cur.FuelOpenTimeMs)*telemetry.FuelConstant*1000) / 1000
				if cur.FuelBurnedGal != want {
					t.Errorf("fuel burned %v does not match open time %d", cur.FuelBurnedGal, cur.FuelOpenTimeMs)
					return
				}
				if snap.Windows[telemetry.RPM][0] != float64(cur.RPM) {
					t.Errorf("window head %v != current rpm %d", snap.Windows[telemetry.RPM][0], cur.RPM)
					return
				}
				if cur.ThrottlePositionPct != float64(cur.RPM)/10 {
					t.Errorf("tps %v inconsistent with rpm %d", cur.ThrottlePositionPct, cur.RPM)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	if got := p.Current().Seq; got != n {
		t.Fatalf("final seq: got %d, want %d", got, n)
	}
}
