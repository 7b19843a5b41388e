package link

import (
	"context"
	"testing"
	"time"

	"github.com/miskoemotorsports/pitdash/internal/telemetry"
)

func TestDemoPortProducesDecodableLines(t *testing.T) {
	p := NewDemoPort(time.Millisecond)
	defer p.Close()
	r := newLineReader(p, 256)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var prevFuel int64
	for i := 0; i < 20; i++ {
		line, err := r.ReadLine(ctx)
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		rec, err := telemetry.V3.Decode(line)
		if err != nil {
			t.Fatalf("line %d %q: %v", i, line, err)
		}
		if rec.RPM < 800 || rec.RPM > 7000 {
			t.Fatalf("rpm out of range: %d", rec.RPM)
		}
		if rec.FuelOpenTimeMs < prevFuel {
			t.Fatalf("fuel open time went backwards: %d < %d", rec.FuelOpenTimeMs, prevFuel)
		}
		prevFuel = rec.FuelOpenTimeMs
	}
}

func TestNewOpener(t *testing.T) {
	open, err := NewOpener(OpenerConfig{Driver: "demo", SamplePeriod: time.Millisecond})
	if err != nil {
		t.Fatalf("NewOpener: %v", err)
	}
	p, err := open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := p.(*DemoPort); !ok {
		t.Fatalf("expected *DemoPort, got %T", p)
	}
	p.Close()

	if _, err := NewOpener(OpenerConfig{Driver: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	for _, d := range []string{"", "bugst", "tarm"} {
		if _, err := NewOpener(OpenerConfig{Driver: d, PortPath: "/dev/null"}); err != nil {
			t.Fatalf("driver %q: %v", d, err)
		}
	}
}
