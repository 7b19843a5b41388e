package telemetry

import (
	"errors"
	"testing"
)

func TestDecodeV3(t *testing.T) {
	rec, err := V3.Decode("114,3500,500,14500,900,135,1015,120,45,12000,0,1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"fuelOpenTimeMs", float64(rec.FuelOpenTimeMs), 114},
		{"rpm", float64(rec.RPM), 3500},
		{"tps", rec.ThrottlePositionPct, 50.0},
		{"afr", rec.AirFuelRatio, 14.5},
		{"waterTempF", rec.WaterTempF, 194},
		{"battery", rec.BatteryVoltage, 13.5},
		{"mapPsi", rec.ManifoldPressurePsi, 14.7},
		{"ignition", rec.IgnitionAngleDeg, 12},
		{"duty", float64(rec.DutyCyclePct), 45},
		{"revs", float64(rec.EngineRevolutions), 12000},
		{"fuelBurned", rec.FuelBurnedGal, 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if rec.VoltageDropFlag {
		t.Errorf("voltageDropFlag: got true, want false")
	}
	if !rec.AckButtonPressed {
		t.Errorf("ackButtonPressed: got false, want true")
	}
}

func TestDecodeConversions(t *testing.T) {
	t.Run("map kpa to psi rounded", func(t *testing.T) {
		rec, err := V3.Decode("0,0,0,0,0,0,700,0,0,0,0,0")
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if rec.ManifoldPressurePsi != 10.2 {
			t.Fatalf("map: got %v, want 10.2", rec.ManifoldPressurePsi)
		}
	})

	t.Run("water temp freezing", func(t *testing.T) {
		rec, err := V3.Decode("0,0,0,0,0,0,0,0,0,0,0,0")
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if rec.WaterTempF != 32 {
			t.Fatalf("water: got %v, want 32", rec.WaterTempF)
		}
	})

	t.Run("fuel burned rounded to 3 places", func(t *testing.T) {
		rec, err := V3.Decode("1500000,0,0,0,0,0,0,0,0,0,0,0")
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		// 1.5e6 * 0.00000114475 = 1.717125
		if rec.FuelBurnedGal != 1.717 {
			t.Fatalf("fuel burned: got %v, want 1.717", rec.FuelBurnedGal)
		}
	})

	t.Run("negative tokens", func(t *testing.T) {
		rec, err := V3.Decode("0,0,0,0,-400,0,0,-55,0,0,0,0")
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if rec.WaterTempF != -40 {
			t.Errorf("water: got %v, want -40", rec.WaterTempF)
		}
		if rec.IgnitionAngleDeg != -5.5 {
			t.Errorf("ignition: got %v, want -5.5", rec.IgnitionAngleDeg)
		}
	})
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name    string
		proto   *Protocol
		line    string
		want    error
		framing bool
	}{
		{"too few fields", V3, "1,2,3", ErrFieldCount, true},
		{"too many fields", V3, "1,2,3,4,5,6,7,8,9,10,11,12,13", ErrFieldCount, true},
		{"empty line", V3, "", ErrFieldCount, true},
		{"trailing comma", V3, "1,2,3,4,5,6,7,8,9,10,11,", ErrNotInteger, false},
		{"float token", V3, "1,2,3.5,4,5,6,7,8,9,10,11,12", ErrNotInteger, false},
		{"hex token", V3, "1,2,0x3,4,5,6,7,8,9,10,11,12", ErrNotInteger, false},
		{"v1 wrong length", V1, "1,2,3,4,5,6,7", ErrLineLength, true},
		{"v1 right length wrong count", V1, "100,200,300,400", ErrFieldCount, true},
		{"v2 wrong length", V2, "10,2,3,4,5,6,78", ErrLineLength, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec, err := c.proto.Decode(c.line)
			if err == nil {
				t.Fatalf("expected error, got record %+v", rec)
			}
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
			if IsFraming(err) != c.framing {
				t.Fatalf("IsFraming: got %v, want %v", IsFraming(err), c.framing)
			}
			if rec != (Record{}) {
				t.Fatalf("expected zero record on error, got %+v", rec)
			}
			var de *DecodeError
			if !errors.As(err, &de) || de.Line != c.line {
				t.Fatalf("expected *DecodeError carrying the line, got %#v", err)
			}
		})
	}
}

func TestDecodeV1(t *testing.T) {
	line := "10,2,3,4,5,6,78"
	rec, err := V1.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.FuelOpenTimeMs != 10 || rec.RPM != 2 || rec.SteeringPosition != 78 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ThrottlePositionPct != 0.3 {
		t.Errorf("tps: got %v, want 0.3", rec.ThrottlePositionPct)
	}
	if rec.BatteryVoltage != 0.6 {
		t.Errorf("battery: got %v, want 0.6", rec.BatteryVoltage)
	}
}

func TestRecordValue(t *testing.T) {
	rec := Record{RPM: 4200, ThrottlePositionPct: 12.5, AckButtonPressed: true}
	if got := rec.Value(RPM); got != 4200 {
		t.Errorf("rpm: got %v", got)
	}
	if got := rec.Value(ThrottlePosition); got != 12.5 {
		t.Errorf("tps: got %v", got)
	}
	if got := rec.Value(AckButton); got != 1 {
		t.Errorf("ack: got %v", got)
	}
	if got := rec.Value(Channel("nope")); got != 0 {
		t.Errorf("unknown channel: got %v", got)
	}
}

func TestLookupProtocol(t *testing.T) {
	for _, name := range []string{"v1", "v2", "v3"} {
		p, err := LookupProtocol(name)
		if err != nil || p.Name != name {
			t.Fatalf("LookupProtocol(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := LookupProtocol("v9"); err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
	if V3.FieldCount() != 12 || V1.FieldCount() != 7 {
		t.Fatalf("unexpected field counts: v1=%d v3=%d", V1.FieldCount(), V3.FieldCount())
	}
}

func TestPlottedChannelsAreDecoded(t *testing.T) {
	for _, p := range []*Protocol{V1, V2, V3} {
		t.Run(p.Name, func(t *testing.T) {
			decoded := make(map[Channel]bool, len(p.Fields))
			for _, f := range p.Fields {
				decoded[f.Channel] = true
			}
			if len(p.Plotted) != 5 {
				t.Fatalf("want 5 plotted channels, got %v", p.Plotted)
			}
			for _, c := range p.Plotted {
				if !decoded[c] {
					t.Errorf("plotted channel %s is not in the field table", c)
				}
			}
		})
	}
	if V1.Plotted[4] != SteeringPosition || V3.Plotted[4] != ManifoldPressure {
		t.Fatalf("fifth chart: v1=%s v3=%s", V1.Plotted[4], V3.Plotted[4])
	}
}
