package telemetry

import (
	"fmt"
	"math"
	"sort"
)

// Conversion is a unit conversion applied after scaling.
type Conversion int

const (
	NoConversion Conversion = iota
	CelsiusToFahrenheit
	KPaToPSI
)

// kPa → psi
const psiPerKPa = 0.14504

func (c Conversion) apply(v float64) float64 {
	switch c {
	case CelsiusToFahrenheit:
		return v*9/5 + 32
	case KPaToPSI:
		return roundTo(v*psiPerKPa, 1)
	}
	return v
}

// Field maps one comma-separated token to a channel.
// The value is raw/Scale (Scale 0 or 1 leaves it unscaled) followed by Convert.
type Field struct {
	Offset  int
	Channel Channel
	Scale   float64
	Convert Conversion
}

// Protocol is one generation of the line format.
type Protocol struct {
	Name string
	// LineLength, when non-zero, is the exact character count a line must
	// have before it is split.
	LineLength int
	Fields     []Field
	// Plotted are the channels that get a rolling history window, in
	// chart order. Every one of them is decoded by Fields.
	Plotted []Channel
}

// FieldCount is the number of tokens a line must split into.
func (p *Protocol) FieldCount() int { return len(p.Fields) }

// V1 is the first-generation 7-field feed with a 15-character pre-filter.
var V1 = &Protocol{
	Name:       "v1",
	LineLength: 15,
	Fields: []Field{
		{Offset: 0, Channel: FuelOpenTime},
		{Offset: 1, Channel: RPM},
		{Offset: 2, Channel: ThrottlePosition, Scale: 10},
		{Offset: 3, Channel: AirFuelRatio, Scale: 1000},
		{Offset: 4, Channel: WaterTemp, Scale: 10, Convert: CelsiusToFahrenheit},
		{Offset: 5, Channel: BatteryVoltage, Scale: 10},
		{Offset: 6, Channel: SteeringPosition},
	},
	Plotted: []Channel{RPM, ThrottlePosition, AirFuelRatio, WaterTemp, SteeringPosition},
}

// V2 keeps the 7-field layout with a wider 20-character line.
var V2 = &Protocol{
	Name:       "v2",
	LineLength: 20,
	Fields:     V1.Fields,
	Plotted:    V1.Plotted,
}

// V3 is the 12-field feed.
var V3 = &Protocol{
	Name: "v3",
	Fields: []Field{
		{Offset: 0, Channel: FuelOpenTime},
		{Offset: 1, Channel: RPM},
		{Offset: 2, Channel: ThrottlePosition, Scale: 10},
		{Offset: 3, Channel: AirFuelRatio, Scale: 1000},
		{Offset: 4, Channel: WaterTemp, Scale: 10, Convert: CelsiusToFahrenheit},
		{Offset: 5, Channel: BatteryVoltage, Scale: 10},
		{Offset: 6, Channel: ManifoldPressure, Scale: 10, Convert: KPaToPSI},
		{Offset: 7, Channel: IgnitionAngle, Scale: 10},
		{Offset: 8, Channel: DutyCycle},
		{Offset: 9, Channel: EngineRevolutions},
		{Offset: 10, Channel: VoltageDrop},
		{Offset: 11, Channel: AckButton},
	},
	Plotted: []Channel{RPM, ThrottlePosition, AirFuelRatio, WaterTemp, ManifoldPressure},
}

var protocols = map[string]*Protocol{
	V1.Name: V1,
	V2.Name: V2,
	V3.Name: V3,
}

// LookupProtocol returns the protocol generation registered under name.
func LookupProtocol(name string) (*Protocol, error) {
	p, ok := protocols[name]
	if !ok {
		return nil, fmt.Errorf("telemetry: unknown protocol %q (have %v)", name, ProtocolNames())
	}
	return p, nil
}

// ProtocolNames lists the known generations in order.
func ProtocolNames() []string {
	names := make([]string, 0, len(protocols))
	for n := range protocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
