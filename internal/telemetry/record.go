package telemetry

// Channel names one telemetry measurement. The string value is also the
// JSON key the renderer uses.
type Channel string

const (
	FuelOpenTime      Channel = "fuelOpenTimeMs"
	RPM               Channel = "rpm"
	ThrottlePosition  Channel = "throttlePositionPct"
	AirFuelRatio      Channel = "airFuelRatio"
	WaterTemp         Channel = "waterTempF"
	BatteryVoltage    Channel = "batteryVoltage"
	ManifoldPressure  Channel = "manifoldPressurePsi"
	IgnitionAngle     Channel = "ignitionAngleDeg"
	DutyCycle         Channel = "dutyCyclePct"
	EngineRevolutions Channel = "engineRevolutions"
	VoltageDrop       Channel = "voltageDropFlag"
	AckButton         Channel = "ackButtonPressed"
	SteeringPosition  Channel = "steeringPosition"
)

// FuelConstant converts accumulated injector open time (ms) to gallons burned.
const FuelConstant = 0.00000114475

// Record is one decoded, unit-converted telemetry line.
type Record struct {
	FuelOpenTimeMs      int64   `json:"fuelOpenTimeMs"`
	RPM                 int64   `json:"rpm"`
	ThrottlePositionPct float64 `json:"throttlePositionPct"`
	AirFuelRatio        float64 `json:"airFuelRatio"`
	WaterTempF          float64 `json:"waterTempF"`
	BatteryVoltage      float64 `json:"batteryVoltage"`
	ManifoldPressurePsi float64 `json:"manifoldPressurePsi"`
	IgnitionAngleDeg    float64 `json:"ignitionAngleDeg"`
	DutyCyclePct        int64   `json:"dutyCyclePct"`
	EngineRevolutions   int64   `json:"engineRevolutions"`
	VoltageDropFlag     bool    `json:"voltageDropFlag"`
	AckButtonPressed    bool    `json:"ackButtonPressed"`
	SteeringPosition    int64   `json:"steeringPosition"` // v1 only
	FuelBurnedGal       float64 `json:"fuelBurnedGal"`
}

// Value returns the numeric value of a channel, booleans as 0/1.
func (r Record) Value(c Channel) float64 {
	switch c {
	case FuelOpenTime:
		return float64(r.FuelOpenTimeMs)
	case RPM:
		return float64(r.RPM)
	case ThrottlePosition:
		return r.ThrottlePositionPct
	case AirFuelRatio:
		return r.AirFuelRatio
	case WaterTemp:
		return r.WaterTempF
	case BatteryVoltage:
		return r.BatteryVoltage
	case ManifoldPressure:
		return r.ManifoldPressurePsi
	case IgnitionAngle:
		return r.IgnitionAngleDeg
	case DutyCycle:
		return float64(r.DutyCyclePct)
	case EngineRevolutions:
		return float64(r.EngineRevolutions)
	case VoltageDrop:
		return boolFloat(r.VoltageDropFlag)
	case AckButton:
		return boolFloat(r.AckButtonPressed)
	case SteeringPosition:
		return float64(r.SteeringPosition)
	}
	return 0
}

// set stores a decoded field. raw is the wire integer, v the scaled and
// converted value; integer channels keep raw.
func (r *Record) set(c Channel, raw int64, v float64) {
	switch c {
	case FuelOpenTime:
		r.FuelOpenTimeMs = raw
	case RPM:
		r.RPM = raw
	case ThrottlePosition:
		r.ThrottlePositionPct = v
	case AirFuelRatio:
		r.AirFuelRatio = v
	case WaterTemp:
		r.WaterTempF = v
	case BatteryVoltage:
		r.BatteryVoltage = v
	case ManifoldPressure:
		r.ManifoldPressurePsi = v
	case IgnitionAngle:
		r.IgnitionAngleDeg = v
	case DutyCycle:
		r.DutyCyclePct = raw
	case EngineRevolutions:
		r.EngineRevolutions = raw
	case VoltageDrop:
		r.VoltageDropFlag = raw != 0
	case AckButton:
		r.AckButtonPressed = raw != 0
	case SteeringPosition:
		r.SteeringPosition = raw
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
