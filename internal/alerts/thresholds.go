package alerts

import "time"

// Thresholds are the fixed bounds the cascade evaluates against.
// These are constants of the system; per-farm overrides are not a
// thing unless a caller explicitly injects a different set.
type Thresholds struct {
	ConnectivityTimeout time.Duration

	AirTempHighC   float64
	AirTempLowC    float64
	WaterTempHighC float64
	WaterTempLowC  float64

	WaterLevelLowPct float64

	PhMin float64
	PhMax float64

	// EC deviates relative to the dosing setpoint; no setpoint, no check.
	EcRelativeTolerance float64

	BatteryLowMv int
}

// DefaultThresholds returns the production bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConnectivityTimeout: 2 * time.Minute,

		AirTempHighC:   35.0,
		AirTempLowC:    10.0,
		WaterTempHighC: 28.0,
		WaterTempLowC:  15.0,

		WaterLevelLowPct: 20.0,

		PhMin: 5.5,
		PhMax: 7.5,

		EcRelativeTolerance: 0.2,

		BatteryLowMv: 3300,
	}
}
