package models

// DosingSetpoints is the composite dosing group. It is always carried
// whole: a delta that touches dosing includes every setpoint, matching
// what the dosing controller on the coordinator expects.
type DosingSetpoints struct {
	PhTarget     float64 `json:"ph_target"`
	EcTargetMsCm float64 `json:"ec_target_ms_cm"`
	DoseMl       float64 `json:"dose_ml"`
	IntervalS    int     `json:"interval_s"`
}

// DeviceState holds the sensor and actuator fields a device can report
// or be asked to apply. Every field is optional: a nil pointer means
// the field was absent from the message, which is distinct from a
// zero value and must never overwrite a previously known value.
//
// Tower and reservoir twins share this shape; each variant simply
// leaves the other variant's fields nil. Wire names are flat
// lower_snake_case, matching the coordinator firmware.
type DeviceState struct {
	// Tower environment and actuators.
	AirTempC        *float64 `json:"air_temp_c,omitempty"`
	HumidityPct     *float64 `json:"humidity_pct,omitempty"`
	LightLux        *float64 `json:"light_lux,omitempty"`
	PumpOn          *bool    `json:"pump_on,omitempty"`
	LightOn         *bool    `json:"light_on,omitempty"`
	LightBrightness *int     `json:"light_brightness,omitempty"`
	VbatMv          *int     `json:"vbat_mv,omitempty"`

	// Reservoir water quality and actuators.
	Ph                   *float64 `json:"ph,omitempty"`
	EcMsCm               *float64 `json:"ec_ms_cm,omitempty"`
	TdsPpm               *float64 `json:"tds_ppm,omitempty"`
	WaterTempC           *float64 `json:"water_temp_c,omitempty"`
	WaterLevelPct        *float64 `json:"water_level_pct,omitempty"`
	WaterLevelCm         *float64 `json:"water_level_cm,omitempty"`
	LowWaterAlert        *bool    `json:"low_water_alert,omitempty"`
	MainPumpOn           *bool    `json:"main_pump_on,omitempty"`
	DosingPumpPhOn       *bool    `json:"dosing_pump_ph_on,omitempty"`
	DosingPumpNutrientOn *bool    `json:"dosing_pump_nutrient_on,omitempty"`

	Dosing *DosingSetpoints `json:"dosing,omitempty"`

	// Shared system status.
	StatusMode *string `json:"status_mode,omitempty"`
	Fw         *string `json:"fw,omitempty"`
	UptimeS    *int64  `json:"uptime_s,omitempty"`
}

// IsEmpty reports whether no field is present at all.
func (s *DeviceState) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.AirTempC == nil && s.HumidityPct == nil && s.LightLux == nil &&
		s.PumpOn == nil && s.LightOn == nil && s.LightBrightness == nil &&
		s.VbatMv == nil &&
		s.Ph == nil && s.EcMsCm == nil && s.TdsPpm == nil &&
		s.WaterTempC == nil && s.WaterLevelPct == nil && s.WaterLevelCm == nil &&
		s.LowWaterAlert == nil && s.MainPumpOn == nil &&
		s.DosingPumpPhOn == nil && s.DosingPumpNutrientOn == nil &&
		s.Dosing == nil &&
		s.StatusMode == nil && s.Fw == nil && s.UptimeS == nil
}

// Pointer helpers for building partial states.

func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
func Int64(v int64) *int64       { return &v }
func Bool(v bool) *bool          { return &v }
func String(v string) *string    { return &v }
