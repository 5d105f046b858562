// Package reconcile computes the outstanding command between a twin's
// desired and reported state.
package reconcile

import "github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"

// Compute returns the subset of desired fields that differ from the
// reported state, or nil when nothing differs. Fields absent from
// desired carry no opinion and never appear in the delta. An empty
// desired string is treated as absent. The dosing setpoint group is
// composite: whenever desired carries it, the whole group is included.
func Compute(reported, desired *models.DeviceState) *models.DeviceState {
	if desired == nil || desired.IsEmpty() {
		return nil
	}
	if reported == nil {
		reported = &models.DeviceState{}
	}

	delta := &models.DeviceState{}

	delta.AirTempC = diffFloat(reported.AirTempC, desired.AirTempC)
	delta.HumidityPct = diffFloat(reported.HumidityPct, desired.HumidityPct)
	delta.LightLux = diffFloat(reported.LightLux, desired.LightLux)
	delta.PumpOn = diffBool(reported.PumpOn, desired.PumpOn)
	delta.LightOn = diffBool(reported.LightOn, desired.LightOn)
	delta.LightBrightness = diffInt(reported.LightBrightness, desired.LightBrightness)
	delta.VbatMv = diffInt(reported.VbatMv, desired.VbatMv)

	delta.Ph = diffFloat(reported.Ph, desired.Ph)
	delta.EcMsCm = diffFloat(reported.EcMsCm, desired.EcMsCm)
	delta.TdsPpm = diffFloat(reported.TdsPpm, desired.TdsPpm)
	delta.WaterTempC = diffFloat(reported.WaterTempC, desired.WaterTempC)
	delta.WaterLevelPct = diffFloat(reported.WaterLevelPct, desired.WaterLevelPct)
	delta.WaterLevelCm = diffFloat(reported.WaterLevelCm, desired.WaterLevelCm)
	delta.LowWaterAlert = diffBool(reported.LowWaterAlert, desired.LowWaterAlert)
	delta.MainPumpOn = diffBool(reported.MainPumpOn, desired.MainPumpOn)
	delta.DosingPumpPhOn = diffBool(reported.DosingPumpPhOn, desired.DosingPumpPhOn)
	delta.DosingPumpNutrientOn = diffBool(reported.DosingPumpNutrientOn, desired.DosingPumpNutrientOn)

	// Composite group: never diffed setpoint-by-setpoint.
	if desired.Dosing != nil {
		group := *desired.Dosing
		delta.Dosing = &group
	}

	delta.StatusMode = diffString(reported.StatusMode, desired.StatusMode)
	delta.Fw = diffString(reported.Fw, desired.Fw)
	delta.UptimeS = diffInt64(reported.UptimeS, desired.UptimeS)

	if delta.IsEmpty() {
		return nil
	}
	return delta
}

func diffFloat(reported, desired *float64) *float64 {
	if desired == nil {
		return nil
	}
	if reported == nil || *reported != *desired {
		v := *desired
		return &v
	}
	return nil
}

func diffInt(reported, desired *int) *int {
	if desired == nil {
		return nil
	}
	if reported == nil || *reported != *desired {
		v := *desired
		return &v
	}
	return nil
}

func diffInt64(reported, desired *int64) *int64 {
	if desired == nil {
		return nil
	}
	if reported == nil || *reported != *desired {
		v := *desired
		return &v
	}
	return nil
}

func diffBool(reported, desired *bool) *bool {
	if desired == nil {
		return nil
	}
	if reported == nil || *reported != *desired {
		v := *desired
		return &v
	}
	return nil
}

func diffString(reported, desired *string) *string {
	if desired == nil || *desired == "" {
		return nil
	}
	if reported == nil || *reported != *desired {
		v := *desired
		return &v
	}
	return nil
}
