package alerts

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// check is one threshold rule outcome. fire creates the alert, clear
// auto-resolves it; when neither is set the rule had no data to judge
// (sensor absent or zero reading) and is skipped entirely.
type check struct {
	category models.AlertCategory
	severity models.AlertSeverity
	message  string
	fire     bool
	clear    bool
}

// EvaluateReservoir runs all reservoir threshold rules against the
// twin's current reported state. Each rule is isolated: a storage
// failure in one is logged and the rest still run.
func (e *Engine) EvaluateReservoir(ctx context.Context, twin *models.Twin) {
	r := twin.Reported
	checks := []check{e.checkConnectivity(twin)}
	checks = append(checks, e.checkHighLow(models.AlertTemperatureHigh, models.AlertTemperatureLow,
		r.WaterTempC, e.thresholds.WaterTempHighC, e.thresholds.WaterTempLowC, "Water temperature")...)
	checks = append(checks,
		e.checkWaterLevel(r.WaterLevelPct),
		e.checkPh(r.Ph),
		e.checkEc(twin),
	)
	e.apply(ctx, twin, checks)
}

// EvaluateTower runs all tower threshold rules.
func (e *Engine) EvaluateTower(ctx context.Context, twin *models.Twin) {
	r := twin.Reported
	checks := []check{e.checkConnectivity(twin)}
	checks = append(checks, e.checkHighLow(models.AlertTemperatureHigh, models.AlertTemperatureLow,
		r.AirTempC, e.thresholds.AirTempHighC, e.thresholds.AirTempLowC, "Air temperature")...)
	checks = append(checks,
		e.checkBattery(r.VbatMv),
		e.checkTowerOffline(r.StatusMode),
	)
	e.apply(ctx, twin, checks)
}

func (e *Engine) apply(ctx context.Context, twin *models.Twin, checks []check) {
	deviceID := twin.Key().DeviceID()
	for _, c := range checks {
		var err error
		switch {
		case c.fire:
			_, err = e.CreateAlert(ctx, twin.FarmID, deviceID, c.severity, c.category, c.message)
		case c.clear:
			_, err = e.AutoResolveAlert(ctx, twin.FarmID, deviceID, c.category)
		default:
			continue
		}
		if err != nil {
			e.logger.Error("Alert check failed",
				zap.String("device_id", deviceID),
				zap.String("category", string(c.category)),
				zap.Error(err),
			)
		}
	}
}

// checkConnectivity fires when the twin has not reported within the
// connectivity timeout. A twin that never reported is left alone.
func (e *Engine) checkConnectivity(twin *models.Twin) check {
	c := check{category: models.AlertConnectivity, severity: models.SeverityWarning}
	if twin.LastReportedAt == nil {
		return c
	}
	age := e.now().Sub(*twin.LastReportedAt)
	if age > e.thresholds.ConnectivityTimeout {
		c.fire = true
		c.message = fmt.Sprintf("Device silent for %s", age.Round(time.Second))
	} else {
		c.clear = true
	}
	return c
}

// checkHighLow evaluates a temperature reading against both bounds
// and returns one check per category: tripping one side clears the
// other, and an in-range reading clears both. A reading of exactly
// zero is treated as sensor-absent and skips both.
func (e *Engine) checkHighLow(highCat, lowCat models.AlertCategory, value *float64, high, low float64, label string) []check {
	hi := check{category: highCat, severity: models.SeverityWarning}
	lo := check{category: lowCat, severity: models.SeverityWarning}
	if value == nil || *value == 0 {
		return []check{hi, lo}
	}
	switch {
	case *value > high:
		hi.fire = true
		hi.message = fmt.Sprintf("%s %.1f°C above %.1f°C", label, *value, high)
		lo.clear = true
	case *value < low:
		lo.fire = true
		lo.message = fmt.Sprintf("%s %.1f°C below %.1f°C", label, *value, low)
		hi.clear = true
	default:
		hi.clear = true
		lo.clear = true
	}
	return []check{hi, lo}
}

func (e *Engine) checkWaterLevel(level *float64) check {
	c := check{category: models.AlertWaterLevel, severity: models.SeverityCritical}
	if level == nil || *level == 0 {
		return c
	}
	if *level < e.thresholds.WaterLevelLowPct {
		c.fire = true
		c.message = fmt.Sprintf("Water level %.0f%% below %.0f%%", *level, e.thresholds.WaterLevelLowPct)
	} else {
		c.clear = true
	}
	return c
}

func (e *Engine) checkPh(ph *float64) check {
	c := check{category: models.AlertPhOutOfRange, severity: models.SeverityWarning}
	if ph == nil || *ph == 0 {
		return c
	}
	if *ph < e.thresholds.PhMin || *ph > e.thresholds.PhMax {
		c.fire = true
		c.message = fmt.Sprintf("pH %.2f outside %.1f-%.1f", *ph, e.thresholds.PhMin, e.thresholds.PhMax)
	} else {
		c.clear = true
	}
	return c
}

// checkEc only judges conductivity when a target setpoint exists in
// the desired state; without one there is nothing to compare against,
// so neither fire nor clear happens.
func (e *Engine) checkEc(twin *models.Twin) check {
	c := check{category: models.AlertEcOutOfRange, severity: models.SeverityWarning}
	reading := twin.Reported.EcMsCm
	if reading == nil || *reading == 0 {
		return c
	}
	dosing := twin.Desired.Dosing
	if dosing == nil || dosing.EcTargetMsCm == 0 {
		return c
	}
	target := dosing.EcTargetMsCm
	if math.Abs(*reading-target)/target > e.thresholds.EcRelativeTolerance {
		c.fire = true
		c.message = fmt.Sprintf("EC %.2f mS/cm deviates from target %.2f", *reading, target)
	} else {
		c.clear = true
	}
	return c
}

func (e *Engine) checkBattery(vbat *int) check {
	c := check{category: models.AlertBatteryLow, severity: models.SeverityWarning}
	if vbat == nil || *vbat == 0 {
		return c
	}
	if *vbat < e.thresholds.BatteryLowMv {
		c.fire = true
		c.message = fmt.Sprintf("Battery %dmV below %dmV", *vbat, e.thresholds.BatteryLowMv)
	} else {
		c.clear = true
	}
	return c
}

// checkTowerOffline fires on an error or offline status mode and only
// clears once the tower reports operational again. Transitional modes
// like pairing or ota neither fire nor clear.
func (e *Engine) checkTowerOffline(mode *string) check {
	c := check{category: models.AlertTowerOffline, severity: models.SeverityCritical}
	if mode == nil || *mode == "" {
		return c
	}
	switch *mode {
	case models.StatusModeError, models.StatusModeOffline:
		c.fire = true
		c.message = fmt.Sprintf("Tower reported status %s", *mode)
	case models.StatusModeOperational:
		c.clear = true
	}
	return c
}
