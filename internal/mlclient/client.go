// Package mlclient talks to the external dosing prediction service.
// The whole integration is optional: without a configured base URL
// the scheduler never invokes it.
package mlclient

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/config"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// ReservoirSnapshot is the feature set sent for a recommendation.
type ReservoirSnapshot struct {
	FarmID     string   `json:"farm_id"`
	CoordID    string   `json:"coord_id"`
	Ph         *float64 `json:"ph,omitempty"`
	EcMsCm     *float64 `json:"ec_ms_cm,omitempty"`
	TdsPpm     *float64 `json:"tds_ppm,omitempty"`
	WaterTempC *float64 `json:"water_temp_c,omitempty"`
}

// Recommendation is the prediction service's dosing advice.
type Recommendation struct {
	PhTarget     float64 `json:"ph_target"`
	EcTargetMsCm float64 `json:"ec_target_ms_cm"`
	Confidence   float64 `json:"confidence"`
}

// Client wraps the prediction service HTTP API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for the configured base URL.
func New(cfg *config.MLConfig, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, logger: logger}
}

// RecommendDosing asks the service for dosing setpoints given the
// reservoir's latest readings.
func (c *Client) RecommendDosing(ctx context.Context, snapshot *ReservoirSnapshot) (*Recommendation, error) {
	var rec Recommendation
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(snapshot).
		SetResult(&rec).
		Post("/v1/dosing/recommend")
	if err != nil {
		return nil, fmt.Errorf("failed to call prediction service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("prediction service returned %s", resp.Status())
	}

	c.logger.Debug("Dosing recommendation received",
		zap.String("coord_id", snapshot.CoordID),
		zap.Float64("ph_target", rec.PhTarget),
		zap.Float64("ec_target", rec.EcTargetMsCm),
		zap.Float64("confidence", rec.Confidence),
	)
	return &rec, nil
}

// SnapshotFromTwin builds the feature payload for a reservoir twin.
func SnapshotFromTwin(twin *models.Twin) *ReservoirSnapshot {
	return &ReservoirSnapshot{
		FarmID:     twin.FarmID,
		CoordID:    twin.CoordID,
		Ph:         twin.Reported.Ph,
		EcMsCm:     twin.Reported.EcMsCm,
		TdsPpm:     twin.Reported.TdsPpm,
		WaterTempC: twin.Reported.WaterTempC,
	}
}
