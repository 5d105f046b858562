// Package scheduler runs the periodic maintenance loops: republishing
// commands for twins stuck pending, marking silent twins stale,
// expiring pairing windows, and (when configured) fetching dosing
// recommendations. Every loop isolates per-item failures; one bad
// device never stops a sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/config"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mlclient"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// TwinStore is the bulk query surface the sweeps need.
type TwinStore interface {
	ListBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.Twin, error)
	ListReservoirs(ctx context.Context) ([]*models.Twin, error)
	MarkStaleBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TwinEngine re-reads and republishes; the store row is the source of
// truth, never a value cached across the sweep.
type TwinEngine interface {
	Republish(ctx context.Context, key models.TwinKey) (bool, error)
	SetDesired(ctx context.Context, key models.TwinKey, fields *models.DeviceState) (*models.Twin, error)
}

// PairingEngine expires timed-out sessions.
type PairingEngine interface {
	ExpireTimedOutSessions() []*models.PairingSession
}

// AlertEngine raises connectivity alerts for twins the staleness
// sweep marks silent. Deduplication lives in the engine, so re-firing
// for an already-alerted twin is a no-op; the alert auto-resolves
// when the device reports again.
type AlertEngine interface {
	CreateAlert(ctx context.Context, farmID, deviceID string, severity models.AlertSeverity, category models.AlertCategory, message string) (*models.Alert, error)
}

// Recommender fetches dosing advice for a reservoir.
type Recommender interface {
	RecommendDosing(ctx context.Context, snapshot *mlclient.ReservoirSnapshot) (*mlclient.Recommendation, error)
}

// Scheduler owns the timer loops.
type Scheduler struct {
	store       TwinStore
	engine      TwinEngine
	pairing     PairingEngine
	alerts      AlertEngine
	recommender Recommender // nil disables the recommendation job
	metrics     *metrics.Metrics
	cfg         config.SyncConfig
	mlInterval  time.Duration
	logger      *zap.Logger

	now func() time.Time
	wg  sync.WaitGroup
}

// New creates the scheduler. Pass a nil recommender to disable the
// dosing recommendation job.
func New(store TwinStore, engine TwinEngine, pairing PairingEngine, alerts AlertEngine, recommender Recommender,
	m *metrics.Metrics, cfg config.SyncConfig, mlInterval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		engine:      engine,
		pairing:     pairing,
		alerts:      alerts,
		recommender: recommender,
		metrics:     m,
		cfg:         cfg,
		mlInterval:  mlInterval,
		logger:      logger,
		now:         time.Now,
	}
}

// Start launches all loops. They stop when ctx is cancelled; Wait
// blocks until they have drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop(ctx, s.cfg.PendingSweepInterval, "pending sweep", s.sweepPending)
	s.loop(ctx, s.cfg.StaleSweepInterval, "staleness sweep", s.sweepStale)
	s.loop(ctx, s.cfg.PairingExpiryInterval, "pairing expiry", s.expirePairing)
	if s.recommender != nil {
		s.loop(ctx, s.mlInterval, "dosing recommendation", s.recommendDosing)
	}
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.logger.Info("Scheduler loop started",
			zap.String("loop", name),
			zap.Duration("interval", interval),
		)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Scheduler loop stopped", zap.String("loop", name))
				return
			case <-ticker.C:
				run(ctx)
			}
		}
	}()
}

// sweepPending republishes the delta for every twin still waiting on
// its device. Each twin is re-read inside Republish so an arrival
// mid-sweep is respected.
func (s *Scheduler) sweepPending(ctx context.Context) {
	twins, err := s.store.ListBySyncStatus(ctx, models.SyncPending)
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues("pending").Inc()
		s.logger.Error("Pending sweep query failed", zap.Error(err))
		return
	}

	republished := 0
	for _, twin := range twins {
		sent, err := s.engine.Republish(ctx, twin.Key())
		if err != nil {
			s.metrics.SweepErrors.WithLabelValues("pending").Inc()
			s.logger.Error("Failed to republish pending twin",
				zap.String("device_id", twin.Key().DeviceID()),
				zap.Error(err),
			)
			continue
		}
		if sent {
			republished++
		}
	}

	if republished > 0 {
		s.logger.Info("Pending sweep republished commands",
			zap.Int("pending", len(twins)),
			zap.Int("republished", republished),
		)
	}
}

// sweepStale marks silent twins stale and raises a connectivity
// alert for each one. Telemetry handlers only see twins that just
// reported, so this sweep is the place silence is actually noticed;
// the alert clears on the device's next report.
func (s *Scheduler) sweepStale(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleThreshold)
	marked, err := s.store.MarkStaleBefore(ctx, cutoff)
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues("stale").Inc()
		s.logger.Error("Staleness sweep failed", zap.Error(err))
		return
	}
	if marked > 0 {
		s.metrics.TwinsStale.Add(float64(marked))
		s.logger.Info("Marked twins stale", zap.Int64("count", marked))
	}

	twins, err := s.store.ListBySyncStatus(ctx, models.SyncStale)
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues("stale").Inc()
		s.logger.Error("Staleness sweep query failed", zap.Error(err))
		return
	}
	for _, twin := range twins {
		message := "Device stopped reporting"
		if twin.LastReportedAt != nil {
			age := s.now().Sub(*twin.LastReportedAt)
			message = fmt.Sprintf("Device silent for %s", age.Round(time.Second))
		}
		_, err := s.alerts.CreateAlert(ctx, twin.FarmID, twin.Key().DeviceID(),
			models.SeverityWarning, models.AlertConnectivity, message)
		if err != nil {
			s.metrics.SweepErrors.WithLabelValues("stale").Inc()
			s.logger.Error("Failed to raise connectivity alert",
				zap.String("device_id", twin.Key().DeviceID()),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) expirePairing(ctx context.Context) {
	s.pairing.ExpireTimedOutSessions()
}

// recommendDosing asks the prediction service for setpoints per
// reservoir and applies them as desired state. Reservoirs without a
// pH reading are skipped; there is nothing to predict from.
func (s *Scheduler) recommendDosing(ctx context.Context) {
	twins, err := s.store.ListReservoirs(ctx)
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues("recommendation").Inc()
		s.logger.Error("Recommendation sweep query failed", zap.Error(err))
		return
	}

	for _, twin := range twins {
		if twin.Reported.Ph == nil {
			continue
		}
		rec, err := s.recommender.RecommendDosing(ctx, mlclient.SnapshotFromTwin(twin))
		if err != nil {
			s.metrics.SweepErrors.WithLabelValues("recommendation").Inc()
			s.logger.Error("Dosing recommendation failed",
				zap.String("coord_id", twin.CoordID),
				zap.Error(err),
			)
			continue
		}

		desired := &models.DeviceState{
			Dosing: &models.DosingSetpoints{
				PhTarget:     rec.PhTarget,
				EcTargetMsCm: rec.EcTargetMsCm,
			},
		}
		if _, err := s.engine.SetDesired(ctx, twin.Key(), desired); err != nil {
			s.metrics.SweepErrors.WithLabelValues("recommendation").Inc()
			s.logger.Error("Failed to apply dosing recommendation",
				zap.String("coord_id", twin.CoordID),
				zap.Error(err),
			)
		}
	}
}
