// Package service assembles the sync core: storage, broker, engines,
// router, scheduler, and the HTTP surface for websocket fan-out and
// metrics.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/admission"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/alerts"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/config"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/database"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mlclient"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mqtt"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/pairing"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/realtime"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/redisclient"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/repository"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/router"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/scheduler"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/telemetry"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/twin"
)

// SyncService wires every layer of the twin sync core.
type SyncService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	twinRepo  *repository.TwinRepository
	alertRepo *repository.AlertRepository
	farmRepo  *repository.FarmRepository

	hub       *realtime.Hub
	notifier  *realtime.Notifier
	metrics   *metrics.Metrics
	telemetry *telemetry.Store
	admission *admission.Cache

	twinEngine    *twin.Engine
	alertEngine   *alerts.Engine
	pairingEngine *pairing.Engine
	router        *router.Router
	scheduler     *scheduler.Scheduler

	httpServer   *http.Server
	cancelLoops  context.CancelFunc
	stopNotifier context.CancelFunc
}

// NewSyncService builds and connects everything. It fails fast on an
// unreachable database, Redis, or broker.
func NewSyncService(cfg *config.Config, logger *zap.Logger) (*SyncService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	redisClient := redisclient.New(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, cfg.Sync.PublishTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect broker: %w", err)
	}

	twinRepo := repository.NewTwinRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	farmRepo := repository.NewFarmRepository(db, logger)

	m := metrics.New()
	hub := realtime.NewHub(logger)
	notifier := realtime.NewNotifier(hub, 256, logger)
	telemetryStore := telemetry.NewStore(redisClient, cfg.Telemetry.Retention, logger)
	admissionCache := admission.NewCache(redisClient, logger)

	twinEngine := twin.NewEngine(twinRepo, mqttClient, notifier, m, cfg.MQTT.QoS, logger)
	alertEngine := alerts.NewEngine(alertRepo, farmRepo, notifier, m, alerts.DefaultThresholds(), logger)
	pairingEngine := pairing.NewEngine(pairing.NewSessionIndex(), twinRepo, mqttClient, notifier, cfg.MQTT.QoS, logger)

	messageRouter := router.New(mqttClient, twinEngine, twinRepo, alertEngine, pairingEngine,
		admissionCache, telemetryStore, notifier, m,
		cfg.MQTT.QoS, cfg.Sync.PublishTimeout, logger)

	var recommender scheduler.Recommender
	if cfg.ML.BaseURL != "" {
		recommender = mlclient.New(&cfg.ML, logger)
	}
	sched := scheduler.New(twinRepo, twinEngine, pairingEngine, alertEngine, recommender,
		m, cfg.Sync, cfg.ML.RecommendationInterval, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", m.Handler())
	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: mux,
	}

	return &SyncService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		mqttClient:    mqttClient,
		logger:        logger,
		twinRepo:      twinRepo,
		alertRepo:     alertRepo,
		farmRepo:      farmRepo,
		hub:           hub,
		notifier:      notifier,
		metrics:       m,
		telemetry:     telemetryStore,
		admission:     admissionCache,
		twinEngine:    twinEngine,
		alertEngine:   alertEngine,
		pairingEngine: pairingEngine,
		router:        messageRouter,
		scheduler:     sched,
		httpServer:    httpServer,
	}, nil
}

// Start seeds the admission cache, subscribes the router, and launches
// the background loops and HTTP server.
func (s *SyncService) Start(ctx context.Context) error {
	s.logger.Info("Starting sync service")

	seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	coords, err := s.farmRepo.ListCoordinatorIDs(seedCtx)
	if err != nil {
		return fmt.Errorf("failed to load known coordinators: %w", err)
	}
	if err := s.admission.Seed(seedCtx, coords); err != nil {
		return fmt.Errorf("failed to seed admission cache: %w", err)
	}

	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	s.stopNotifier = stopNotifier
	go s.notifier.Run(notifierCtx)

	if err := s.router.Start(); err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	s.cancelLoops = cancelLoops
	s.scheduler.Start(loopCtx)

	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the service down in dependency order: stop ingesting,
// drain the loops, then close connections.
func (s *SyncService) Stop() error {
	s.logger.Info("Stopping sync service")

	s.mqttClient.Disconnect()

	if s.cancelLoops != nil {
		s.cancelLoops()
		s.scheduler.Wait()
	}
	if s.stopNotifier != nil {
		s.stopNotifier()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := redisclient.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
