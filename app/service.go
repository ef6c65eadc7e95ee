// Package app assembles the dispatch and tracking service from its parts.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rt-technologie/freightd/api"
	"github.com/rt-technologie/freightd/config"
	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/core/tracking"
	"github.com/rt-technologie/freightd/infra/cache"
	"github.com/rt-technologie/freightd/infra/logger"
	"github.com/rt-technologie/freightd/infra/metrics"
	"github.com/rt-technologie/freightd/infra/mqtt"
	"github.com/rt-technologie/freightd/infra/store"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// Service orchestrates the mission machine, the dispatch engine, the geofence
// tracker and their transports.
type Service struct {
	Machine *mission.Machine
	Engine  *dispatch.Engine
	Tracker *tracking.Tracker

	cfg       *config.Config
	server    *api.Server
	estimator *tracking.Estimator
	source    *mqtt.Source
	sink      *metrics.InfluxSink
	geofence  <-chan events.GeofenceEvent
	geoBus    *eventbus.TypedBus[events.GeofenceEvent]
	bus       eventbus.EventBus
	db        *store.DB
	redis     *cache.VigilanceCache
	log       logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	bus := eventbus.New()
	geoBus := eventbus.NewTyped[events.GeofenceEvent]()

	var (
		missions mission.Store
		offers   dispatch.OfferStore
		db       *store.DB
	)
	if cfg.Store.Memory {
		missions = mission.NewMemoryStore()
		offers = dispatch.NewMemoryOfferStore()
	} else {
		var err error
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		missions = store.NewMissionStore(db)
		offers = store.NewOfferStore(db)
	}

	machine, err := mission.NewMachine(missions, bus, logger.New("mission"))
	if err != nil {
		return nil, err
	}

	var redisCache *cache.VigilanceCache
	var vigilanceCache dispatch.VigilanceCacheStore = dispatch.NewMemoryVigilanceCache()
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		redisCache, err = cache.NewVigilanceCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("vigilance cache: %w", err)
		}
		vigilanceCache = redisCache
	}
	vigilance := dispatch.NewCachedVigilance(
		dispatch.StaticVigilance{},
		vigilanceCache,
		time.Duration(cfg.Dispatch.VigilanceTTLSeconds)*time.Second,
	)

	// Broad sourcing assigns the configured partner when the chain runs dry.
	partner := cfg.Dispatch.BroadSourcingID
	escalator := dispatch.EscalatorFunc(func(_ context.Context, m model.Mission) (string, error) {
		return partner, nil
	})

	engine, err := dispatch.NewEngine(machine, offers, escalator, logNotifier{logger.New("notify")}, vigilance, bus, logger.New("dispatch"), cfg.Dispatch)
	if err != nil {
		return nil, err
	}

	var (
		history  tracking.HistoryStore = tracking.NewMemoryHistory()
		eventLog tracking.EventStore   = tracking.NewMemoryEventLog()
	)
	if db != nil {
		// Tracking data persists alongside missions and offers so the
		// position trail and the event log survive restarts too.
		history = store.NewPositionHistory(db)
		eventLog = store.NewGeofenceEventLog(db)
	}
	dwell := time.Duration(cfg.Tracking.DwellSeconds) * time.Second
	tracker, err := tracking.NewTracker(missions, history, eventLog, geoBus, logger.New("tracking"), dwell)
	if err != nil {
		return nil, err
	}

	var traffic tracking.TrafficModel
	if cfg.Tracking.TrafficModelPath != "" {
		tm, err := tracking.LoadTrafficModel(cfg.Tracking.TrafficModelPath)
		if err != nil {
			return nil, fmt.Errorf("traffic model: %w", err)
		}
		traffic = tm
	}
	estimator := tracking.NewEstimator(cfg.Tracking.Estimator, traffic)

	server, err := api.NewServer(machine, engine, tracker, estimator, history, eventLog, missions, logger.New("api"))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		Machine:   machine,
		Engine:    engine,
		Tracker:   tracker,
		cfg:       cfg,
		server:    server,
		estimator: estimator,
		geofence:  geoBus.Subscribe(),
		geoBus:    geoBus,
		bus:       bus,
		db:        db,
		redis:     redisCache,
		log:       logg,
	}

	if cfg.MQTT.Enabled {
		source, err := mqtt.NewSource(cfg.MQTT.Config, svc.ingestFix, logger.New("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("mqtt source: %w", err)
		}
		svc.source = source
	}
	if cfg.Metrics.InfluxEnabled {
		sink, err := metrics.NewInfluxSink(cfg.Metrics.Influx, bus, logger.New("influx"))
		if err != nil {
			return nil, fmt.Errorf("influx sink: %w", err)
		}
		svc.sink = sink
	}
	return svc, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover dispatch timers: %w", err)
	}
	go s.geofenceLoop(ctx)
	go func() {
		if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PromAddr, s.log); err != nil {
			s.log.Errorf("prom server: %v", err)
		}
	}()
	if s.source != nil {
		if err := s.source.Start(ctx); err != nil {
			return fmt.Errorf("mqtt source: %w", err)
		}
	}
	return s.server.Run(ctx, s.cfg.API.Addr)
}

// geofenceLoop feeds derived zone events into the state machine and mirrors
// them on the generic bus for the metric sinks.
func (s *Service) geofenceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.geofence:
			if !ok {
				return
			}
			s.bus.Publish(ev)
			if _, applied, err := s.Machine.ApplyGeofence(ctx, ev); err != nil {
				s.log.Warnf("apply geofence event for %s: %v", ev.MissionID, err)
			} else if applied {
				s.log.Infof("mission %s advanced by %s %s", ev.MissionID, ev.Zone, ev.Transition)
			}
		}
	}
}

// ingestFix is the MQTT handler: same path as the HTTP position endpoint.
func (s *Service) ingestFix(ctx context.Context, fix model.PositionFix) error {
	if _, err := s.Tracker.Record(ctx, fix); err != nil {
		return err
	}
	if fix.SpeedKMH != nil {
		s.estimator.Observe(fix.MissionID, *fix.SpeedKMH)
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.source != nil {
		s.source.Close()
	}
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.Close(ctx); err != nil {
			s.log.Warnf("close influx sink: %v", err)
		}
	}
	if err := s.Engine.Close(); err != nil {
		s.log.Warnf("close engine: %v", err)
	}
	s.geoBus.Close()
	s.bus.Close()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.Warnf("close redis: %v", err)
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// logNotifier writes notifications to the log. Real delivery channels hang
// off the Notifier interface.
type logNotifier struct {
	log logger.Logger
}

func (n logNotifier) Notify(_ context.Context, notif dispatch.Notification) error {
	n.log.Infof("notify %s carrier=%s mission=%s: %s", notif.Kind, notif.CarrierID, notif.MissionID, notif.Subject)
	return nil
}
