// Package metrics exposes operational metrics over Prometheus and mirrors
// bus events into InfluxDB for historical dashboards.
package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

// InfluxConfig holds connection settings for the Influx sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Validate checks required fields.
func (c *InfluxConfig) Validate() error {
	if c.URL == "" || c.Org == "" || c.Bucket == "" {
		return fmt.Errorf("influx url, org and bucket are required")
	}
	return nil
}

// InfluxSink subscribes to the event bus and writes one point per mission,
// offer, geofence and sync event. Writes go through the non-blocking write
// API so a slow Influx never backpressures dispatching.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPI
	bus    eventbus.EventBus
	sub    <-chan eventbus.Event
	log    logger.Logger
	done   chan struct{}
}

// NewInfluxSink connects to Influx and subscribes to the bus.
func NewInfluxSink(cfg InfluxConfig, bus eventbus.EventBus, log logger.Logger) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bus == nil || log == nil {
		return nil, fmt.Errorf("metrics: nil parameter provided to NewInfluxSink")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := &InfluxSink{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
		bus:    bus,
		sub:    bus.Subscribe(),
		log:    log,
		done:   make(chan struct{}),
	}
	go s.loop()
	go s.logErrors()
	return s, nil
}

func (s *InfluxSink) loop() {
	defer close(s.done)
	for evt := range s.sub {
		switch e := evt.(type) {
		case events.MissionEvent:
			p := influxdb2.NewPoint("mission_transition",
				map[string]string{"from": e.From.String(), "to": e.To.String()},
				map[string]any{"mission_id": e.MissionID, "version": e.Version, "automatic": e.Automatic},
				e.Timestamp)
			s.write.WritePoint(p)
		case events.OfferEvent:
			p := influxdb2.NewPoint("dispatch_offer",
				map[string]string{"action": e.Action},
				map[string]any{"mission_id": e.MissionID, "candidate_id": e.CandidateID, "chain_index": e.ChainIndex},
				time.Now())
			s.write.WritePoint(p)
		case events.GeofenceEvent:
			p := influxdb2.NewPoint("geofence_event",
				map[string]string{"zone": e.Zone.String(), "transition": e.Transition.String()},
				map[string]any{"mission_id": e.MissionID},
				e.Timestamp)
			s.write.WritePoint(p)
		case events.SyncEvent:
			p := influxdb2.NewPoint("sync_mutation",
				map[string]string{"action": e.Action, "type": e.Type},
				map[string]any{"mutation_id": e.MutationID, "retry_count": e.RetryCount},
				e.Timestamp)
			s.write.WritePoint(p)
		}
	}
}

func (s *InfluxSink) logErrors() {
	for err := range s.write.Errors() {
		s.log.Warnf("influx write: %v", err)
	}
}

// Close unsubscribes, flushes buffered points and closes the client.
func (s *InfluxSink) Close(ctx context.Context) error {
	s.bus.Unsubscribe(s.sub)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.write.Flush()
	s.client.Close()
	return nil
}
