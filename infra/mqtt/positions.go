// Package mqtt ingests position fixes published by telematics units.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/model"
)

// DefaultTopic is the shared subscription for all mission position feeds.
const DefaultTopic = "freight/positions/+"

// Config holds MQTT broker connection settings.
type Config struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "freightd"
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	return nil
}

// Handler consumes one decoded position fix.
type Handler func(ctx context.Context, fix model.PositionFix) error

// Source subscribes to the position topic and forwards decoded fixes to the
// handler. Malformed payloads are logged and skipped; the subscription stays
// up.
type Source struct {
	client  paho.Client
	cfg     Config
	handler Handler
	log     logger.Logger
}

// NewSource connects to the broker and returns a Source ready to Start.
func NewSource(cfg Config, handler Handler, log logger.Logger) (*Source, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil || log == nil {
		return nil, fmt.Errorf("mqtt: nil parameter provided to NewSource")
	}
	s := &Source{cfg: cfg, handler: handler, log: log}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			// Re-subscribe after every (re)connect.
			if token := c.Subscribe(cfg.Topic, cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
				log.Errorf("subscribe %s: %v", cfg.Topic, token.Error())
				return
			}
			log.Infof("subscribed to %s", cfg.Topic)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("mqtt connection lost: %v", err)
		})

	s.client = paho.NewClient(opts)
	return s, nil
}

// Start connects to the broker. Subscription happens in the connect handler.
func (s *Source) Start(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *Source) Close() {
	s.client.Disconnect(250)
}

func (s *Source) onMessage(_ paho.Client, msg paho.Message) {
	var fix model.PositionFix
	if err := json.Unmarshal(msg.Payload(), &fix); err != nil {
		s.log.Warnf("malformed position payload on %s: %v", msg.Topic(), err)
		return
	}
	if fix.MissionID == "" {
		fix.MissionID = missionFromTopic(msg.Topic())
	}
	if err := s.handler(context.Background(), fix); err != nil {
		s.log.Warnf("position fix for %s rejected: %v", fix.MissionID, err)
	}
}

// missionFromTopic extracts the mission id from freight/positions/<id>.
func missionFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
