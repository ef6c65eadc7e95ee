package dispatch

import (
	"fmt"
	"time"
)

// Config defines engine-level dispatch settings. The per-mission chain and
// SLA window live on the mission's DispatchPolicy.
type Config struct {
	// ReminderOffsetsMinutes lists how long before offer expiry a reminder
	// is sent to the solicited carrier.
	ReminderOffsetsMinutes []int `json:"reminder_offsets_minutes"`
	// VigilanceTTLSeconds bounds how long a carrier screening status is cached.
	VigilanceTTLSeconds int `json:"vigilance_ttl_seconds"`
	// BroadSourcingID identifies the partner missions are assigned to when
	// escalation finds a carrier outside the chain.
	BroadSourcingID string `json:"broad_sourcing_id"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if len(c.ReminderOffsetsMinutes) == 0 {
		c.ReminderOffsetsMinutes = []int{30, 10}
	}
	if c.VigilanceTTLSeconds <= 0 {
		c.VigilanceTTLSeconds = int(DefaultVigilanceTTL / time.Second)
	}
	if c.BroadSourcingID == "" {
		c.BroadSourcingID = "affret-ia"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	for _, m := range c.ReminderOffsetsMinutes {
		if m <= 0 {
			return fmt.Errorf("reminder offset must be positive, got %d", m)
		}
	}
	return nil
}

// ReminderOffsets returns the configured offsets as durations.
func (c Config) ReminderOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(c.ReminderOffsetsMinutes))
	for _, m := range c.ReminderOffsetsMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}
