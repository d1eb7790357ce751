package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	RetryBackoff        time.Duration
	InitialOffsetOldest bool
}

// FromConfig fills the consumer settings from the service config.
func FromConfig(c config.InvalidationCfg) Config {
	return Config{
		Brokers:          c.Brokers,
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		RetryBackoff:     2 * time.Second,
		// tiles cached before startup are gone anyway; only new refreshes matter
		InitialOffsetOldest: false,
	}
}
