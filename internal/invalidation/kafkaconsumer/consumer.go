// Package kafkaconsumer feeds grid refresh events from Kafka into the invalidator.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/aq-heatmap-tiles/internal/core/observability"
	"github.com/mohammed-shakir/aq-heatmap-tiles/internal/invalidation"
	mylog "github.com/mohammed-shakir/aq-heatmap-tiles/internal/logger"
)

var ErrNotReady = errors.New("kafkaconsumer: no partitions assigned")

// Applier is implemented by invalidation.Invalidator.
type Applier interface {
	Apply(ctx context.Context, ev invalidation.Event) (invalidation.Result, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	app    Applier
	zlog   *zerolog.Logger
	claims atomic.Int32
}

// New builds a consumer; zl receives structured error records and may be nil.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, app Applier) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if zl == nil {
		nop := zerolog.Nop()
		zl = &nop
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		app:    app,
		zlog:   mylog.FromContext(base, zl),
	}
}

// consumes refresh events from kafka until ctx ends
func (c *Consumer) Start(ctx context.Context) error {
	if c.app == nil {
		return errors.New("kafkaconsumer: missing dependencies (applier)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "aq-heatmap-tiles"
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, claims: &c.claims}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.RetryBackoff):
				}
			}
		}
	}
}

// Ready implements health.Probe: the consumer is ready once it owns a partition.
func (c *Consumer) Ready(context.Context) error {
	if c.claims.Load() == 0 {
		return ErrNotReady
	}
	return nil
}

// ProcessOne applies a single message. Undecodable or invalid events are
// logged and dropped; only apply failures are returned so the message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.drop(msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.drop(msg, "invalid", err)
		return nil
	}

	res, err := c.app.Apply(ctx, ev)
	if err != nil {
		obs.IncKafkaConsumerError("apply")
		c.zlog.Error().Err(err).
			Str("kind", "apply").
			Str("pollutant", ev.Pollutant).
			Uint64("version", ev.Version).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("apply refresh: %w", err)
	}

	c.logger.DebugContext(mylog.WithPollutant(ctx, ev.Pollutant), "refresh event applied",
		"version", ev.Version, "tiles", res.Tiles, "purged", res.Purged, "skipped", res.Skipped)
	return nil
}

func (c *Consumer) drop(msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	c.zlog.Warn().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("dropping refresh event")
}
