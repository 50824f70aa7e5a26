// Package kafkaconsumer drains layer republish events and applies them
// to the byte cache and the server-side session pool.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/itogeo/hometownmap/internal/cache"
	"github.com/itogeo/hometownmap/internal/cache/keys"
	"github.com/itogeo/hometownmap/internal/core/config"
	"github.com/itogeo/hometownmap/internal/core/model"
	obs "github.com/itogeo/hometownmap/internal/core/observability"
	"github.com/itogeo/hometownmap/internal/invalidation"
)

// SessionInvalidator drops any server-side session state derived from
// a tenant's published layers. Implemented by the viewer pool.
type SessionInvalidator interface {
	Invalidate(tenant model.TenantID, layer model.LayerID)
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	cache    cache.Interface
	sessions SessionInvalidator
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// FromApp converts the application-level invalidation settings into
// consumer configuration.
func FromApp(c config.InvalidationCfg) Config {
	return Config{
		Brokers:             splitCSV(c.Brokers),
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      c.SessionTimeout,
		Heartbeat:           c.Heartbeat,
		RebalanceTimeout:    c.RebalanceTimeout,
		InitialOffsetOldest: c.InitialOldest,
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func New(cfg Config, logger *slog.Logger, c cache.Interface, sessions SessionInvalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c, sessions: sessions}
}

// Start joins the consumer group and processes events until ctx is
// cancelled. Offsets are committed only after an event is fully
// applied, so a crash mid-event replays it.
func (c *Consumer) Start(ctx context.Context) error {
	if c.sessions == nil {
		return errors.New("kafkaconsumer: missing session invalidator")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
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

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("republish consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("republish consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single republish event: the tenant's byte-cache
// entry for the layer is deleted and any pooled session for the tenant
// is dropped so the next request rebuilds from fresh data.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidationEvent("decode_error")
		c.logger.Error("republish event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("json decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidationEvent("invalid")
		c.logger.Warn("republish event rejected",
			"topic", msg.Topic, "offset", msg.Offset, "err", err)
		// malformed events are logged and skipped, not retried
		return nil
	}

	tenant := model.TenantID(ev.City)
	layer := model.LayerID(ev.Layer)

	if c.cache != nil {
		if err := c.cache.Del(ctx, keys.Layer(tenant, layer)); err != nil {
			obs.IncInvalidationEvent("cache_error")
			return fmt.Errorf("byte cache del: %w", err)
		}
	}
	c.sessions.Invalidate(tenant, layer)

	obs.IncInvalidationEvent("applied")
	c.logger.Info("layer invalidated",
		"op", ev.Op, "city", ev.City, "layer", ev.Layer)
	return nil
}
