// Package publish mirrors the game view to redis so dashboards outside the
// process can follow a running flight.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"lightspeed/internal/config"
	"lightspeed/internal/domain"
	"lightspeed/internal/logger"
)

// Publisher stores the latest view under Key and announces it on Channel.
// A nil Publisher is valid and does nothing.
type Publisher struct {
	client  *redis.Client
	channel string
	key     string
	pending chan domain.View
	log     *log.Logger
}

// New returns nil when redis is disabled in cfg.
func New(cfg *config.Config, l *log.Logger) (*Publisher, error) {
	if !cfg.Redis.Enabled {
		logger.Or(l).Debug("redis disabled, views are not published")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	return &Publisher{
		client:  redis.NewClient(opts),
		channel: cfg.Redis.Channel,
		key:     cfg.Redis.Key,
		pending: make(chan domain.View, 1),
		log:     logger.Or(l).With("component", "redis"),
	}, nil
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Publish writes v immediately.
func (p *Publisher) Publish(ctx context.Context, v domain.View) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key, data, 0)
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	return err
}

// Offer queues v for the Run loop without blocking; an unsent older view is
// replaced.
func (p *Publisher) Offer(v domain.View) {
	if p == nil {
		return
	}
	for {
		select {
		case p.pending <- v:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Run publishes queued views until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	if p == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-p.pending:
			if err := p.Publish(ctx, v); err != nil && ctx.Err() == nil {
				p.log.Warn("publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
