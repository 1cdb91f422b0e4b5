// Package api implements HTTP handlers and helpers for the tower placement
// service.
package api

import (
	"context"
	"log"
	"strings"

	"golang.org/x/time/rate"

	"towerplan/internal/auth"
	"towerplan/internal/config"
	"towerplan/internal/store"
	"towerplan/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker
	Runs    *Runner
	limiter *rate.Limiter
}

// NewServer creates a Server. Without a database URL the in-memory store is
// used; without a Redis URL events stay in-process.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.Migrate {
			if err := sp.Migrate(context.Background()); err != nil {
				return nil, err
			}
		}
		s = sp
	}
	// Broker selection
	var broker EventBroker = NewBroker()
	if cfg.Events.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.Events.RedisURL); err == nil {
			broker = rb
		} else {
			log.Printf("redis broker unavailable, using in-process events: %v", err)
		}
	}
	pub := webhooks.NewPublisher(s, cfg.Webhook.URL, cfg.Webhook.Secret)
	lim := rate.NewLimiter(rate.Inf, 0)
	if cfg.Server.RateRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.Server.RateRPS), max(cfg.Server.RateBurst, 1))
	}
	return &Server{
		Cfg:     cfg,
		Store:   s,
		Pub:     pub,
		Auth:    auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker:  broker,
		Runs:    NewRunner(s, broker, pub, cfg.Solver, cfg.Server.MaxRuns),
		limiter: lim,
	}, nil
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhook.MaxAttempts)
}
