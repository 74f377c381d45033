package api

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"wagate/internal/bridge"
	"wagate/internal/ledger"
	"wagate/internal/session"
)

// Controller drives the session lifecycle on behalf of the HTTP handlers.
type Controller interface {
	Materialize(ctx context.Context, sessionID string) (bridge.Client, error)
	Destroy(ctx context.Context, sessionID string) error
}

// Registry is the read side of the connection registry.
type Registry interface {
	QR(sessionID string) string
	Readiness(sessionID string) session.Readiness
}

// StatusReader answers message-status lookups from the ledger.
type StatusReader interface {
	LatestStatusFor(ctx context.Context, to string) (*ledger.Record, error)
	AttemptsFor(ctx context.Context, to string) ([]ledger.Record, error)
}

// Publisher enqueues send jobs on the durable queue.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	DefaultSession string
	SendSubject    string
	// Ready reports whether downstream dependencies are reachable; nil
	// means always ready.
	Ready func(ctx context.Context) error
}

// API wires dependencies and configuration for the HTTP handlers.
type API struct {
	log        zerolog.Logger
	controller Controller
	registry   Registry
	ledger     StatusReader
	queue      Publisher
	config     Config
}

func New(log zerolog.Logger, controller Controller, registry Registry, statusReader StatusReader, queue Publisher, cfg Config) (*API, error) {
	if controller == nil {
		return nil, errors.New("controller is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if statusReader == nil {
		return nil, errors.New("status reader is required")
	}
	if queue == nil {
		return nil, errors.New("queue publisher is required")
	}
	if cfg.DefaultSession == "" {
		return nil, errors.New("default session id is required")
	}
	if cfg.SendSubject == "" {
		return nil, errors.New("send subject is required")
	}

	return &API{
		log:        log,
		controller: controller,
		registry:   registry,
		ledger:     statusReader,
		queue:      queue,
		config:     cfg,
	}, nil
}
