package mq

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
	"go.uber.org/zap"
)

// JSONPublisher is satisfied by *Publisher.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, body any) error
}

// Emitter publishes domain events to the exchange. Failures are logged and
// never reach the caller.
type Emitter struct {
	pub      JSONPublisher
	exchange string
	log      *zap.Logger
}

func NewEmitter(pub JSONPublisher, cfg *config.Config, log *zap.Logger) *Emitter {
	return &Emitter{pub: pub, exchange: cfg.RabbitMQ.Exchange, log: log}
}

func (e *Emitter) Publish(ctx context.Context, routingKey string, payload any) {
	if e == nil || e.pub == nil {
		return
	}
	if err := e.pub.PublishJSON(ctx, e.exchange, routingKey, payload); err != nil {
		e.log.Sugar().Warnw("publish event", "routing_key", routingKey, "err", err)
	}
}

// Dispatcher hands migration runs to the worker through the migration queue.
type Dispatcher struct {
	pub      JSONPublisher
	exchange string
}

func NewDispatcher(pub JSONPublisher, cfg *config.Config) *Dispatcher {
	return &Dispatcher{pub: pub, exchange: cfg.RabbitMQ.Exchange}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req service.MigrationRequest) error {
	return d.pub.PublishJSON(ctx, d.exchange, RoutingMigrationRun, req)
}

// MigrationWorker runs dispatched migration requests. Undecodable bodies are
// dropped.
func MigrationWorker(svc service.MigrationService, log *zap.Logger) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var req service.MigrationRequest
		if err := sonic.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("%w: decode migration request: %v", ErrDrop, err)
		}
		log.Sugar().Infow("migration run received", "run_id", req.RunID, "target", req.Target)
		if err := svc.RunQueued(ctx, req); err != nil {
			if service.IsNotFound(err) {
				return fmt.Errorf("%w: %v", ErrDrop, err)
			}
			return err
		}
		return nil
	}
}
