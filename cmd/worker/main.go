package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyandhara/gyandhara-api/internal/bootstrap"
	"github.com/gyandhara/gyandhara-api/internal/config"
	dbpkg "github.com/gyandhara/gyandhara-api/internal/infra/db"
	mq "github.com/gyandhara/gyandhara-api/internal/infra/queue"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
	"github.com/gyandhara/gyandhara-api/internal/telemetry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/do"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// The worker runs queued migration sweeps and periodically reconciles
// upload intents that never committed.
func main() {
	inj := bootstrap.BuildContainer()

	cfg := do.MustInvoke[*config.Config](inj)
	log := do.MustInvoke[*zap.Logger](inj)

	shutdownTracing, err := telemetry.SetupTracing(cfg, "worker")
	if err != nil {
		log.Sugar().Warnw("failed to setup tracing, continuing without tracing", "err", err)
	} else if cfg.Telemetry.Enabled {
		if err := dbpkg.RegisterOpenTelemetryPlugin(do.MustInvoke[*gorm.DB](inj)); err != nil {
			log.Sugar().Warnw("failed to register GORM OpenTelemetry plugin", "err", err)
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	reconciler := do.MustInvoke[*service.Reconciler](inj)
	every := time.Duration(cfg.Upload.ReconcileEverySec) * time.Second
	olderThan := time.Duration(cfg.Upload.ReconcileAfterSec) * time.Second
	g.Go(func() error {
		log.Sugar().Infow("reconciler started", "every", every, "older_than", olderThan)
		reconciler.Run(ctx, every, olderThan)
		return nil
	})

	if cfg.RabbitMQ.URL == "" {
		log.Sugar().Warn("rabbitmq url not set, migration queue is not consumed")
	} else {
		consumer, err := mq.NewConsumer(do.MustInvoke[*amqp.Connection](inj), log, cfg)
		if err != nil {
			log.Sugar().Fatalw("create migration consumer", "err", err)
		}
		defer consumer.Close()

		worker := mq.MigrationWorker(do.MustInvoke[service.MigrationService](inj), log)
		g.Go(func() error {
			log.Sugar().Infow("consuming migration queue", "queue", cfg.RabbitMQ.MigrationQueue)
			return consumer.Handle(ctx, worker)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Sugar().Errorw("worker stopped", "err", err)
	}
	log.Sugar().Info("worker exited")
}
