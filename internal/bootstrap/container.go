package bootstrap

import (
	"context"
	"time"

	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/infra/blob"
	"github.com/gyandhara/gyandhara-api/internal/infra/cache"
	"github.com/gyandhara/gyandhara-api/internal/infra/db"
	"github.com/gyandhara/gyandhara-api/internal/infra/httpclient"
	"github.com/gyandhara/gyandhara-api/internal/infra/logger"
	mq "github.com/gyandhara/gyandhara-api/internal/infra/queue"
	"github.com/gyandhara/gyandhara-api/internal/infra/release"
	"github.com/gyandhara/gyandhara-api/internal/modules/handler"
	"github.com/gyandhara/gyandhara-api/internal/modules/model"
	"github.com/gyandhara/gyandhara-api/internal/modules/repo"
	"github.com/gyandhara/gyandhara-api/internal/modules/service"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func BuildContainer() *do.Injector {
	inj := do.New()

	// config
	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		return config.Load()
	})

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return logger.New(cfg.Log.Level)
	})

	// DB
	do.Provide(inj, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		d, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		// [optional] auto migrate
		if cfg.Database.AutoMigrate {
			if err := d.AutoMigrate(
				&model.Theme{},
				&model.Topic{},
				&model.Book{},
				&model.UploadIntent{},
				&model.MigrationRun{},
			); err != nil {
				return nil, err
			}
		}
		return d, nil
	})

	// Redis
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		return cache.New(do.MustInvoke[*config.Config](i)), nil
	})

	// catalog cache: per process by default, shared across replicas with redis
	do.Provide(inj, func(i *do.Injector) (cache.Cache, error) {
		cfg := do.MustInvoke[*config.Config](i)
		ttl := time.Duration(cfg.Catalog.CacheTTL) * time.Second
		if cfg.Catalog.Backend == "redis" {
			return cache.NewRedis(do.MustInvoke[*redis.Client](i), "catalog:", ttl), nil
		}
		return cache.NewMemory(ttl, time.Now), nil
	})

	// RabbitMQ Connection
	do.Provide(inj, func(i *do.Injector) (*amqp.Connection, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return amqp.Dial(cfg.RabbitMQ.URL)
	})
	do.Provide(inj, func(i *do.Injector) (*mq.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return mq.NewPublisher(
			do.MustInvoke[*amqp.Connection](i),
			do.MustInvoke[*zap.Logger](i),
			cfg,
			func() (*amqp.Connection, error) { return amqp.Dial(cfg.RabbitMQ.URL) },
		)
	})
	// without a broker, events are dropped and async sweeps run in-process
	do.Provide(inj, func(i *do.Injector) (service.Events, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RabbitMQ.URL == "" {
			return service.NopEvents(), nil
		}
		pub, err := do.Invoke[*mq.Publisher](i)
		if err != nil {
			return nil, err
		}
		return mq.NewEmitter(pub, cfg, do.MustInvoke[*zap.Logger](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.Dispatcher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.RabbitMQ.URL == "" {
			return nil, nil
		}
		pub, err := do.Invoke[*mq.Publisher](i)
		if err != nil {
			return nil, err
		}
		return mq.NewDispatcher(pub, cfg), nil
	})

	// S3
	do.Provide(inj, func(i *do.Injector) (*blob.S3Deps, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return blob.NewS3(context.Background(), cfg)
	})
	// get presign expire duration
	do.Provide(inj, func(i *do.Injector) (func() time.Duration, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return func() time.Duration {
			if cfg.S3.PresignExpireSec <= 0 {
				return 15 * time.Minute
			}
			return time.Duration(cfg.S3.PresignExpireSec) * time.Second
		}, nil
	})

	// GitHub
	do.Provide(inj, func(i *do.Injector) (*release.Accessor, error) {
		return release.NewGitHub(do.MustInvoke[*config.Config](i), do.MustInvoke[*zap.Logger](i))
	})
	do.Provide(inj, func(i *do.Injector) (*httpclient.CatalogClient, error) {
		return httpclient.NewCatalogClient(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[cache.Cache](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (*httpclient.SourceClient, error) {
		return httpclient.NewSourceClient(do.MustInvoke[*config.Config](i), do.MustInvoke[*zap.Logger](i)), nil
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.BookRepo, error) {
		return repo.NewBookRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.TopicRepo, error) {
		return repo.NewTopicRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.UploadIntentRepo, error) {
		return repo.NewUploadIntentRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.MigrationRunRepo, error) {
		return repo.NewMigrationRunRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (*service.Stager, error) {
		return service.NewStager(
			do.MustInvoke[*blob.S3Deps](i),
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (*service.Backends, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return service.NewBackends(
			do.MustInvoke[*zap.Logger](i),
			service.NewReleaseBackend(do.MustInvoke[*release.Accessor](i), cfg.GitHub.ReleaseTag),
			service.NewObjectBackend(do.MustInvoke[*blob.S3Deps](i)),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.BookService, error) {
		return service.NewBookService(service.BookServiceDeps{
			Books:         do.MustInvoke[repo.BookRepo](i),
			Topics:        do.MustInvoke[repo.TopicRepo](i),
			Intents:       do.MustInvoke[repo.UploadIntentRepo](i),
			Stager:        do.MustInvoke[*service.Stager](i),
			Backends:      do.MustInvoke[*service.Backends](i),
			Store:         do.MustInvoke[*blob.S3Deps](i),
			Release:       do.MustInvoke[*release.Accessor](i),
			Events:        do.MustInvoke[service.Events](i),
			Log:           do.MustInvoke[*zap.Logger](i),
			Target:        model.StorageGitHubRelease,
			PresignExpire: do.MustInvoke[func() time.Duration](i)(),
		}), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.MigrationService, error) {
		return service.NewMigrationService(
			do.MustInvoke[repo.BookRepo](i),
			do.MustInvoke[repo.MigrationRunRepo](i),
			do.MustInvoke[repo.UploadIntentRepo](i),
			do.MustInvoke[*service.Backends](i),
			do.MustInvoke[*service.Stager](i),
			do.MustInvoke[*blob.S3Deps](i),
			do.MustInvoke[*httpclient.SourceClient](i),
			do.MustInvoke[service.Dispatcher](i),
			do.MustInvoke[service.Events](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (*service.Reconciler, error) {
		return service.NewReconciler(
			do.MustInvoke[repo.BookRepo](i),
			do.MustInvoke[repo.UploadIntentRepo](i),
			do.MustInvoke[*service.Backends](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.BookHandler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		// room for the cover and form fields next to the largest pdf
		limit := cfg.Upload.MaxPDFBytes + cfg.Upload.MaxCoverBytes + 1<<20
		return handler.NewBookHandler(do.MustInvoke[service.BookService](i), limit), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.MigrationHandler, error) {
		return handler.NewMigrationHandler(do.MustInvoke[service.MigrationService](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.CatalogHandler, error) {
		return handler.NewCatalogHandler(do.MustInvoke[*httpclient.CatalogClient](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.AdminHandler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return handler.NewAdminHandler(
			do.MustInvoke[*service.Reconciler](i),
			time.Duration(cfg.Upload.ReconcileAfterSec)*time.Second,
		), nil
	})

	return inj
}
