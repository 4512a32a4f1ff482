package main

//	@title			GyanDhara API
//	@version		1.0
//	@description	Book upload and storage migration API for the GyanDhara admin panel.
//	@schemes		http https
//	@BasePath		/api/v1

//  Bearer for admin panel sessions
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Admin panel JWT (e.g., "Bearer eyJhbGciOi...")

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gyandhara/gyandhara-api/internal/bootstrap"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/infra/cache"
	dbpkg "github.com/gyandhara/gyandhara-api/internal/infra/db"
	"github.com/gyandhara/gyandhara-api/internal/modules/handler"
	"github.com/gyandhara/gyandhara-api/internal/router"
	"github.com/gyandhara/gyandhara-api/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// build dependency injection container
	inj := bootstrap.BuildContainer()

	cfg := do.MustInvoke[*config.Config](inj)
	log := do.MustInvoke[*zap.Logger](inj)
	db := do.MustInvoke[*gorm.DB](inj)

	shutdownTracing, err := telemetry.SetupTracing(cfg, "api")
	if err != nil {
		log.Sugar().Warnw("failed to setup tracing, continuing without tracing", "err", err)
	} else if cfg.Telemetry.Enabled {
		log.Sugar().Infow("OpenTelemetry tracing enabled", "endpoint", cfg.Telemetry.OtlpEndpoint)

		// Register GORM OpenTelemetry plugin after tracer provider is set
		if err := dbpkg.RegisterOpenTelemetryPlugin(db); err != nil {
			log.Sugar().Warnw("failed to register GORM OpenTelemetry plugin, continuing without database tracing", "err", err)
		}
		if cfg.Catalog.Backend == "redis" {
			if err := cache.RegisterOpenTelemetryPlugin(do.MustInvoke[*redis.Client](inj)); err != nil {
				log.Sugar().Warnw("failed to register Redis OpenTelemetry plugin, continuing without Redis tracing", "err", err)
			}
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Sugar().Errorw("failed to shutdown tracer", "err", err)
		}
	}()

	// init gin
	gin.SetMode(cfg.App.Env)

	engine := router.NewRouter(router.RouterDeps{
		Config:           cfg,
		Log:              log,
		BookHandler:      do.MustInvoke[*handler.BookHandler](inj),
		MigrationHandler: do.MustInvoke[*handler.MigrationHandler](inj),
		CatalogHandler:   do.MustInvoke[*handler.CatalogHandler](inj),
		AdminHandler:     do.MustInvoke[*handler.AdminHandler](inj),
	})

	addr := fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Sugar().Infow("starting http server", "addr", addr)
		log.Sugar().Infow("swagger url", "url", addr+"/swagger/index.html")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Sugar().Fatalw("listen error", "err", err)
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// uploads of large PDFs can take a while to finish
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Sugar().Errorw("server shutdown", "err", err)
	}
	log.Sugar().Info("server exited")
}
