package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/gyandhara/gyandhara-api/docs"
	"github.com/gyandhara/gyandhara-api/internal/config"
	"github.com/gyandhara/gyandhara-api/internal/middleware"
	"github.com/gyandhara/gyandhara-api/internal/modules/handler"
	"github.com/gyandhara/gyandhara-api/internal/modules/serializer"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type RouterDeps struct {
	Config           *config.Config
	Log              *zap.Logger
	BookHandler      *handler.BookHandler
	MigrationHandler *handler.MigrationHandler
	CatalogHandler   *handler.CatalogHandler
	AdminHandler     *handler.AdminHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	serializer.SetLogger(d.Log)

	r := gin.New()
	r.Use(gin.Recovery())

	if d.Config.Telemetry.Enabled && d.Config.Telemetry.OtlpEndpoint != "" {
		r.Use(middleware.OtelTracing(d.Config.App.Name))
		r.Use(middleware.TraceID())
	}

	r.Use(middleware.ZapLogger(d.Log))

	// health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "ok"}) })

	// swagger
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "pong"}) })

		books := v1.Group("/books")
		{
			books.GET("", d.BookHandler.ListBooks)
			books.GET("/stats", d.BookHandler.GetStats)
			books.GET("/asset/:asset_id", d.BookHandler.StreamAsset)
			books.GET("/:id", d.BookHandler.GetBook)
		}

		catalog := v1.Group("/catalog")
		{
			catalog.GET("/books", d.CatalogHandler.ListCatalog)
			catalog.GET("/books/:book_id", d.CatalogHandler.GetCatalogBook)
			catalog.GET("/books/:book_id/pages/:page", d.CatalogHandler.GetCatalogPage)
			catalog.GET("/books/:book_id/topics", d.CatalogHandler.ListCatalogTopics)
			catalog.GET("/books/:book_id/topics/:topic_id", d.CatalogHandler.GetCatalogTopic)
		}

		admin := v1.Group("")
		admin.Use(middleware.AdminAuth(d.Config))
		{
			admin.POST("/books/upload", d.BookHandler.UploadBook)
			admin.POST("/books/staging-url", d.BookHandler.CreateStagingURL)
			admin.PUT("/books/:id", d.BookHandler.UpdateBook)
			admin.DELETE("/books/:id", d.BookHandler.DeleteBook)

			admin.POST("/books/migrate-all", d.MigrationHandler.MigrateAll)
			admin.GET("/books/migrations/:run_id", d.MigrationHandler.GetRun)

			admin.DELETE("/catalog/cache", d.CatalogHandler.ClearCatalogCache)

			admin.POST("/admin/reconcile", d.AdminHandler.Reconcile)
		}
	}
	return r
}
