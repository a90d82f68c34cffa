package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/Domenick1991/venuebooking/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Handlers struct {
	Bookings   *BookingHandler
	Catalog    *CatalogHandler
	Moderation *ModerationHandler
}

// NewRouter mounts the public catalog, the authenticated booking and
// moderation routes, metrics and the API docs.
func NewRouter(cfg *config.Config, h Handlers, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.HTTP.SwaggerDir != "" {
		r.StaticFile("/docs/swagger.json", filepath.Join(cfg.HTTP.SwaggerDir, "swagger.json"))
		r.GET("/swagger/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/docs/swagger.json"))))
	}

	v1 := r.Group("/api/v1")
	h.Catalog.Register(v1)

	authed := v1.Group("", JWTAuth(cfg.Auth.JWTSecret))
	h.Bookings.Register(authed.Group("/bookings"))
	h.Moderation.Register(authed.Group("/change-requests"))
	return r
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithContext(c.Request.Context()).WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"actor_id": actorFrom(c).ID,
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Error("request failed")
			return
		}
		entry.Debug("request served")
	}
}
