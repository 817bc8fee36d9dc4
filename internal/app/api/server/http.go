package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sparklehome/membership/docs"
	"github.com/sparklehome/membership/internal/app/api/handlers"
	mw "github.com/sparklehome/membership/internal/app/api/middleware"
	"github.com/sparklehome/membership/internal/app/service/billing"
	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/pricing"
	"github.com/sparklehome/membership/internal/app/service/savings"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	cfgpkg "github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", mw.HeaderRequestID}
	c.ExposeHeaders = []string{mw.HeaderRequestID}
	c.MaxAge = 12 * time.Hour
	return cors.New(c)
}

type routeDeps struct {
	fx.In

	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	DB         *gorm.DB
	Membership *membership.Service
	Catalog    *catalog.Catalog
	Savings    *savings.Service
	Statistics *statistics.Service
	Pricing    *pricing.Service
	Billing    *billing.Handler
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log, cfg := d.Log, d.Cfg

	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	var pinger handlers.Pinger
	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			pinger = sqlDB
		}
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, pinger)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	auth := mw.AuthMiddleware([]byte(cfg.Auth.JWTSecret), log)
	handlers.RegisterMembershipRoutes(apiV1.Group("/membership"), auth, d.Membership, d.Savings, d.Catalog, log)
	handlers.RegisterAdminMembershipRoutes(apiV1.Group("/admin/memberships", auth, mw.RequireAdmin()), d.Membership, d.Statistics, log)
	handlers.RegisterPricingRoutes(apiV1.Group("/internal/pricing", mw.InternalTokenMiddleware(cfg.Auth.InternalToken)), d.Pricing, log)
	// the webhook authenticates through the signed payload
	handlers.RegisterBillingRoutes(apiV1.Group("/billing"), d.Billing, log)

	if cfg.Auth.JWTSecret == "" {
		log.Warnw("auth.jwt_secret is empty; customer and admin routes will reject every request")
	}
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine, shutdowner fx.Shutdowner) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr, "routes", len(r.Routes()))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server error", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
