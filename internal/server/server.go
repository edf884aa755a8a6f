// Package server exposes the metering engine over HTTP: the feature
// guard, usage ingestion, entitlement inspection and maintenance, and
// the prometheus scrape endpoint. All customer routes require an API
// key; the key's project scopes every lookup.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/meterwise/meterwise/internal/config"
	customerdomain "github.com/meterwise/meterwise/internal/customer/domain"
	entitlementdomain "github.com/meterwise/meterwise/internal/entitlement/domain"
	"github.com/meterwise/meterwise/internal/observability"
	usagedomain "github.com/meterwise/meterwise/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Server struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	metrics *observability.Metrics

	entitlementsvc entitlementdomain.Service
	usagesvc       usagedomain.Service
	customersvc    customerdomain.Service
}

type Param struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Metrics *observability.Metrics

	EntitlementSvc entitlementdomain.Service
	UsageSvc       usagedomain.Service
	CustomerSvc    customerdomain.Service
}

func NewServer(p Param) *Server {
	return &Server{
		db:             p.DB,
		log:            p.Log.Named("server"),
		cfg:            p.Config,
		metrics:        p.Metrics,
		entitlementsvc: p.EntitlementSvc,
		usagesvc:       p.UsageSvc,
		customersvc:    p.CustomerSvc,
	}
}

func NewEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	return engine
}

func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.metrics.Registry,
		promhttp.HandlerOpts{},
	)))

	customer := engine.Group("/customer", s.APIKeyRequired())
	{
		customer.POST("/can", s.Can)
		customer.POST("/report-usage", s.ReportUsage)
		customer.GET("/:id/getEntitlements", s.GetEntitlements)
		customer.GET("/:id/getUsage", s.GetUsage)
		customer.POST("/:id/revalidateEntitlement", s.RevalidateEntitlement)
		customer.POST("/:id/reset-entitlements", s.ResetEntitlements)
		customer.DELETE("/:id/delete", s.DeleteCustomer)
	}
}

// @Summary      Health Check
// @Description  Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, s *Server, log *zap.Logger) {
	s.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
