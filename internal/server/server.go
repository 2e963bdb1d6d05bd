package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/erpsync/internal/config"
	"github.com/smallbiznis/erpsync/internal/control"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	control.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

type Server struct {
	engine  *gin.Engine
	control *control.Service
	log     *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Control *control.Service
	Log     *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:  p.Gin,
		control: p.Control,
		log:     p.Log.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Tenants --------
	api.GET("/tenants", s.ListTenants)
	api.POST("/tenants", s.CreateTenant)
	api.GET("/tenants/:id", s.GetTenant)
	api.PATCH("/tenants/:id", s.UpdateTenant)
	api.POST("/tenants/:id/test-connection", s.TestConnection)

	// -------- Classification rules --------
	api.GET("/tenants/:id/rules", s.ListRules)
	api.PUT("/tenants/:id/rules", s.SaveRule)
	api.DELETE("/tenants/:id/rules/:ruleId", s.DeleteRule)
	api.POST("/tenants/:id/rules/test", s.TestRules)
	api.POST("/tenants/:id/reclassify", s.ReclassifyRecent)

	// -------- Sync runs --------
	api.POST("/sync/run", s.RunSync)
	api.GET("/tenants/:id/executions", s.ListExecutions)

	// -------- Scheduler --------
	api.GET("/jobs", s.ListJobs)
	api.POST("/jobs", s.AddJob)
	api.DELETE("/jobs/:jobId", s.RemoveJob)
	api.POST("/jobs/:jobId/pause", s.PauseJob)
	api.POST("/jobs/:jobId/resume", s.ResumeJob)
	api.POST("/jobs/:jobId/run", s.RunNowJob)
	api.POST("/scheduler/start", s.StartScheduler)
	api.POST("/scheduler/stop", s.StopScheduler)
}
