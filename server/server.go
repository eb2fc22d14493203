// Package server 抠图服务的 HTTP 接口
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/flagmatte/background"
	"github.com/chaos-io/flagmatte/config"
	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/session"
)

type Server struct {
	cfg         config.Config
	pipeline    *matte.Pipeline
	sessions    *session.Manager
	backgrounds *background.Source

	engine *gin.Engine
	cron   *cron.Cron
}

func New(cfg config.Config, pipeline *matte.Pipeline, backgrounds *background.Source) *Server {
	s := &Server{
		cfg:         cfg,
		pipeline:    pipeline,
		sessions:    session.NewManager(pipeline, backgrounds, pipeline.Options()),
		backgrounds: backgrounds,
		cron:        cron.New(),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = s.cfg.Server.MaxUploadBytes

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.POST("/matte", s.matteOnce)

	sessions := api.Group("/sessions")
	sessions.POST("", s.createSession)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.deleteSession)
	sessions.POST("/:id/image", s.uploadImage)
	sessions.PUT("/:id/background", s.selectBackground)
	sessions.GET("/:id/download", s.download)
	return r
}

// scheduleJobs 定时清理闲置会话与过期背景缓存
func (s *Server) scheduleJobs() error {
	maxIdle := s.cfg.Session.MaxIdle
	if s.cfg.Session.SweepSpec != "" && maxIdle > 0 {
		if _, err := s.cron.AddFunc(s.cfg.Session.SweepSpec, func() {
			s.sessions.Sweep(maxIdle)
		}); err != nil {
			return err
		}
	}
	if s.cfg.PurgeSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.PurgeSpec, func() {
			if n := s.backgrounds.Purge(); n > 0 {
				slog.Debug("purged background cache", "count", n)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// Run 阻塞直到 ctx 结束，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.scheduleJobs(); err != nil {
		return err
	}
	s.cron.Start()
	defer s.cron.Stop()
	defer s.sessions.Close()

	if s.cfg.Server.Warmup {
		go func() {
			if err := s.pipeline.Extractor().Loader().Warmup(ctx); err != nil {
				slog.Error("model warmup failed", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
