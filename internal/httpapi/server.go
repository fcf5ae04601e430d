// Package httpapi serves the dashboard REST API under /api/dashboard plus
// /metrics and /healthz.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/clock"
	"kvmdash/internal/dashboard"
	"kvmdash/internal/eventbus"
	"kvmdash/internal/icons"
	"kvmdash/internal/observability/metrics"
	"kvmdash/internal/observability/pprof"
	"kvmdash/internal/schedule"
	"kvmdash/internal/uptime"
	logx "kvmdash/pkg/logx"
)

type Options struct {
	Addr         string
	CORSOrigins  []string
	Debug        bool
	Pprof        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Deps are the services behind the handlers. Health may be nil.
type Deps struct {
	Docs      *dashboard.Documents
	Schedules *schedule.Store
	Calc      *schedule.Calculator
	Actions   *actionlog.Log
	Icons     *icons.Store
	Uptime    *uptime.Tracker
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Health    func() map[string]any
	Log       logx.Logger
}

type Server struct {
	opts   Options
	d      Deps
	log    logx.Logger
	engine *gin.Engine
}

func New(opts Options, d Deps) *Server {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Calc == nil {
		d.Calc = schedule.NewCalculator(nil)
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	s := &Server{opts: opts, d: d, log: d.Log.With(logx.String("comp", "http"))}
	s.engine = s.routes()
	return s
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	if !s.opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	cc := cors.DefaultConfig()
	if len(s.opts.CORSOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.opts.CORSOrigins
	}
	cc.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "X-Requested-With"}
	r.Use(cors.New(cc))

	api := r.Group("/api/dashboard")
	{
		api.GET("/actions", s.listActions)
		api.POST("/actions", s.appendAction)
		api.DELETE("/actions", s.clearActions)

		api.GET("/preferences", s.getPreferences)
		api.POST("/preferences", s.updatePreferences)

		api.GET("/schedules", s.listSchedules)
		api.POST("/schedules", s.addSchedule)
		api.GET("/schedules/next", s.nextRuns)
		api.DELETE("/schedules/:id", s.deleteSchedule)
		api.POST("/schedules/:id/followup", s.addFollowUp)
		api.DELETE("/schedules/:id/followup/:index", s.deleteFollowUp)

		api.GET("/config", s.getConfig)
		api.POST("/config", s.saveConfig)
		api.POST("/config/reset", s.resetConfig)

		api.POST("/upload-icon", s.uploadIcon)
		api.POST("/cleanup-icons", s.cleanupIcons)

		api.GET("/uptime", s.getUptime)
	}

	r.GET("/healthz", s.health)
	if s.d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.d.Metrics.Handler()))
	}
	if s.opts.Pprof {
		pprof.Mount(r, pprof.DefaultPrefix)
	}
	return r
}

// requestLog logs each request at debug, and at warn for 5xx.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("err", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Warn("request failed", fields...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

func (s *Server) health(c *gin.Context) {
	out := map[string]any{"status": "ok", "time": s.d.Clock.Now()}
	if s.d.Health != nil {
		for k, v := range s.d.Health() {
			out[k] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

// Serve listens on opts.Addr until ctx ends, then shuts down within
// shutdownTimeout.
func (s *Server) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		return err
	}
	s.log.Info("http stopped")
	return nil
}
