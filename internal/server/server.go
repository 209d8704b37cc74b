package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Scheduled interface{ Len() int }
	Dialogues interface{ ActiveDialogues() int }
	// Journal may be nil when the delivery journal could not be opened.
	Journal  Pinger
	Gatherer prometheus.Gatherer
}

// Server exposes the keep-alive page, a health report and the metrics.
type Server struct {
	http *http.Server
	log  logrus.FieldLogger
}

func New(port int, deps Deps, log logrus.FieldLogger) *Server {
	log = log.WithField("component", "http")
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           NewRouter(deps, log),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log: log,
	}
}

func NewRouter(deps Deps, log logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Bot is running!")
	})
	router.GET("/healthz", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		journal := "disabled"
		if deps.Journal != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Journal.Ping(ctx); err != nil {
				log.Warnf("Journal health check failed: %v", err)
				status, code, journal = "degraded", http.StatusServiceUnavailable, "unreachable"
			} else {
				journal = "ok"
			}
		}
		body := gin.H{"status": status, "journal": journal}
		if deps.Scheduled != nil {
			body["scheduled_pending"] = deps.Scheduled.Len()
		}
		if deps.Dialogues != nil {
			body["dialogues_active"] = deps.Dialogues.ActiveDialogues()
		}
		c.JSON(code, body)
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(started),
		}).Debug("HTTP request")
	}
}

// Run serves until ctx is cancelled and then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
