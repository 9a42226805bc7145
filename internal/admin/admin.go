// Package admin serves the operator HTTP surface: health, prometheus
// metrics and the live session registry.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/bankwire/internal/auth"
	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/peer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SessionSource lists the sessions currently registered.
type SessionSource interface {
	Snapshot() []peer.Info
}

type Config struct {
	Token       string
	CORSOrigins []string
	Version     string
}

type Server struct {
	cfg       Config
	sessions  SessionSource
	validator auth.Validator
	router    *gin.Engine
	started   time.Time
	logger    zerolog.Logger
}

func New(cfg Config, sessions SessionSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	logger := observability.Component("bankd", "admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminAccess(logger))
	if origins := normalizeOrigins(cfg.CORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		router:   r,
		started:  time.Now(),
		logger:   logger,
	}
	if strings.TrimSpace(cfg.Token) != "" {
		s.validator = auth.StaticToken{Token: strings.TrimSpace(cfg.Token)}
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).Round(time.Second).String(),
			"version": s.cfg.Version,
		})
	})

	protected := s.router.Group("/")
	protected.Use(s.requireToken())
	protected.GET("/metrics", gin.WrapH(promhttp.Handler()))
	protected.GET("/sessions", func(c *gin.Context) {
		list := s.sessions.Snapshot()
		live := 0
		for _, info := range list {
			if info.Live {
				live++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"count":    len(list),
			"live":     live,
			"sessions": list,
		})
	})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || s.validator.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// Serve listens on addr until ctx ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
