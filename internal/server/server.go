package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edp1096/toy-powerflow/internal/config"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
	"github.com/edp1096/toy-powerflow/pkg/result"
)

// SolveFunc runs one power flow request.
type SolveFunc func(ctx context.Context, req *powerflow.Request) (*result.Response, error)

type Server struct {
	cfg    *config.Config
	solve  SolveFunc
	router *gin.Engine
}

type Option func(*Server)

// WithSolver replaces powerflow.Run as the solver behind /run_pf.
func WithSolver(fn SolveFunc) Option {
	return func(s *Server) { s.solve = fn }
}

func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, solve: powerflow.Run}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(cfg.GinMode)
	s.router = s.setupRouter()

	return s
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(AccessLog())

	router.GET("/health", s.health)
	router.POST("/run_pf", s.runPF)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.cfg.Addr).Info("power flow service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logrus.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
