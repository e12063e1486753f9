// Package api exposes a read-only diagnostics HTTP surface over the
// fabric's internals, the way the teacher's cmd/ws server wraps a
// gin.Engine around its websocket handler: a small router built at
// construction time, handed to fx's lifecycle hooks to start/stop.
// No auth (spec §1 Non-goal: "Auth/session management").
package api

import (
	"context"
	"net/http"

	"github.com/abdoelhodaky/tradefabric/internal/arbiter"
	"github.com/abdoelhodaky/tradefabric/internal/position"
	"github.com/abdoelhodaky/tradefabric/internal/risk"
	"github.com/abdoelhodaky/tradefabric/internal/verify"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server wraps the diagnostics router and the http.Server hosting it.
type Server struct {
	logger *zap.Logger
	engine *gin.Engine
	srv    *http.Server
}

// New builds the diagnostics router. Any of gate/verifier/arb/posMgr
// may be nil, in which case its endpoint reports a 503 rather than
// panicking — a deployment can stand the surface up before every
// component is wired.
func New(logger *zap.Logger, addr string, gate *risk.Gate, verifier *verify.Loop, arb *arbiter.Arbiter, posMgr *position.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/diagnostics/risk", func(c *gin.Context) {
		if gate == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk gate not wired"})
			return
		}
		openPositions := 0
		if posMgr != nil {
			openPositions = len(posMgr.Snapshot())
		}
		c.JSON(http.StatusOK, gate.Diagnostics(openPositions))
	})

	r.GET("/diagnostics/positions", func(c *gin.Context) {
		if posMgr == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "position manager not wired"})
			return
		}
		c.JSON(http.StatusOK, posMgr.Snapshot())
	})

	r.GET("/diagnostics/verifier", func(c *gin.Context) {
		if verifier == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order verifier not wired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"outstanding": verifier.OutstandingCount()})
	})

	r.GET("/diagnostics/arbiter", func(c *gin.Context) {
		if arb == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "arbiter not wired"})
			return
		}
		groups, lanes := arb.Depth()
		c.JSON(http.StatusOK, gin.H{"layer1_groups": groups, "layer2_lanes": lanes})
	})

	return &Server{
		logger: logger,
		engine: r,
		srv:    &http.Server{Addr: addr, Handler: r},
	}
}

// Start launches the HTTP listener in its own goroutine, logging any
// non-shutdown error (mirrors the teacher's grpcServer lifecycle hook).
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("diagnostics server stopped", zap.Error(err))
			}
		}
	}()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
