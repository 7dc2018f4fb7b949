package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"realty-chat/internal/websocket"
)

// Server owns the HTTP listener and the hub's live connections.
type Server struct {
	http   *http.Server
	hub    *websocket.Hub
	router *Router
	logger *zap.Logger
}

func NewServer(addr string, engine *gin.Engine, router *Router, hub *websocket.Hub, logger *zap.Logger) *Server {
	router.RegisterRoutes(engine)
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:    hub,
		router: router,
		logger: logger,
	}
}

// Serve blocks until the listener stops. A graceful shutdown is not an error.
func (s *Server) Serve() error {
	s.logger.Info("listening", zap.String("addr", s.http.Addr), zap.String("node", s.hub.NodeName()))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops accepting handshakes, closes every live connection and
// waits until none is left in the hub or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.router.Close()

	err := s.http.Shutdown(ctx)

	s.hub.CloseAll()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.hub.GetClientCount() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("shutdown timed out with open connections", zap.Int("connections", s.hub.GetClientCount()))
			return errors.Wrap(ctx.Err(), "drain connections")
		case <-ticker.C:
		}
	}

	return errors.Wrap(err, "http shutdown")
}
