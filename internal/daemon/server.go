package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/paths"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// MetricsOff disables the metrics listener when used as metrics_addr.
const MetricsOff = "off"

// Server serves the control API on the conversation's Unix domain socket.
type Server struct {
	http       *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the control API to the conversation's socket.
func NewServer(p Params, h *api.Handler, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketPath(p.ConversationID)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{
		http:       &http.Server{Handler: h.Engine()},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down gracefully and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("control server shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}

// MetricsServer serves /metrics and /healthz over TCP. It is inert when
// metrics_addr is "off".
type MetricsServer struct {
	http     *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewMetricsServer binds the metrics listener.
func NewMetricsServer(p Params, c *metrics.Collector, s *chatsync.Synchronizer, logger *zap.Logger) (*MetricsServer, error) {
	m := &MetricsServer{logger: logger}
	addr := p.Config.MetricsAddr
	if addr == "" || addr == MetricsOff {
		return m, nil
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(c.Handler()))
	r.GET("/healthz", func(ctx *gin.Context) {
		if s.Terminated() {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "terminated"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "conn_state": string(s.ConnState())})
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	m.listener = ln
	m.http = &http.Server{Handler: r}
	return m, nil
}

// Addr returns the bound address, or "" when disabled.
func (m *MetricsServer) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Start serves requests. Blocks until stopped.
func (m *MetricsServer) Start() error {
	if m.http == nil {
		return nil
	}
	m.logger.Info("metrics server starting", zap.String("addr", m.Addr()))
	if err := m.http.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m.http == nil {
		return
	}
	if err := m.http.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
