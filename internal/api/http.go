// Package api exposes the control surface over HTTP: engine lifecycle
// commands, read-only state endpoints and a websocket state broadcast.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"makerd/internal/domain"
	"makerd/internal/engine"
	"makerd/internal/infra"
)

const commandTimeout = 10 * time.Second

// Authenticator accepts exchange credentials at runtime.
type Authenticator interface {
	SetCredentials(token, ed25519KeyHex, walletAddress, chain string) error
	IsAuthenticated() bool
}

// UptimeHistory loads archived uptime hours for the history endpoint.
type UptimeHistory interface {
	RecentUptimeHours(symbol string, limit int) ([]domain.UptimeHourRecord, error)
}

// Server wires the gin router to the engine and its collaborators.
type Server struct {
	engine  *engine.Engine
	auth    Authenticator
	history UptimeHistory
	hub     *Hub

	// onAuthenticated fires once after credentials are accepted, used
	// to bring up the market-data stream.
	onAuthenticated func() error

	appName    string
	appVersion string
	logger     *slog.Logger
}

// NewServer builds the HTTP server. history may be nil.
func NewServer(eng *engine.Engine, auth Authenticator, history UptimeHistory, hub *Hub, appName, appVersion string) *Server {
	return &Server{
		engine:     eng,
		auth:       auth,
		history:    history,
		hub:        hub,
		appName:    appName,
		appVersion: appVersion,
		logger:     slog.Default().With("module", "api"),
	}
}

// SetOnAuthenticated installs the post-auth hook. Must be called before
// the router serves traffic.
func (s *Server) SetOnAuthenticated(fn func() error) {
	s.onAuthenticated = fn
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.hub.HandleWS)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/auth/start", s.handleAuthStart)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/orders", s.handleOrders)
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/uptime", s.handleUptime)
		apiGroup.GET("/metrics", s.handleMetrics)
		apiGroup.POST("/start", s.handleStart)
		apiGroup.POST("/stop", s.handleStop)
		apiGroup.POST("/kill", s.handleKill)
		apiGroup.POST("/config", s.handleConfig)
	}

	return r
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    s.appName,
		"version": s.appVersion,
		"status":  string(s.engine.Snapshot().Status),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	state := s.engine.Snapshot()
	healthy := state.Status != domain.StatusError
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":       healthy,
		"status":        string(state.Status),
		"authenticated": s.auth.IsAuthenticated(),
		"timestamp":     time.Now().UTC(),
	})
}

type authStartRequest struct {
	JWTToken      string `json:"jwt_token" binding:"required"`
	Ed25519Key    string `json:"ed25519_private_key"`
	WalletAddress string `json:"wallet_address"`
	Chain         string `json:"chain"`
}

func (s *Server) handleAuthStart(c *gin.Context) {
	var req authStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.auth.SetCredentials(req.JWTToken, req.Ed25519Key, req.WalletAddress, req.Chain); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.onAuthenticated != nil {
		if err := s.onAuthenticated(); err != nil {
			s.logger.Error("post-auth hook failed", slog.Any("error", err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	s.logger.Info("credentials accepted")

	// A killed or tripped engine still requires an explicit restart.
	if s.engine.Snapshot().Status == domain.StatusStopped {
		ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
		defer cancel()
		if err := s.engine.Start(ctx); err != nil {
			s.logger.Warn("auto-start after auth failed", slog.Any("error", err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"status":        string(s.engine.Snapshot().Status),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleOrders(c *gin.Context) {
	state := s.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"symbol": state.Symbol,
		"orders": state.ActiveOrders,
		"count":  state.ActiveOrderCount,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot().Risk)
}

func (s *Server) handleUptime(c *gin.Context) {
	state := s.engine.Snapshot()
	resp := gin.H{
		"symbol": state.Symbol,
		"uptime": state.Uptime,
	}
	if s.history != nil {
		recs, err := s.history.RecentUptimeHours(state.Symbol, 24)
		if err != nil {
			s.logger.Warn("failed to load uptime history", slog.Any("error", err))
		} else {
			resp["archived_hours"] = recs
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, infra.GlobalMetrics.Snapshot())
}

func (s *Server) handleStart(c *gin.Context) {
	if !s.auth.IsAuthenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.ErrNotAuthenticated.Error()})
		return
	}
	s.runCommand(c, s.engine.Start)
}

func (s *Server) handleStop(c *gin.Context) {
	s.runCommand(c, s.engine.Stop)
}

func (s *Server) handleKill(c *gin.Context) {
	s.runCommand(c, s.engine.Kill)
}

func (s *Server) handleConfig(c *gin.Context) {
	var update infra.TradingConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.runCommand(c, func(ctx context.Context) error {
		return s.engine.UpdateConfig(ctx, update)
	})
}

// runCommand dispatches an engine command with a bounded wait and maps
// the error to an HTTP response.
func (s *Server) runCommand(c *gin.Context, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		code := http.StatusInternalServerError
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, domain.ErrInvalidSymbol) {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(s.engine.Snapshot().Status)})
}
