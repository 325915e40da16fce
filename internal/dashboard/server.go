package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/internal/metrics"
	"fundingdesk/internal/preview"
	"fundingdesk/logger"
	"fundingdesk/models"
	"fundingdesk/realtime"
)

const defaultPort = "8080"

// StateSource is the realtime client as used by the dashboard.
type StateSource interface {
	Snapshot() realtime.Snapshot
	Subscribe(name string) *channel.Subscription
	Reconnect(ctx context.Context) error
	Stats() realtime.Stats
}

// TradingAPI forwards user actions to the backend.
type TradingAPI interface {
	OpenPosition(ctx context.Context, pair string, amount float64) models.Result
	ClosePosition(ctx context.Context, pair string, percentage float64) models.Result
	ActivePositions(ctx context.Context, days, limit int) models.Result
	ClosedPositions(ctx context.Context, days, limit int) models.Result
	TradingStatus(ctx context.Context) models.Result
}

// Server exposes the realtime state, trade actions and previews over HTTP
// and relays state updates to browsers over a websocket.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	state      StateSource
	trading    TradingAPI
	fees       preview.Fees
	logs       *logRing
	sampler    *hostSampler
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, state StateSource, trading TradingAPI, fees preview.Fees) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if state == nil || trading == nil {
		return nil, errors.New("dashboard requires a state source and a trading api")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	logs := newLogRing(cfg.LogHistory)
	log.AddHook(logs)

	return &Server{
		cfg:     cfg,
		log:     log,
		state:   state,
		trading: trading,
		fees:    fees,
		logs:    logs,
		sampler: newHostSampler(cfg.ResourceHistory, cfg.SampleInterval, log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	s.logs.close()
	s.sampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": appName, "state": s.state.Snapshot().State})
	})

	api := router.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/market", s.handleCategory(models.CategoryMarket))
	api.GET("/positions/active", s.handleCategory(models.CategoryActivePositions))
	api.GET("/positions/closed", s.handleCategory(models.CategoryClosedPositions))
	api.GET("/balances", s.handleCategory(models.CategoryBalances))
	api.GET("/connection", s.handleConnection)
	api.POST("/reconnect", s.handleReconnect)

	api.POST("/positions/open", s.handleOpenPosition)
	api.POST("/positions/close", s.handleClosePosition)
	api.GET("/positions/history", s.handlePositionHistory)
	api.GET("/trading/status", s.handleTradingStatus)
	api.POST("/preview", s.handlePreview)

	api.GET("/logs", s.handleLogs)
	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.snapshot()})
	})

	reg, err := metrics.NewRegistry(s.state)
	if err != nil {
		return nil, err
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	router.GET("/ws", s.handleRelay)
	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort("0.0.0.0", defaultPort)
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port: a bare host name or IP (including unbracketed IPv6).
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, defaultPort)
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}
