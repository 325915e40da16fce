package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"fundingdesk/internal/preview"
	"fundingdesk/models"
)

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleCategory(cat models.Category) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.state.Snapshot()
		body := gin.H{
			"category": cat,
			"version":  snap.Version,
			"data":     snap.Category(cat),
		}
		if at, ok := snap.UpdatedAt[cat]; ok {
			body["updated_at"] = at
		}
		c.JSON(http.StatusOK, body)
	}
}

func (s *Server) handleConnection(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"state":      snap.State,
		"last_error": snap.LastError,
		"stats":      s.state.Stats(),
	})
}

func (s *Server) handleReconnect(c *gin.Context) {
	// The dial must outlive a client that hangs up mid-request.
	ctx := context.WithoutCancel(c.Request.Context())
	err := s.state.Reconnect(ctx)
	snap := s.state.Snapshot()
	body := gin.H{"state": snap.State, "last_error": snap.LastError}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleOpenPosition(c *gin.Context) {
	var req models.OpenPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("invalid open position request", err))
		return
	}
	c.JSON(http.StatusOK, s.trading.OpenPosition(c.Request.Context(), req.Pair, req.Amount))
}

func (s *Server) handleClosePosition(c *gin.Context) {
	var req models.ClosePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("invalid close position request", err))
		return
	}
	c.JSON(http.StatusOK, s.trading.ClosePosition(c.Request.Context(), req.Pair, req.Percentage))
}

func (s *Server) handlePositionHistory(c *gin.Context) {
	days, err := queryInt(c, "days")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("invalid days", err))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("invalid limit", err))
		return
	}

	switch strings.ToLower(c.DefaultQuery("status", "closed")) {
	case "active":
		c.JSON(http.StatusOK, s.trading.ActivePositions(c.Request.Context(), days, limit))
	case "closed":
		c.JSON(http.StatusOK, s.trading.ClosedPositions(c.Request.Context(), days, limit))
	default:
		c.JSON(http.StatusBadRequest, models.Failure("status must be active or closed", nil))
	}
}

func (s *Server) handleTradingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.trading.TradingStatus(c.Request.Context()))
}

type previewRequest struct {
	Pair   string          `json:"pair"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handlePreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Failure("invalid preview request", err))
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Pair))
	p, err := preview.Compute(s.state.Snapshot().Market, symbol, req.Amount, s.fees)
	switch {
	case errors.Is(err, preview.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, models.Failure("invalid amount", err))
	case errors.Is(err, preview.ErrUnknownPair):
		c.JSON(http.StatusNotFound, models.Failure("unknown pair", err))
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, models.Failure("preview unavailable", err))
	default:
		c.JSON(http.StatusOK, p)
	}
}

func (s *Server) handleLogs(c *gin.Context) {
	var since uint64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.Failure("invalid since", err))
			return
		}
		since = n
	}
	level := logrus.TraceLevel
	if v := c.Query("level"); v != "" {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.Failure("invalid level", err))
			return
		}
		level = lvl
	}
	c.JSON(http.StatusOK, gin.H{"logs": s.logs.since(since, level)})
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
