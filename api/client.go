package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"fundingdesk/config"
	"fundingdesk/logger"
	"fundingdesk/models"
)

const (
	pathOpenPosition    = "/api/trading/open-position"
	pathClosePosition   = "/api/trading/close-position"
	pathActivePositions = "/api/positions/active"
	pathClosedPositions = "/api/positions/closed"
	pathTradingStatus   = "/api/trading/status"

	headerRequestID = "X-Request-ID"
)

// Client calls the trading backend's REST API. Every method reports its
// outcome as a models.Result and never returns an error.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg config.APIConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetHeader("Accept", "application/json").
		AddRetryCondition(retryReads)

	c := &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
	c.log.WithComponent("api_client").WithFields(logger.Fields{
		"base_url":    cfg.BaseURL,
		"retry_count": cfg.RetryCount,
		"rps":         rps,
		"burst":       burst,
	}).Debug("api client initialized")
	return c
}

// retryReads retries GETs on 429 and 5xx. Trade submissions are never
// retried on a status code since the backend may have acted on them.
func retryReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// OpenPosition asks the backend to open a hedged position of amount (quote
// currency) on pair.
func (c *Client) OpenPosition(ctx context.Context, pair string, amount float64) models.Result {
	pair = normalizePair(pair)
	if pair == "" {
		return c.invalid("open position", "pair is required")
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return c.invalid("open position", "amount must be greater than 0")
	}
	body := models.OpenPositionRequest{Pair: pair, Amount: amount}
	return c.do(ctx, http.MethodPost, pathOpenPosition, body, nil)
}

// ClosePosition closes percentage (0, 100] of the position on pair.
func (c *Client) ClosePosition(ctx context.Context, pair string, percentage float64) models.Result {
	pair = normalizePair(pair)
	if pair == "" {
		return c.invalid("close position", "pair is required")
	}
	if math.IsNaN(percentage) || percentage <= 0 || percentage > 100 {
		return c.invalid("close position", "percentage must be in (0, 100]")
	}
	body := models.ClosePositionRequest{Pair: pair, Percentage: percentage}
	return c.do(ctx, http.MethodPost, pathClosePosition, body, nil)
}

// ActivePositions lists open positions. Zero days or limit leaves the
// filter to the backend default.
func (c *Client) ActivePositions(ctx context.Context, days, limit int) models.Result {
	query, err := rangeQuery(days, limit)
	if err != nil {
		return c.invalid("list active positions", err.Error())
	}
	return c.do(ctx, http.MethodGet, pathActivePositions, nil, query)
}

func (c *Client) ClosedPositions(ctx context.Context, days, limit int) models.Result {
	query, err := rangeQuery(days, limit)
	if err != nil {
		return c.invalid("list closed positions", err.Error())
	}
	return c.do(ctx, http.MethodGet, pathClosedPositions, nil, query)
}

func (c *Client) TradingStatus(ctx context.Context) models.Result {
	return c.do(ctx, http.MethodGet, pathTradingStatus, nil, nil)
}

func normalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

func rangeQuery(days, limit int) (map[string]string, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative")
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative")
	}
	query := map[string]string{}
	if days > 0 {
		query["days"] = strconv.Itoa(days)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	return query, nil
}

func (c *Client) invalid(action, reason string) models.Result {
	c.log.WithComponent("api_client").WithFields(logger.Fields{
		"action": action,
		"reason": reason,
	}).Debug("rejected invalid request")
	return models.Failure("invalid "+action+" request", fmt.Errorf("%s", reason))
}

func (c *Client) do(ctx context.Context, method, path string, body any, query map[string]string) models.Result {
	requestID := uuid.New().String()
	log := c.log.WithComponent("api_client").WithFields(logger.Fields{
		"method":     method,
		"path":       path,
		"request_id": requestID,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		logger.IncrementAPIFailure()
		log.WithError(err).Warn("request not sent")
		return models.Failure(fmt.Sprintf("%s %s not sent", method, path), err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(headerRequestID, requestID)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		logger.IncrementAPIFailure()
		log.WithError(err).Warn("request failed")
		return models.Failure(fmt.Sprintf("%s %s failed", method, path), err)
	}

	result := decodeResult(resp.StatusCode(), resp.Status(), resp.Body())
	fields := logger.Fields{"status": resp.StatusCode(), "success": result.Success}
	elapsed := time.Since(start)
	logger.LogPerformanceEntry(log, "api_client", path, elapsed, fields)
	log.Metric("Desk-APILatency", float64(elapsed.Microseconds())/1000, cwtypes.StandardUnitMilliseconds, logger.Fields{"Path": path})
	if !result.Success {
		logger.IncrementAPIFailure()
		log.WithFields(fields).WithFields(logger.Fields{"backend_error": result.Error}).Warn("request rejected")
	}
	return result
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Detail  json.RawMessage `json:"detail"`
	Data    json.RawMessage `json:"data"`
}

// decodeResult maps a backend response onto a Result. Non-2xx is always a
// failure; a 2xx body may still report success=false.
func decodeResult(code int, status string, body []byte) models.Result {
	body = bytes.TrimSpace(body)
	var env envelope
	isJSON := len(body) > 0 && json.Valid(body)
	if isJSON {
		_ = json.Unmarshal(body, &env)
	}

	ok := code >= 200 && code < 300
	if ok && env.Success != nil {
		ok = *env.Success
	}

	result := models.Result{Success: ok, Message: env.Message, Error: env.Error}
	switch {
	case len(env.Data) > 0:
		result.Data = env.Data
	case isJSON:
		result.Data = json.RawMessage(body)
	}

	if ok {
		return result
	}
	if result.Error == "" {
		result.Error = detailText(env.Detail)
	}
	if result.Error == "" && !isJSON && len(body) > 0 {
		result.Error = string(body)
	}
	if result.Error == "" {
		result.Error = status
	}
	if result.Message == "" {
		result.Message = fmt.Sprintf("request failed with status %d", code)
	}
	return result
}

func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
