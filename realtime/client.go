package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fundingdesk/config"
	"fundingdesk/internal/channel"
	"fundingdesk/logger"
	"fundingdesk/models"
	"github.com/jpillora/backoff"
)

const (
	defaultBaseDelay         = time.Second
	defaultMaxDelay          = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultSubscriberBuffer  = 64

	msgMaxAttempts = "maximum reconnection attempts reached"
)

var (
	// ErrReconnectExhausted is returned by Connect once the reconnect policy
	// gave up. Only Reconnect leaves that state.
	ErrReconnectExhausted = errors.New(msgMaxAttempts)
	errSuperseded         = errors.New("connection attempt superseded")
)

type timer interface {
	Stop() bool
}

type Option func(*Client)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithHub shares an existing update hub instead of creating one.
func WithHub(h *channel.Hub) Option {
	return func(c *Client) { c.hub = h }
}

// Stats are the client's lifetime counters.
type Stats struct {
	State        ConnectionState  `json:"state"`
	Attempts     int              `json:"attempts"`
	Exhausted    bool             `json:"exhausted"`
	Messages     int64            `json:"messages"`
	Reconnects   int64            `json:"reconnects"`
	ParseErrors  int64            `json:"parse_errors"`
	ServerErrors int64            `json:"server_errors"`
	Updates      channel.HubStats `json:"updates"`
}

// Client owns the single backend websocket and the latest value of every
// data category. Construct one per process and share it.
type Client struct {
	cfg    config.RealtimeConfig
	dialer Dialer
	hub    *channel.Hub
	store  *store
	log    *logger.Log

	afterFunc func(time.Duration, func()) timer

	mu         sync.Mutex
	conn       *connection
	dialing    bool
	dialCancel context.CancelFunc
	gen        uint64
	timer      timer
	timerSeq   uint64
	backoff    *backoff.Backoff
	exhausted  bool

	messages     int64
	reconnects   int64
	parseErrors  int64
	serverErrors int64
}

func New(cfg config.RealtimeConfig, opts ...Option) *Client {
	if cfg.Reconnect.BaseDelay <= 0 {
		cfg.Reconnect.BaseDelay = defaultBaseDelay
	}
	if cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect.MaxDelay = defaultMaxDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	c := &Client{
		cfg: cfg,
		log: logger.GetLogger(),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		backoff: &backoff.Backoff{
			Min:    cfg.Reconnect.BaseDelay,
			Max:    cfg.Reconnect.MaxDelay,
			Factor: 2,
			Jitter: false,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if c.hub == nil {
		c.hub = channel.NewHub(defaultSubscriberBuffer)
	}
	c.store = newStore(c.hub)

	c.log.WithComponent("realtime_client").WithFields(logger.Fields{
		"url":          cfg.URL,
		"base_delay":   cfg.Reconnect.BaseDelay.String(),
		"max_delay":    cfg.Reconnect.MaxDelay.String(),
		"max_attempts": cfg.Reconnect.MaxAttempts,
		"heartbeat":    cfg.HeartbeatInterval.String(),
	}).Info("realtime client created")
	return c
}

// Connect opens the connection unless one is open or being established.
// The returned error is informational; the outcome is always reflected in
// State and LastError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	if c.exhausted {
		c.mu.Unlock()
		return ErrReconnectExhausted
	}
	return c.dialLocked(ctx)
}

// dialLocked is entered with c.mu held and returns with it released.
func (c *Client) dialLocked(ctx context.Context) error {
	c.stopTimerLocked()
	c.gen++
	gen := c.gen

	var dialCtx context.Context
	var cancel context.CancelFunc
	if c.cfg.HandshakeTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	} else {
		dialCtx, cancel = context.WithCancel(ctx)
	}
	c.dialing = true
	c.dialCancel = cancel
	c.store.setState(StateConnecting)
	c.mu.Unlock()

	log := c.log.WithComponent("realtime_client").WithFields(logger.Fields{
		"url":        c.cfg.URL,
		"generation": gen,
	})
	log.Debug("dialing backend websocket")

	start := time.Now()
	ws, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect or Reconnect ran while dialing.
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return errSuperseded
	}
	c.dialing = false
	c.dialCancel = nil

	if err != nil {
		msg := fmt.Sprintf("connection failed: %v", err)
		c.store.setStateError(StateError, msg)
		log.WithError(err).Warn("failed to connect to backend websocket")
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	conn := newConnection(gen, ws, c.cfg.WriteTimeout)
	c.conn = conn
	c.backoff.Reset()
	c.store.setStateError(StateConnected, "")
	c.mu.Unlock()

	logger.LogPerformanceEntry(log, "realtime_client", "dial", time.Since(start), nil)
	log.Info("connected to backend websocket")

	go c.readLoop(conn)
	go c.heartbeat(conn)

	for _, req := range models.SubscribeRequests(c.cfg.ClosedPositionsDays) {
		if err := conn.writeJSON(req); err != nil {
			log.WithError(err).WithFields(logger.Fields{"request": req.Type}).Warn("failed to send subscribe request")
			// The read loop observes the dropped transport and applies the
			// reconnect policy.
			conn.shutdown()
			break
		}
	}
	return nil
}

// Disconnect closes the connection with a normal closure and cancels any
// pending or in-flight attempt. It never schedules a reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.abandonLocked()
	c.store.setState(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.closeNormal()
	}
	c.log.WithComponent("realtime_client").Info("disconnected from backend websocket")
}

// Reconnect drops whatever connection or attempt exists, resets the
// backoff and the terminal state, and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.abandonLocked()
	c.backoff.Reset()
	c.exhausted = false
	c.store.setError("")
	c.mu.Unlock()

	if conn != nil {
		conn.closeNormal()
	}
	c.log.WithComponent("realtime_client").Info("manual reconnect requested")
	return c.Connect(ctx)
}

// abandonLocked invalidates the current generation so no callback of the
// existing connection or dial can touch state again.
func (c *Client) abandonLocked() *connection {
	c.gen++
	c.stopTimerLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialing = false
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
}

// scheduleReconnectLocked arms the single reconnect timer, or moves to the
// terminal state once the attempt budget is spent.
func (c *Client) scheduleReconnectLocked() {
	if c.timer != nil {
		return
	}
	log := c.log.WithComponent("realtime_client")

	limit := c.cfg.Reconnect.MaxAttempts
	if limit > 0 && int(c.backoff.Attempt()) >= limit {
		c.exhausted = true
		c.store.setStateError(StateError, msgMaxAttempts)
		log.WithFields(logger.Fields{"max_attempts": limit}).Error("giving up on backend websocket")
		return
	}

	delay := c.backoff.Duration()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.afterFunc(delay, func() { c.fireReconnect(seq) })

	atomic.AddInt64(&c.reconnects, 1)
	logger.IncrementReconnect()
	log.WithFields(logger.Fields{
		"delay":   delay.String(),
		"attempt": int(c.backoff.Attempt()),
	}).Info("reconnect scheduled")
}

func (c *Client) fireReconnect(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	_ = c.dialLocked(context.Background())
}

func (c *Client) readLoop(conn *connection) {
	for {
		if c.cfg.ReadTimeout > 0 {
			conn.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Client) heartbeat(conn *connection) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	ping := models.OutboundMessage{Type: models.TypePing}

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.writeJSON(ping); err != nil {
				c.log.WithComponent("realtime_client").WithError(err).Warn("failed to send heartbeat")
				conn.shutdown()
				return
			}
		}
	}
}

func (c *Client) handleClosed(conn *connection, err error) {
	conn.shutdown()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil

	log := c.log.WithComponent("realtime_client").WithFields(logger.Fields{"generation": conn.gen})
	if isNormalClosure(err) {
		c.store.setState(StateDisconnected)
		log.Info("backend closed the websocket normally")
		return
	}

	c.store.setStateError(StateDisconnected, fmt.Sprintf("connection lost: %v", err))
	log.WithError(err).Warn("backend websocket closed unexpectedly")
	c.scheduleReconnectLocked()
}

func (c *Client) live(conn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

// apply runs fn under the client lock if conn is still the live connection.
func (c *Client) apply(conn *connection, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	fn()
	return true
}

// Subscribe registers for update notifications. Read the new values with
// Snapshot.
func (c *Client) Subscribe(name string) *channel.Subscription {
	return c.hub.Subscribe(name)
}

func (c *Client) Snapshot() Snapshot {
	return c.store.snapshot()
}

func (c *Client) State() ConnectionState {
	return c.store.snapshot().State
}

func (c *Client) LastError() string {
	return c.store.snapshot().LastError
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	attempts := int(c.backoff.Attempt())
	exhausted := c.exhausted
	c.mu.Unlock()

	return Stats{
		State:        c.State(),
		Attempts:     attempts,
		Exhausted:    exhausted,
		Messages:     atomic.LoadInt64(&c.messages),
		Reconnects:   atomic.LoadInt64(&c.reconnects),
		ParseErrors:  atomic.LoadInt64(&c.parseErrors),
		ServerErrors: atomic.LoadInt64(&c.serverErrors),
		Updates:      c.hub.GetStats(),
	}
}

// Close disconnects and closes every subscription.
func (c *Client) Close() {
	c.Disconnect()
	c.hub.Close()
}
