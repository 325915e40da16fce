package dashboard

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fundingdesk/logger"
	"fundingdesk/realtime"
)

const (
	relayWriteWait    = 5 * time.Second
	relayPingInterval = 30 * time.Second

	typeSnapshot = "snapshot"
)

var relaySeq atomic.Uint64

type snapshotFrame struct {
	Type      string            `json:"type"`
	Data      realtime.Snapshot `json:"data"`
	Timestamp string            `json:"timestamp"`
}

// handleRelay streams the full snapshot and then one event per update to a
// browser. Browser frames are read only to notice the close.
func (s *Server) handleRelay(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("relay").WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	name := fmt.Sprintf("relay-%d", relaySeq.Add(1))
	sub := s.state.Subscribe(name)
	defer sub.Unsubscribe()

	log := s.log.WithComponent("relay").WithFields(logger.Fields{
		"subscriber": name,
		"remote":     c.ClientIP(),
	})
	log.Info("relay client connected")
	defer log.Info("relay client disconnected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.state.Snapshot()
	events := realtime.NewEventTracker(snap.Version)
	initial := snapshotFrame{
		Type:      typeSnapshot,
		Data:      snap,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.writeFrame(conn, initial); err != nil {
		log.WithError(err).Debug("failed to send snapshot")
		return
	}

	ping := time.NewTicker(relayPingInterval)
	defer ping.Stop()
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			goingAway(conn, "server shutting down")
			return
		case <-closed:
			return
		case u, ok := <-sub.C():
			if !ok {
				goingAway(conn, "state source closed")
				return
			}
			event, fresh := events.Next(s.state.Snapshot(), u)
			if !fresh {
				continue
			}
			if err := s.writeFrame(conn, event); err != nil {
				log.WithError(err).Debug("failed to relay update")
				return
			}
			logger.RecordChannelMessage("relay", 1)
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(relayWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	return conn.WriteJSON(v)
}

func goingAway(conn *websocket.Conn, reason string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(relayWriteWait))
}
