package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"fundingdesk/logger"
	"fundingdesk/models"
)

var errMissingData = errors.New("missing data field")

// handleFrame decodes one server frame and applies it. A frame that fails
// to parse only sets the last error.
func (c *Client) handleFrame(conn *connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.parseFailure(conn, "", fmt.Errorf("panic while handling frame: %v", r))
		}
	}()

	// frames still buffered on an abandoned connection are not counted
	if !c.live(conn) {
		return
	}
	atomic.AddInt64(&c.messages, 1)

	var msg models.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.parseFailure(conn, "", fmt.Errorf("decode envelope: %w", err))
		return
	}
	logger.RecordChannelMessage(string(msg.Type), len(data))
	log := c.log.WithComponent("realtime_client").WithFields(logger.Fields{"type": msg.Type})

	switch msg.Type {
	case models.TypePong:
		return
	case models.TypeConnectionEstablished:
		log.WithFields(logger.Fields{"message": msg.Message}).Debug("backend acknowledged connection")
		return
	case models.TypeError:
		text := msg.Message
		if text == "" {
			text = "backend reported an error"
		}
		atomic.AddInt64(&c.serverErrors, 1)
		logger.IncrementServerError()
		log.WithFields(logger.Fields{"error_message": text}).Warn("backend error message")
		c.apply(conn, func() { c.store.setError(text) })
		return
	}

	cat, ok := models.CategoryFor(msg.Type)
	if !ok {
		log.Warn("ignoring unknown message type")
		return
	}
	value, err := decodeCategory(cat, msg.Data)
	if err != nil {
		c.parseFailure(conn, msg.Type, fmt.Errorf("decode %s: %w", msg.Type, err))
		return
	}
	if c.apply(conn, func() { c.store.setCategory(cat, value) }) {
		log.WithFields(logger.Fields{"category": cat, "bytes": len(data)}).Debug("category updated")
	}
}

func decodeCategory(cat models.Category, data json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errMissingData
	}

	switch cat {
	case models.CategoryMarket:
		var v models.MarketSnapshot
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case models.CategoryActivePositions, models.CategoryClosedPositions:
		var v models.PositionList
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return &v, nil
	case models.CategoryBalances:
		var v models.BalanceSnapshot
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
	return nil, fmt.Errorf("no decoder for category %s", cat)
}

func (c *Client) parseFailure(conn *connection, typ models.MessageType, err error) {
	atomic.AddInt64(&c.parseErrors, 1)
	logger.IncrementParseError()
	c.log.WithComponent("realtime_client").WithError(err).WithFields(logger.Fields{
		"type": typ,
	}).Warn("failed to parse backend message")
	c.apply(conn, func() { c.store.setError(err.Error()) })
}
