package models

import "encoding/json"

// MessageType is the `type` tag carried by every frame on the backend socket.
type MessageType string

// Inbound message types.
const (
	TypeArbitrageData         MessageType = "arbitrage_data"
	TypeActivePositions       MessageType = "active_positions"
	TypeClosedPositions       MessageType = "closed_positions"
	TypeAccountBalances       MessageType = "account_balances"
	TypeConnectionEstablished MessageType = "connection_established"
	TypeError                 MessageType = "error"
	TypePong                  MessageType = "pong"
)

// Outbound request types.
const (
	TypeSubscribeArbitrageData MessageType = "subscribe_arbitrage_data"
	TypeGetActivePositions     MessageType = "get_active_positions"
	TypeGetClosedPositions     MessageType = "get_closed_positions"
	TypeGetAccountBalances     MessageType = "get_account_balances"
	TypePing                   MessageType = "ping"
)

// InboundMessage is the envelope of a server frame. Data is decoded later
// according to Type.
type InboundMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// OutboundMessage is a client request. Only the parameters relevant to
// Type are set.
type OutboundMessage struct {
	Type MessageType `json:"type"`
	Days int         `json:"days,omitempty"`
}

// Category is one of the state cells the realtime client keeps.
type Category string

const (
	CategoryMarket          Category = "market"
	CategoryActivePositions Category = "active_positions"
	CategoryClosedPositions Category = "closed_positions"
	CategoryBalances        Category = "balances"
	// CategoryConnection marks a change of connection state or last error
	// rather than a data cell.
	CategoryConnection Category = "connection"
)

// Categories lists the data cells in subscription order.
func Categories() []Category {
	return []Category{CategoryMarket, CategoryActivePositions, CategoryClosedPositions, CategoryBalances}
}

var categoryByType = map[MessageType]Category{
	TypeArbitrageData:   CategoryMarket,
	TypeActivePositions: CategoryActivePositions,
	TypeClosedPositions: CategoryClosedPositions,
	TypeAccountBalances: CategoryBalances,
}

// CategoryFor maps an inbound message type to the cell it replaces.
func CategoryFor(t MessageType) (Category, bool) {
	c, ok := categoryByType[t]
	return c, ok
}

// MessageTypeFor is the inverse of CategoryFor, used when relaying state.
func MessageTypeFor(c Category) MessageType {
	for t, cat := range categoryByType {
		if cat == c {
			return t
		}
	}
	return MessageType(c)
}

// SubscribeRequests returns the requests sent right after a connection opens.
func SubscribeRequests(closedDays int) []OutboundMessage {
	return []OutboundMessage{
		{Type: TypeSubscribeArbitrageData},
		{Type: TypeGetActivePositions},
		{Type: TypeGetClosedPositions, Days: closedDays},
		{Type: TypeGetAccountBalances},
	}
}
