package models

import "encoding/json"

// Result is the outcome of a REST trading call as reported to the caller.
// Failures never surface any other way.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Failure builds an unsuccessful result.
func Failure(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// OpenPositionRequest is the body of an open-position call.
type OpenPositionRequest struct {
	Pair   string  `json:"pair"`
	Amount float64 `json:"amount"`
}

// ClosePositionRequest is the body of a close-position call. Percentage is
// in (0, 100].
type ClosePositionRequest struct {
	Pair       string  `json:"pair"`
	Percentage float64 `json:"percentage"`
}

// TradingStatus is the decoded body of the trading status endpoint.
type TradingStatus struct {
	Enabled         bool   `json:"enabled"`
	ActivePositions int    `json:"active_positions"`
	Message         string `json:"message,omitempty"`
}
