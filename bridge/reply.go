package bridge

import (
	"encoding/json"
	"fmt"
)

// Reply is any JSON-encodable value returned to an HTTP client.
type Reply any

// Status is the outcome reported in an Envelope
type Status string

// Envelope statuses
const (
	StatusOk    Status = "Ok"
	StatusError Status = "Error"
)

// Client-facing descriptions
const (
	DescBuffered        = "BUFFERED"
	DescEmptyBody       = "Message is empty"
	DescInvalidJSON     = "Message is not valid JSON"
	DescUnavailable     = "MathCore is unavailable"
	DescRestarted       = "MathCore restarted, request was lost"
	DescPublishFailed   = "Failed to publish message to NATS"
	DescSubscribeFailed = "Failed to subscribe to NATS subject"
	DescInProgress      = "State request already in progress"
	DescCancelled       = "Request cancelled"
	DescUnknownQuery    = "Wrong query number (either not found or not generated yet)"
	DescInvalidQuery    = "invalid or missing query number"
	DescInvalidLogID    = "invalid or missing log id"
	DescIDExhausted     = "Failed to allocate a correlation ID"
	DescUnexpectedState = "Unexpected state response from MathCore"
)

// Envelope is the status reply shared by /start and /state.
type Envelope struct {
	Query    int    `json:"query"`
	GlobalID string `json:"globalID"`
	Status   Status `json:"status"`
	Desc     string `json:"desc"`
	Solnumbs int    `json:"solnumbs"`
	Time     int    `json:"time"`
}

// NewEnvelope builds an envelope with zero solution count and time
func NewEnvelope(query int, id string, status Status, desc string) Envelope {
	return Envelope{Query: query, GlobalID: id, Status: status, Desc: desc}
}

// ErrorReply is the bare {"error": ...} reply
type ErrorReply struct {
	Error string `json:"error"`
}

// StateReply wraps a terminal message or error from the backend
type StateReply struct {
	Solutions []any    `json:"solutions"`
	State     Envelope `json:"state"`
}

// normalizeState shapes a State.Response payload for the client.
// Only an object can carry state.query; anything else is reported as unexpected.
func normalizeState(query int, id string, response any) Reply {
	payload, ok := response.(map[string]any)
	if !ok {
		return StateReply{Solutions: []any{}, State: NewEnvelope(query, id, StatusError, DescUnexpectedState)}
	}
	if v, ok := payload["message"]; ok {
		return StateReply{Solutions: []any{}, State: NewEnvelope(query, id, StatusOk, text(v))}
	}
	if v, ok := payload["error"]; ok {
		return StateReply{Solutions: []any{}, State: NewEnvelope(query, id, StatusError, text(v))}
	}

	state, ok := payload["state"].(map[string]any)
	if !ok {
		state = map[string]any{}
	}
	state["query"] = query
	payload["state"] = state
	return payload
}

// text renders a non-string description as its JSON form
func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
