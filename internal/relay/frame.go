// Package relay implements the outbound session to the relay host.
//
// The relay host pushes events over a websocket; every event is answered
// with exactly one ack carrying the same id. Frames are JSON text messages:
//
//	{"type":"event","id":7,"event":"get","data":{"path":"/","prefix":"/app"}}
//	{"type":"ack","id":7,"data":{"status_code":200,...}}
//	{"type":"ack","id":7,"error":"..."}
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"onair-relay/internal/model"
)

// EventGet is the event the relay host sends for a forwarded GET request.
const EventGet = "get"

const (
	frameEvent = "event"
	frameAck   = "ack"
)

var (
	// ErrUnknownEvent is reported to the relay host for events with no handler.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrBadPayload is reported when an event payload cannot be decoded.
	ErrBadPayload = errors.New("bad event payload")
)

type frame struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// GetHandler answers forwarded GET requests. The transport invokes it for
// one event at a time, never concurrently.
type GetHandler interface {
	HandleGet(ctx context.Context, req *model.ForwardedRequest) (*model.RelayResponse, error)
}

// decodeForwardedRequest parses the payload of a "get" event.
func decodeForwardedRequest(data json.RawMessage) (*model.ForwardedRequest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	var req model.ForwardedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &req, nil
}
