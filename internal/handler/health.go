package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Version is a string type for dependency injection of the build version.
type Version string

// RelayState reports the outbound relay session. *relay.Client implements it.
type RelayState interface {
	URL() string
	State() (connected bool, sessionID string)
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	relay   RelayState
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(relay RelayState, v Version) *HealthHandler {
	return &HealthHandler{relay: relay, version: v}
}

type relayStatus struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
}

type statusResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Relay   relayStatus `json:"relay"`
}

// Healthz returns a simple OK response for liveness probes. It does not
// depend on the relay session.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status, including the relay session state.
func (h *HealthHandler) Status(c echo.Context) error {
	connected, sessionID := h.relay.State()
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Relay: relayStatus{
			URL:       h.relay.URL(),
			Connected: connected,
			SessionID: sessionID,
		},
	})
}
