package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"onair-relay/internal/middleware"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>On Air</title>
</head>
<body>
<h1>On Air</h1>
<p>Relay: {{if .Connected}}connected{{else}}not connected{{end}}</p>
<ul>
<li><a href="{{.Prefix}}/relay/status">Relay status</a></li>
<li><a href="{{.Prefix}}/healthz">Health</a></li>
</ul>
</body>
</html>
`))

type indexData struct {
	Prefix    string
	Connected bool
}

// IndexHandler serves the landing page of the local app.
type IndexHandler struct {
	relay RelayState
}

// NewIndexHandler creates an IndexHandler.
func NewIndexHandler(relay RelayState) *IndexHandler {
	return &IndexHandler{relay: relay}
}

// Index renders the landing page. Links carry the forwarded prefix so they
// resolve on the relay host as well as on the local listener.
func (h *IndexHandler) Index(c echo.Context) error {
	connected, _ := h.relay.State()

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, indexData{
		Prefix:    middleware.Prefix(c),
		Connected: connected,
	}); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}
