// Package model defines the messages exchanged with the relay host.
package model

import "net/http"

// ForwardedRequest is a request the relay host wants answered locally.
type ForwardedRequest struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix"`
}

// RelayResponse answers exactly one ForwardedRequest.
// Content is always gzip-compressed; MediaType is nil when the local
// response carried no Content-Type.
type RelayResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Content    []byte            `json:"content"`
	MediaType  *string           `json:"media_type"`
}

// LocalResponse is the fully buffered result of an in-process call.
type LocalResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
