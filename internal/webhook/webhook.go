// Package webhook defines what plugins receive from and return to the
// webhook bridge, and how they verify a caller before acting on a payload.
package webhook

import (
	"net/http"
	"net/url"
)

// Request is an inbound webhook call, decoupled from net/http
type Request struct {
	// ID correlates log lines of one call and is echoed in X-Request-Id
	ID string
	// Key is the first path segment, which selected the plugin
	Key string
	// Path is whatever followed the key, without a leading slash
	Path       string
	Body       []byte
	RemoteAddr string
	Header     http.Header
	Query      url.Values
}

// Response is what the bridge writes back. The zero Status means 200.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// StatusCode returns Status, treating zero as 200
func (r *Response) StatusCode() int {
	if r == nil || r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// Status builds a response with a status and a short text body
func Status(code int, body string) *Response {
	return &Response{
		Status: code,
		Body:   []byte(body),
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
	}
}

// JSON builds a response with a JSON body
func JSON(code int, body []byte) *Response {
	return &Response{
		Status: code,
		Body:   body,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
}
