// Package warmline is the Go client SDK for the Warmline voice gateway.
//
// It covers the full client side of a call: the transport to the turn and
// usage endpoints, microphone capture with voice-activity detection, the
// call state machine that drives listen/think/speak cycles, and the
// realtime websocket session.
package warmline

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.warmline.app"

// Client talks to the Warmline gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different gateway.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithToken sets the bearer credential. Token issuance is out of scope;
// the client treats it as opaque.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			// A turn holds the response open through synthesis.
			Timeout: 60 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
