// Copyright 2024 Ragline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides the persistent duplex channel used by chat
// sessions. A channel carries newline-delimited text frames over a websocket
// and is shared by all queries issued on the session that owns it.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHandshakeTimeout is the maximum time allowed for the websocket
	// upgrade to complete.
	DefaultHandshakeTimeout = 45 * time.Second
	// ChatPath is the fixed path of the duplex chat endpoint on the server.
	ChatPath = "/ws"
)

var (
	// ErrChannelClosed is returned when sending or receiving on a channel
	// that has been closed, either locally or by the peer.
	ErrChannelClosed = errors.New("transport: channel is closed")
	// ErrReceiveTimeout is returned by Receive when no frame arrives within
	// the given timeout. The channel remains usable afterwards.
	ErrReceiveTimeout = errors.New("transport: receive timeout")
)

// Channel is a duplex text-frame connection to the chat endpoint. Send may be
// called concurrently with Receive, but writers must not overlap; callers
// that share a channel across goroutines serialize their own sends.
type Channel interface {
	// Send writes a single text frame.
	Send(text string) error
	// Receive blocks up to timeout for the next inbound frame. A
	// non-positive timeout blocks until a frame arrives or the channel
	// closes.
	Receive(timeout time.Duration) (string, error)
	// Close releases the underlying socket. It is idempotent.
	Close() error
}

// Endpoint derives the duplex chat endpoint from a base HTTP(S) server
// address by swapping the scheme to its websocket equivalent and appending
// the chat path.
func Endpoint(address string) (string, error) {
	u, err := url.Parse(strings.TrimRight(address, "/ "))
	if err != nil {
		return "", fmt.Errorf("transport: invalid address %q: %w", address, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf(
			"transport: unsupported scheme %q in address %q",
			u.Scheme,
			address,
		)
	}
	u.Path = strings.TrimRight(u.Path, "/") + ChatPath
	return u.String(), nil
}

// DialOptionFunc is a function that modifies the dial configuration
type DialOptionFunc func(*dialConfig)

type dialConfig struct {
	handshakeTimeout   time.Duration
	insecureSkipVerify bool
	logger             *slog.Logger
}

// WithHandshakeTimeout specifies the websocket handshake timeout
func WithHandshakeTimeout(timeout time.Duration) DialOptionFunc {
	return func(c *dialConfig) {
		c.handshakeTimeout = timeout
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. This is
// intended for self-signed or test deployments
func WithInsecureSkipVerify(skip bool) DialOptionFunc {
	return func(c *dialConfig) {
		c.insecureSkipVerify = skip
	}
}

// WithLogger specifies the logger to use. If none is provided, logging is
// disabled
func WithLogger(logger *slog.Logger) DialOptionFunc {
	return func(c *dialConfig) {
		c.logger = logger
	}
}

// WSChannel is a websocket-backed Channel. A dedicated reader goroutine pumps
// inbound frames into a buffered channel, so a Receive timeout leaves the
// socket's read side untouched and the channel usable.
type WSChannel struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	sendMutex sync.Mutex
	onceClose sync.Once
	closeErr  error
	doneChan  chan struct{}

	inbound  chan string
	readErr  error // set by readLoop before readDone is closed
	readDone chan struct{}
}

// Dial opens a websocket channel to the given endpoint, presenting the
// provided headers during the handshake. The endpoint is expected to come
// from Endpoint()
func Dial(
	endpoint string,
	header http.Header,
	options ...DialOptionFunc,
) (*WSChannel, error) {
	cfg := dialConfig{
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	// Apply provided options functions
	for _, option := range options {
		option(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.handshakeTimeout,
	}
	if cfg.insecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402
		}
	}
	conn, resp, err := dialer.Dial(endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf(
				"transport: dial %s: %s: %w",
				endpoint,
				resp.Status,
				err,
			)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	cfg.logger.Debug(
		"channel connected",
		"component", "transport",
		"endpoint", endpoint,
	)
	channel := &WSChannel{
		conn:     conn,
		logger:   cfg.logger,
		doneChan: make(chan struct{}),
		inbound:  make(chan string, 32),
		readDone: make(chan struct{}),
	}
	go channel.readLoop()
	return channel, nil
}

// readLoop pumps inbound text frames from the socket until a read error or
// local close. The terminating error is recorded before readDone is closed.
func (c *WSChannel) readLoop() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.inbound <- string(data):
		case <-c.doneChan:
			return
		}
	}
}

// Send writes a single text frame. It returns ErrChannelClosed if the
// channel was closed
func (c *WSChannel) Send(text string) error {
	select {
	case <-c.doneChan:
		return ErrChannelClosed
	default:
	}
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	return nil
}

// Receive blocks up to timeout for the next inbound text frame. It returns
// ErrReceiveTimeout when the timeout expires and ErrChannelClosed when the
// socket closes. A timeout does not disturb the channel; later calls still
// receive frames in order.
func (c *WSChannel) Receive(timeout time.Duration) (string, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.doneChan:
		return "", ErrChannelClosed
	case <-c.readDone:
		// Frames buffered before the read side failed are still delivered
		select {
		case data := <-c.inbound:
			return data, nil
		default:
		}
		return "", fmt.Errorf("%w: %w", ErrChannelClosed, c.readErr)
	case <-timer:
		return "", ErrReceiveTimeout
	}
}

// Close releases the underlying socket. Calling it more than once has no
// additional effect
func (c *WSChannel) Close() error {
	c.onceClose.Do(func() {
		close(c.doneChan)
		// Attempt a clean websocket close before dropping the socket
		c.sendMutex.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.sendMutex.Unlock()
		c.closeErr = c.conn.Close()
		c.logger.Debug("channel closed", "component", "transport")
	})
	return c.closeErr
}
