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

// Package ragline implements a client for a retrieval-augmented chat
// platform. The client drives two server surfaces: a request/response HTTP
// RPC interface for documents, collections and asynchronous jobs, and a
// persistent duplex chat protocol reached through Connect.
//
// This package is the main entry point into this library. The session and
// transport packages can be used on their own, but it's not a primary design
// goal.
package ragline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/session"
	"github.com/ragline/ragline/transport"
)

// DefaultHTTPTimeout bounds individual HTTP requests to the server
const DefaultHTTPTimeout = 3600 * time.Second

// TokenProvider supplies authentication tokens for deployments that use an
// external identity provider instead of API keys. Token acquisition
// mechanics are the caller's concern.
type TokenProvider interface {
	Token() (string, error)
}

// Client is a connection-factory and RPC client for one server deployment.
// It is safe for concurrent use.
type Client struct {
	address            string
	apiKey             string
	tokenProvider      TokenProvider
	clientSessionID    string
	httpClient         *http.Client
	httpTimeout        time.Duration
	insecureSkipVerify bool
	logger             *slog.Logger
	queryDefaults      session.QueryOptions
	newRequestID       func() string
}

// NewClient returns a new Client for the server at the given base address.
// Exactly one authentication mechanism (WithAPIKey or WithTokenProvider)
// must be configured.
func NewClient(address string, options ...ClientOptionFunc) (*Client, error) {
	c := &Client{
		address: strings.TrimRight(address, "/ "),
		// Identifies this client process to the server for token-provider
		// auth; generated once here and passed explicitly with every request
		clientSessionID: uuid.NewString(),
		httpTimeout:     DefaultHTTPTimeout,
		newRequestID:    uuid.NewString,
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.apiKey == "" && c.tokenProvider == nil {
		return nil, errors.New(
			"ragline: either an API key or a token provider must be provided",
		)
	}
	if c.apiKey != "" && c.tokenProvider != nil {
		return nil, errors.New(
			"ragline: API key and token provider are mutually exclusive",
		)
	}
	if c.httpClient == nil {
		httpTransport := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecureSkipVerify {
			httpTransport.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			}
		}
		c.httpClient = &http.Client{
			Transport: httpTransport,
			Timeout:   c.httpTimeout,
		}
	}
	return c, nil
}

// Address returns the base HTTP(S) address of the server
func (c *Client) Address() string {
	return c.address
}

// Connect opens a live chat session for single-query-at-a-time use
func (c *Client) Connect(
	chatSessionID string,
) (*session.Session, error) {
	channel, err := c.dialChannel()
	if err != nil {
		return nil, err
	}
	return session.New(
		channel,
		chatSessionID,
		session.WithLogger(c.logger),
		session.WithQueryDefaults(c.queryDefaults),
	), nil
}

// ConnectConcurrent opens a live chat session supporting multiple
// concurrently pending queries over one shared connection
func (c *Client) ConnectConcurrent(
	chatSessionID string,
) (*session.ConcurrentSession, error) {
	channel, err := c.dialChannel()
	if err != nil {
		return nil, err
	}
	return session.NewConcurrent(
		channel,
		chatSessionID,
		session.WithLogger(c.logger),
		session.WithQueryDefaults(c.queryDefaults),
	), nil
}

func (c *Client) dialChannel() (transport.Channel, error) {
	endpoint, err := transport.Endpoint(c.address)
	if err != nil {
		return nil, err
	}
	header, err := c.authHeader()
	if err != nil {
		return nil, err
	}
	return transport.Dial(
		endpoint,
		header,
		transport.WithInsecureSkipVerify(c.insecureSkipVerify),
		transport.WithLogger(c.logger),
	)
}

// authHeader builds the authentication headers supplied at connect time and
// with every HTTP request
func (c *Client) authHeader() (http.Header, error) {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
		return header, nil
	}
	token, err := c.tokenProvider.Token()
	if err != nil {
		return nil, fmt.Errorf("ragline: token provider: %w", err)
	}
	header.Set("Authorization", "Token-Bearer "+token)
	header.Set("Session-Id", c.clientSessionID)
	return header, nil
}

// postJSON sends a JSON body to the given slug and decodes the JSON reply
// into out (unless out is nil)
func (c *Client) postJSON(
	ctx context.Context,
	slug string,
	body any,
	out any,
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ragline: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.address+slug,
		bytes.NewReader(data),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// get fetches the given slug and decodes the JSON reply into out
func (c *Client) get(ctx context.Context, slug string, out any) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.address+slug,
		nil,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	header, err := c.authHeader()
	if err != nil {
		return err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ragline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := raiseForStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ragline: decode response: %w", err)
	}
	return nil
}

// raiseForStatus maps non-200 replies to the error taxonomy
func raiseForStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.RequestID = parsed.RequestID
	} else {
		apiErr.Message = string(body)
	}
	switch resp.StatusCode {
	case http.StatusBadRequest:
		apiErr.kind = ErrInvalidArgument
	case http.StatusUnauthorized:
		apiErr.kind = ErrUnauthorized
	case http.StatusNotFound:
		apiErr.kind = ErrObjectNotFound
	case http.StatusInternalServerError:
		apiErr.kind = ErrInternalServer
	}
	return apiErr
}

// identifier is the {id, error} reply shape shared by several RPC endpoints
type identifier struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (i *identifier) toID() (string, error) {
	if i.Error != "" {
		return "", fmt.Errorf("ragline: %s", i.Error)
	}
	return i.ID, nil
}
