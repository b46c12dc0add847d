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

package ragline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokenProvider struct {
	token string
}

func (p staticTokenProvider) Token() (string, error) {
	return p.token, nil
}

type failingTokenProvider struct{}

func (failingTokenProvider) Token() (string, error) {
	return "", errors.New("identity provider unreachable")
}

func TestNewClientAuthConfiguration(t *testing.T) {
	t.Run("api key", func(t *testing.T) {
		c, err := NewClient("https://example.com", WithAPIKey("secret"))
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
	t.Run("token provider", func(t *testing.T) {
		c, err := NewClient(
			"https://example.com",
			WithTokenProvider(staticTokenProvider{token: "tok"}),
		)
		require.NoError(t, err)
		assert.NotNil(t, c)
	})
	t.Run("neither", func(t *testing.T) {
		_, err := NewClient("https://example.com")
		assert.Error(t, err)
	})
	t.Run("both", func(t *testing.T) {
		_, err := NewClient(
			"https://example.com",
			WithAPIKey("secret"),
			WithTokenProvider(staticTokenProvider{token: "tok"}),
		)
		assert.Error(t, err)
	})
}

func TestNewClientTrimsAddress(t *testing.T) {
	c, err := NewClient("https://example.com/ ", WithAPIKey("secret"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", c.Address())
}

func TestAPIKeyAuthHeader(t *testing.T) {
	var authorization, sessionID string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = r.Header.Get("Authorization")
			sessionID = r.Header.Get("Session-Id")
			fmt.Fprint(w, `{"queue_length":0}`)
		}),
	)
	defer server.Close()
	c, err := NewClient(server.URL, WithAPIKey("secret"))
	require.NoError(t, err)
	_, err = c.CountPendingJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", authorization)
	assert.Empty(t, sessionID)
}

func TestTokenProviderAuthHeader(t *testing.T) {
	var authorization []string
	var sessionIDs []string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization = append(authorization, r.Header.Get("Authorization"))
			sessionIDs = append(sessionIDs, r.Header.Get("Session-Id"))
			fmt.Fprint(w, `{"queue_length":0}`)
		}),
	)
	defer server.Close()
	c, err := NewClient(
		server.URL,
		WithTokenProvider(staticTokenProvider{token: "tok"}),
	)
	require.NoError(t, err)
	_, err = c.CountPendingJobs(context.Background())
	require.NoError(t, err)
	_, err = c.CountPendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, authorization, 2)
	assert.Equal(t, "Token-Bearer tok", authorization[0])
	assert.Equal(t, "Token-Bearer tok", authorization[1])
	// The per-client id is generated once and stays stable across requests
	require.Len(t, sessionIDs, 2)
	assert.NotEmpty(t, sessionIDs[0])
	assert.Equal(t, sessionIDs[0], sessionIDs[1])
}

func TestTokenProviderErrorPropagates(t *testing.T) {
	c, err := NewClient(
		"https://example.com",
		WithTokenProvider(failingTokenProvider{}),
	)
	require.NoError(t, err)
	_, err = c.CountPendingJobs(context.Background())
	assert.ErrorContains(t, err, "identity provider unreachable")
}

func TestStatusErrorMapping(t *testing.T) {
	testDefs := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotFound, ErrObjectNotFound},
		{http.StatusInternalServerError, ErrInternalServer},
		{http.StatusServiceUnavailable, nil},
	}
	for _, testDef := range testDefs {
		t.Run(fmt.Sprintf("status %d", testDef.status), func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(testDef.status)
					fmt.Fprint(w, `{"error":"boom","request_id":"r1"}`)
				}),
			)
			defer server.Close()
			c, err := NewClient(server.URL, WithAPIKey("secret"))
			require.NoError(t, err)
			_, err = c.CountPendingJobs(context.Background())
			require.Error(t, err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, testDef.status, apiErr.Status)
			assert.Equal(t, "boom", apiErr.Message)
			assert.Equal(t, "r1", apiErr.RequestID)
			if testDef.sentinel != nil {
				assert.ErrorIs(t, err, testDef.sentinel)
			} else {
				for _, sentinel := range []error{
					ErrInvalidArgument,
					ErrUnauthorized,
					ErrObjectNotFound,
					ErrInternalServer,
				} {
					assert.NotErrorIs(t, err, sentinel)
				}
			}
		})
	}
}

func TestStatusErrorUnstructuredBody(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "malformed collection id")
		}),
	)
	defer server.Close()
	c, err := NewClient(server.URL, WithAPIKey("secret"))
	require.NoError(t, err)
	_, err = c.CountPendingJobs(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "malformed collection id", apiErr.Message)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
