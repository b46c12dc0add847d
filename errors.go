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
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the well-known server failure classes. APIError wraps
// one of these, so callers can test with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInternalServer  = errors.New("internal server error")
)

// APIError is a failure reported by the HTTP request/response surface of the
// server.
type APIError struct {
	// Status is the HTTP status code of the failed request
	Status int
	// Message is the server-supplied error text, or the raw body when the
	// server did not return a structured error
	Message string
	// RequestID identifies the failed request on the server, when available
	RequestID string

	kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error [%d]: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// JobTimeoutError indicates a job made no observable progress for the
// configured inactivity timeout. A job that keeps making progress never
// times out.
type JobTimeoutError struct {
	JobID   string
	Kind    JobKind
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf(
		"job %s (%s) timed out after %s",
		e.Kind,
		e.JobID,
		e.Timeout,
	)
}
