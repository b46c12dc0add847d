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

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionClosed is returned when issuing a query on a closed session
var ErrSessionClosed = errors.New("session is closed")

// SessionError is a server-reported failure carried in an error frame. It is
// terminal to the affected query only and does not disturb other in-flight
// queries.
type SessionError struct {
	Message string
}

func (e *SessionError) Error() string {
	return e.Message
}

// ProtocolError indicates a malformed frame or an unrecognized frame tag.
// It is fatal to the current receive step.
type ProtocolError struct {
	Tag string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		if e.Tag != "" {
			return fmt.Sprintf(
				"protocol error: malformed %q frame: %s",
				e.Tag,
				e.Err,
			)
		}
		return fmt.Sprintf("protocol error: malformed frame: %s", e.Err)
	}
	return fmt.Sprintf("protocol error: unrecognized frame tag %q", e.Tag)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ViolationError indicates an inbound frame that could not be matched to any
// in-flight query. It carries the unexpected id and the set of ids that were
// expected at the time.
type ViolationError struct {
	ID       string
	Expected []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf(
		"protocol violation: frame for unknown id %q, expecting one of [%s]",
		e.ID,
		strings.Join(e.Expected, ", "),
	)
}

// TimeoutError indicates a query did not reach a terminal frame before its
// local deadline. The query is abandoned locally; no cancellation is sent to
// the server, and the caller may retry with a fresh query.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"query %s timed out after %s",
		e.CorrelationID,
		e.Timeout,
	)
}
