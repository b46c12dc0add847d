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

import "sync"

// inFlightQuery is the per-query bookkeeping record of the concurrent
// variant. The receive loop updates it and the issuing goroutine consumes
// snapshots from it, so the two sides never block each other: updates
// overwrite the latest snapshot and poke a one-slot notify channel.
type inFlightQuery struct {
	correlationID string

	mu        sync.Mutex
	queryID   string // server-assigned id from our ack
	messageID string // id of the in-progress answer
	content   string
	hasUpdate bool
	done      bool
	err       error

	notify chan struct{}
}

func newInFlightQuery(correlationID string) *inFlightQuery {
	return &inFlightQuery{
		correlationID: correlationID,
		notify:        make(chan struct{}, 1),
	}
}

// setAcked records the server-assigned message id for this query
func (q *inFlightQuery) setAcked(messageID string) {
	q.mu.Lock()
	q.queryID = messageID
	q.mu.Unlock()
}

// setContent replaces the accumulated answer snapshot. Terminal snapshots
// set done.
func (q *inFlightQuery) setContent(messageID string, body string, terminal bool) {
	q.mu.Lock()
	q.messageID = messageID
	q.content = body
	q.hasUpdate = true
	if terminal {
		q.done = true
	}
	q.mu.Unlock()
	q.wake()
}

// fail terminates the query with the given error
func (q *inFlightQuery) fail(err error) {
	q.mu.Lock()
	q.done = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

// wake pokes the notify channel without blocking. A pending wake-up already
// covers this update.
func (q *inFlightQuery) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// snapshot returns the current state and clears the pending-update flag
func (q *inFlightQuery) snapshot() (event StreamEvent, pending bool, done bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	event = StreamEvent{
		MessageID: q.messageID,
		Content:   q.content,
		Final:     q.done && q.err == nil,
	}
	pending = q.hasUpdate
	q.hasUpdate = false
	return event, pending, q.done, q.err
}

// matches reports whether an inbound content frame belongs to this query.
// Partials and the final response share the answer's message id, so either
// the reply-to id (our query) or the message id (the answer) may match.
func (q *inFlightQuery) matches(replyToID string, messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queryID != "" && q.queryID == replyToID {
		return true
	}
	return q.messageID != "" && q.messageID == messageID
}

// ids returns the known identifiers for this query, for tombstoning and
// violation reporting
func (q *inFlightQuery) ids() (correlationID, queryID, messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.correlationID, q.queryID, q.messageID
}
