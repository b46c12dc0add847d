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

import "time"

// ChatMessage is the terminal answer to one query.
type ChatMessage struct {
	// ID is the server-assigned durable identifier of the answer
	ID string
	// Content is the answer text
	Content string
	// ReplyTo is the message id of the query this answers
	ReplyTo string
	// CreatedAt is the local time the terminal frame was observed
	CreatedAt time.Time
}

// StreamEvent is one element in the stream of partial and final snapshots
// delivered to a streaming sink. Content always holds the most recent
// snapshot of the answer; partials replace earlier content, they are never
// concatenated.
type StreamEvent struct {
	// MessageID is the server-assigned id of the in-progress answer
	MessageID string
	// Content is the current snapshot of the answer
	Content string
	// Final is true for the last event, which carries the terminal content
	Final bool
}

// StreamFunc consumes partial and final snapshots of an in-progress answer.
// It is invoked from the goroutine executing the query, in snapshot order.
type StreamFunc func(event StreamEvent)
