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
	"fmt"
	"time"
)

// Polling parameters for waiting on asynchronous jobs
const (
	// DefaultJobTimeout is the inactivity timeout when none is given
	DefaultJobTimeout = 86400 * time.Second
	// InitialWaitInterval is the first poll interval
	InitialWaitInterval = 100 * time.Millisecond
	// MaxWaitInterval caps the poll interval
	MaxWaitInterval = time.Second
	// WaitBackoffFactor grows the poll interval each iteration
	WaitBackoffFactor = 1.4
)

// JobKind identifies the kind of asynchronous work a job performs
type JobKind string

const (
	JobKindNoOp                           JobKind = "NoOpJob"
	JobKindIngestFromFileSystem           JobKind = "IngestFromFileSystemJob"
	JobKindIngestUploads                  JobKind = "IngestUploadsJob"
	JobKindIngestWebsite                  JobKind = "IngestWebsiteJob"
	JobKindIndexFiles                     JobKind = "IndexFilesJob"
	JobKindUpdateCollectionStats          JobKind = "UpdateCollectionStatsJob"
	JobKindDeleteCollections              JobKind = "DeleteCollectionsJob"
	JobKindDeleteDocuments                JobKind = "DeleteDocumentsJob"
	JobKindDeleteDocumentsFromCollection  JobKind = "DeleteDocumentsFromCollectionJob"
	JobKindImportDocumentIntoCollection   JobKind = "ImportDocumentIntoCollectionJob"
	JobKindImportCollectionIntoCollection JobKind = "ImportCollectionIntoCollectionJob"
	JobKindDocumentSummary                JobKind = "DocumentSummaryJob"
)

// Job is a server-side asynchronous task. The client only reads and polls
// it; its lifecycle lives server-side.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       JobKind   `json:"kind"`
	Passed     float64   `json:"passed"`
	Failed     float64   `json:"failed"`
	Progress   float64   `json:"progress"`
	Completed  bool      `json:"completed"`
	Canceled   bool      `json:"canceled"`
	Date       time.Time `json:"date"`
	LastUpdate time.Time `json:"last_update_date"`
	Duration   string    `json:"duration"`
	Errors     []string  `json:"errors"`
}

// JobResult reports the outcome of a job control operation
type JobResult struct {
	Status string `json:"status"`
}

// SchedulerStats reports the global job queue length on the server
type SchedulerStats struct {
	QueueLength int `json:"queue_length"`
}

// submitJob posts a job RPC. The request carries a fresh request id so the
// server can deduplicate retried submissions.
func (c *Client) submitJob(
	ctx context.Context,
	method string,
	params map[string]any,
) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	var ident identifier
	payload := []any{method, params, c.newRequestID()}
	if err := c.postJSON(ctx, "/rpc/job", payload, &ident); err != nil {
		return "", err
	}
	return ident.toID()
}

// GetJob fetches information about a specific job
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var jobs []Job
	payload := []any{".Get", map[string]any{"job_id": jobID}, c.newRequestID()}
	if err := c.postJSON(ctx, "/rpc/job", payload, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, &APIError{
			Status:  404,
			Message: fmt.Sprintf("job %s not found", jobID),
			kind:    ErrObjectNotFound,
		}
	}
	return &jobs[0], nil
}

// CancelJob stops a specific job from running on the server
func (c *Client) CancelJob(ctx context.Context, jobID string) (*JobResult, error) {
	var result JobResult
	payload := []any{".Cancel", map[string]any{"job_id": jobID}, c.newRequestID()}
	if err := c.postJSON(ctx, "/rpc/job", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CountPendingJobs counts the number of global, pending jobs on the server
func (c *Client) CountPendingJobs(ctx context.Context) (int, error) {
	var stats SchedulerStats
	payload := []any{".Stats", map[string]any{}, c.newRequestID()}
	if err := c.postJSON(ctx, "/rpc/job", payload, &stats); err != nil {
		return 0, err
	}
	return stats.QueueLength, nil
}

// WaitForCompletion polls a job until it reports completed or canceled. The
// timeout is an inactivity timeout: it resets whenever the job's progress
// advances, so a job that keeps making progress never times out. A zero
// timeout selects DefaultJobTimeout. Status fetch errors propagate
// immediately; they are not absorbed into the backoff loop.
func (c *Client) WaitForCompletion(
	ctx context.Context,
	jobID string,
	timeout time.Duration,
) (*Job, error) {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	deadline := time.Now().Add(timeout)
	interval := InitialWaitInterval
	var lastProgress float64
	seenProgress := false
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Completed || job.Canceled {
			return job, nil
		}
		if seenProgress && lastProgress == job.Progress {
			if time.Now().After(deadline) {
				return nil, &JobTimeoutError{
					JobID:   jobID,
					Kind:    job.Kind,
					Timeout: timeout,
				}
			}
		} else {
			lastProgress = job.Progress
			seenProgress = true
			deadline = time.Now().Add(timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval = nextWaitInterval(interval)
	}
}

// nextWaitInterval grows the poll interval by the backoff factor, capped at
// MaxWaitInterval. The resulting sequence is non-decreasing until the cap.
func nextWaitInterval(interval time.Duration) time.Duration {
	next := time.Duration(float64(interval) * WaitBackoffFactor)
	return min(MaxWaitInterval, next)
}
