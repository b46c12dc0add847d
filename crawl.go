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
	"encoding/json"
	"time"
)

// Bulk operations submit an asynchronous job and poll it to completion with
// WaitForCompletion. A zero timeout selects the default inactivity timeout.

// IngestOptions controls document post-processing during ingestion
type IngestOptions struct {
	// GenDocSummaries auto-generates document summaries (uses the LLM)
	GenDocSummaries bool
	// GenDocQuestions auto-generates sample questions per document (uses
	// the LLM)
	GenDocQuestions bool
}

// IngestUploads adds previously uploaded files into a collection
func (c *Client) IngestUploads(
	ctx context.Context,
	collectionID string,
	uploadIDs []string,
	opts IngestOptions,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(ctx, "crawl.IngestUploadsJob", map[string]any{
		"collection_id":     collectionID,
		"upload_ids":        uploadIDs,
		"gen_doc_summaries": opts.GenDocSummaries,
		"gen_doc_questions": opts.GenDocQuestions,
	}, timeout)
}

// IngestWebsite crawls a website and ingests its pages into a collection
func (c *Client) IngestWebsite(
	ctx context.Context,
	collectionID string,
	url string,
	opts IngestOptions,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(ctx, "crawl.IngestWebsiteJob", map[string]any{
		"collection_id":     collectionID,
		"url":               url,
		"gen_doc_summaries": opts.GenDocSummaries,
		"gen_doc_questions": opts.GenDocQuestions,
	}, timeout)
}

// IngestFromFileSystem adds files visible to the server's filesystem into a
// collection
func (c *Client) IngestFromFileSystem(
	ctx context.Context,
	collectionID string,
	rootDir string,
	glob string,
	opts IngestOptions,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(ctx, "crawl.IngestFromFileSystemJob", map[string]any{
		"collection_id":     collectionID,
		"root_dir":          rootDir,
		"glob":              glob,
		"gen_doc_summaries": opts.GenDocSummaries,
		"gen_doc_questions": opts.GenDocQuestions,
	}, timeout)
}

// DeleteCollections deletes collections from the environment. Documents in
// the collections are not deleted.
func (c *Client) DeleteCollections(
	ctx context.Context,
	collectionIDs []string,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(ctx, "crawl.DeleteCollectionsJob", map[string]any{
		"collection_ids": collectionIDs,
	}, timeout)
}

// DeleteDocuments deletes documents from the system and all collections
func (c *Client) DeleteDocuments(
	ctx context.Context,
	documentIDs []string,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(ctx, "crawl.DeleteDocumentsJob", map[string]any{
		"document_ids": documentIDs,
	}, timeout)
}

// DeleteDocumentsFromCollection removes documents from a collection without
// removing them from the environment
func (c *Client) DeleteDocumentsFromCollection(
	ctx context.Context,
	collectionID string,
	documentIDs []string,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(
		ctx,
		"crawl.DeleteDocumentsFromCollectionJob",
		map[string]any{
			"collection_id": collectionID,
			"document_ids":  documentIDs,
		},
		timeout,
	)
}

// ImportDocumentIntoCollection imports an already stored document into an
// existing collection
func (c *Client) ImportDocumentIntoCollection(
	ctx context.Context,
	collectionID string,
	documentID string,
	opts IngestOptions,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(
		ctx,
		"crawl.ImportDocumentIntoCollectionJob",
		map[string]any{
			"collection_id":     collectionID,
			"document_id":       documentID,
			"gen_doc_summaries": opts.GenDocSummaries,
			"gen_doc_questions": opts.GenDocQuestions,
		},
		timeout,
	)
}

// ImportCollectionIntoCollection imports all documents from one collection
// into another
func (c *Client) ImportCollectionIntoCollection(
	ctx context.Context,
	collectionID string,
	srcCollectionID string,
	opts IngestOptions,
	timeout time.Duration,
) (*Job, error) {
	return c.submitAndWait(
		ctx,
		"crawl.ImportCollectionIntoCollectionJob",
		map[string]any{
			"collection_id":     collectionID,
			"src_collection_id": srcCollectionID,
			"gen_doc_summaries": opts.GenDocSummaries,
			"gen_doc_questions": opts.GenDocQuestions,
		},
		timeout,
	)
}

// DocumentSummary is a server-generated summary of one document
type DocumentSummary struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Error      string    `json:"error"`
	DocumentID string    `json:"document_id"`
	Kwargs     string    `json:"kwargs"`
	CreatedAt  time.Time `json:"created_at"`
}

// SummarizeOptions controls document summarization
type SummarizeOptions struct {
	SystemPrompt     *string
	PrePromptSummary *string
	PromptSummary    *string
	LLM              any
	LLMArgs          map[string]any
	MaxNumChunks     int
	SamplingStrategy string
}

// SummarizeDocument creates a summary of a document and waits for the
// summarization job to finish
func (c *Client) SummarizeDocument(
	ctx context.Context,
	documentID string,
	opts SummarizeOptions,
	timeout time.Duration,
) (*DocumentSummary, error) {
	params := map[string]any{
		"document_id":        documentID,
		"system_prompt":      opts.SystemPrompt,
		"pre_prompt_summary": opts.PrePromptSummary,
		"prompt_summary":     opts.PromptSummary,
		"llm":                opts.LLM,
	}
	if opts.LLMArgs != nil {
		args, err := json.Marshal(opts.LLMArgs)
		if err != nil {
			return nil, err
		}
		params["llm_args"] = string(args)
	}
	if opts.MaxNumChunks > 0 {
		params["max_num_chunks"] = opts.MaxNumChunks
	}
	if opts.SamplingStrategy != "" {
		params["sampling_strategy"] = opts.SamplingStrategy
	}
	summaryID, err := c.submitJob(ctx, "crawl.DocumentSummaryJob", params)
	if err != nil {
		return nil, err
	}
	if _, err := c.WaitForCompletion(ctx, summaryID, timeout); err != nil {
		return nil, err
	}
	var summary DocumentSummary
	payload := []any{"get_document_summary", summaryID}
	if err := c.postJSON(ctx, "/rpc/db", payload, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) submitAndWait(
	ctx context.Context,
	method string,
	params map[string]any,
	timeout time.Duration,
) (*Job, error) {
	jobID, err := c.submitJob(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return c.WaitForCompletion(ctx, jobID, timeout)
}
