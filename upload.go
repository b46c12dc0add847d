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
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
)

// Upload stores a file on the server. Uploaded files are not yet part of any
// collection; use IngestUploads to add them to one. It returns the upload id
// to be used in ingest jobs.
func (c *Client) Upload(
	ctx context.Context,
	fileName string,
	file io.Reader,
) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("ragline: upload %s: %w", fileName, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("ragline: upload %s: %w", fileName, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("ragline: upload %s: %w", fileName, err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		c.address+"/rpc/fs",
		&body,
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var ident identifier
	if err := c.do(req, &ident); err != nil {
		return "", err
	}
	return ident.toID()
}

// ListUploads lists pending file uploads not yet ingested into a collection
func (c *Client) ListUploads(ctx context.Context) ([]string, error) {
	var uploadIDs []string
	if err := c.get(ctx, "/rpc/fs", &uploadIDs); err != nil {
		return nil, err
	}
	return uploadIDs, nil
}

// DeleteUpload deletes a file previously stored with Upload
func (c *Client) DeleteUpload(ctx context.Context, uploadID string) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodDelete,
		c.address+"/rpc/fs?id="+url.QueryEscape(uploadID),
		nil,
	)
	if err != nil {
		return "", err
	}
	var ident identifier
	if err := c.do(req, &ident); err != nil {
		return "", err
	}
	return ident.toID()
}
