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

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	ragline "github.com/ragline/ragline"
)

func newIngestCommand() *cobra.Command {
	var (
		collectionID string
		timeout      time.Duration
		opts         ragline.IngestOptions
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest content into a collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(
		&collectionID,
		"collection",
		"c",
		"",
		"target collection id",
	)
	cmd.PersistentFlags().DurationVar(
		&timeout,
		"timeout",
		0,
		"job inactivity timeout (default 24h)",
	)
	cmd.PersistentFlags().BoolVar(
		&opts.GenDocSummaries,
		"gen-summaries",
		false,
		"auto-generate document summaries",
	)
	cmd.PersistentFlags().BoolVar(
		&opts.GenDocQuestions,
		"gen-questions",
		false,
		"auto-generate sample questions",
	)
	_ = cmd.MarkPersistentFlagRequired("collection")

	fileCmd := &cobra.Command{
		Use:   "file <path>...",
		Short: "Upload local files and ingest them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			uploadIDs := make([]string, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				uploadID, err := client.Upload(ctx, filepath.Base(path), f)
				f.Close()
				if err != nil {
					return err
				}
				uploadIDs = append(uploadIDs, uploadID)
			}
			job, err := client.IngestUploads(
				ctx,
				collectionID,
				uploadIDs,
				opts,
				timeout,
			)
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d file(s), job %s\n", len(uploadIDs), job.ID)
			return nil
		},
	}

	urlCmd := &cobra.Command{
		Use:   "url <url>",
		Short: "Crawl and ingest a website",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			job, err := client.IngestWebsite(
				cmd.Context(),
				collectionID,
				args[0],
				opts,
				timeout,
			)
			if err != nil {
				return err
			}
			fmt.Printf("ingested %s, job %s\n", args[0], job.ID)
			return nil
		},
	}

	cmd.AddCommand(fileCmd)
	cmd.AddCommand(urlCmd)
	return cmd
}
