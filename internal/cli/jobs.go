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
	"time"

	"github.com/spf13/cobra"

	ragline "github.com/ragline/ragline"
)

func newSummarizeCommand() *cobra.Command {
	var (
		llm     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "summarize <document-id>",
		Short: "Create a summary of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			model := llm
			if model == "" {
				model = cfg.LLM
			}
			var opts ragline.SummarizeOptions
			if model != "" {
				opts.LLM = model
			}
			summary, err := client.SummarizeDocument(
				cmd.Context(),
				args[0],
				opts,
				timeout,
			)
			if err != nil {
				return err
			}
			fmt.Println(summary.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&llm, "llm", "", "model name or index")
	cmd.Flags().DurationVar(
		&timeout,
		"timeout",
		0,
		"job inactivity timeout (default 24h)",
	)
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control server jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Fetch the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf(
				"%s\t%s\tprogress=%.2f\tcompleted=%t\tcanceled=%t\n",
				job.ID,
				job.Kind,
				job.Progress,
				job.Completed,
				job.Canceled,
			)
			for _, jobErr := range job.Errors {
				fmt.Printf("  error: %s\n", jobErr)
			}
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := newClient()
			if err != nil {
				return err
			}
			result, err := client.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.Status)
			return nil
		},
	}

	cmd.AddCommand(getCmd)
	cmd.AddCommand(cancelCmd)
	return cmd
}
