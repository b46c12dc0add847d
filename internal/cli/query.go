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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragline/ragline/session"
)

func newQueryCommand() *cobra.Command {
	var (
		chatSessionID string
		llm           string
		timeout       time.Duration
		noStream      bool
	)
	cmd := &cobra.Command{
		Use:   "query <message>",
		Short: "Ask a question against a chat session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := newClient()
			if err != nil {
				return err
			}
			message := strings.Join(args, " ")
			sess, err := client.Connect(chatSessionID)
			if err != nil {
				return err
			}
			defer sess.Close()
			var opts []session.QueryOptionFunc
			if timeout > 0 {
				opts = append(opts, session.WithQueryTimeout(timeout))
			}
			if llm != "" {
				opts = append(opts, session.WithLLM(llm))
			} else if cfg.LLM != "" {
				opts = append(opts, session.WithLLM(cfg.LLM))
			}
			if noStream {
				msg, err := sess.QueryBlocking(message, opts...)
				if err != nil {
					return err
				}
				fmt.Println(msg.Content)
				return nil
			}
			// Stream snapshots as the answer grows; each snapshot replaces
			// the previous one, so only print the suffix
			printed := 0
			_, err = sess.QueryStreaming(message, func(ev session.StreamEvent) {
				if len(ev.Content) > printed {
					fmt.Fprint(os.Stdout, ev.Content[printed:])
					printed = len(ev.Content)
				}
				if ev.Final {
					fmt.Fprintln(os.Stdout)
				}
			}, opts...)
			return err
		},
	}
	cmd.Flags().StringVarP(
		&chatSessionID,
		"session",
		"s",
		"",
		"chat session id to query",
	)
	cmd.Flags().StringVar(&llm, "llm", "", "model name or index")
	cmd.Flags().DurationVar(
		&timeout,
		"timeout",
		0,
		"query timeout (default 1000s)",
	)
	cmd.Flags().BoolVar(
		&noStream,
		"no-stream",
		false,
		"wait for the full answer instead of streaming",
	)
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
