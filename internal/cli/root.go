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

// Package cli wires together the ragline CLI commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	ragline "github.com/ragline/ragline"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

var (
	rootCmd  = newRootCommand()
	rootOpts = &rootOptions{}
)

// Execute runs the ragline command hierarchy
func Execute() error {
	return rootCmd.Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ragline",
		Short:         "Query and manage a retrieval-augmented chat server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	defaultConfigPath, err := DefaultConfigPath()
	if err != nil {
		defaultConfigPath = ""
	}
	cmd.PersistentFlags().StringVar(
		&rootOpts.configPath,
		"config",
		defaultConfigPath,
		"path to the configuration file",
	)
	cmd.PersistentFlags().BoolVarP(
		&rootOpts.verbose,
		"verbose",
		"v",
		false,
		"enable debug logging",
	)
	cmd.AddCommand(newQueryCommand())
	cmd.AddCommand(newIngestCommand())
	cmd.AddCommand(newSummarizeCommand())
	cmd.AddCommand(newJobsCommand())
	return cmd
}

// newClient builds a ragline client from the CLI configuration
func newClient() (*ragline.Client, Config, error) {
	cfg, err := LoadConfig(rootOpts.configPath)
	if err != nil {
		return nil, cfg, err
	}
	level := slog.LevelWarn
	if rootOpts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	client, err := ragline.NewClient(
		cfg.Address,
		ragline.WithAPIKey(cfg.APIKey),
		ragline.WithInsecureSkipVerify(cfg.SkipVerify),
		ragline.WithLogger(logger),
	)
	if err != nil {
		return nil, cfg, err
	}
	return client, cfg, nil
}
