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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the ragline CLI configuration file. Environment
// variables (RAGLINE_ADDRESS, RAGLINE_API_KEY, RAGLINE_SKIP_VERIFY) override
// file values.
type Config struct {
	Address    string `yaml:"address"`
	APIKey     string `yaml:"api_key"`
	SkipVerify bool   `yaml:"skip_verify"`
	LLM        string `yaml:"llm"`
}

// DefaultConfigPath returns the default configuration file location
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ragline", "config.yaml"), nil
}

// LoadConfig reads the configuration from the provided path and applies
// environment overrides. When the file does not exist, only the environment
// is consulted.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if v := os.Getenv("RAGLINE_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("RAGLINE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("RAGLINE_SKIP_VERIFY"); v == "1" || v == "true" {
		cfg.SkipVerify = true
	}
	if v := os.Getenv("RAGLINE_LLM"); v != "" {
		cfg.LLM = v
	}
	if cfg.Address == "" {
		return cfg, errors.New(
			"server address not configured (set RAGLINE_ADDRESS or the config file)",
		)
	}
	if cfg.APIKey == "" {
		return cfg, errors.New(
			"API key not configured (set RAGLINE_API_KEY or the config file)",
		)
	}
	return cfg, nil
}
