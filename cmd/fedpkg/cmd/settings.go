// Copyright 2026 The Fedpkg Authors
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

package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"fedpkg.dev/go/load"
)

// settings are the options every subcommand shares, resolved in
// order of precedence from flags, the config file, and built-in
// defaults. Path lists left unset here fall through to the
// FEDPKG_PATH and FEDPKG_DEPOT_PATH variables inside the loader.
type settings struct {
	EnvPath   []string `mapstructure:"env-path"`
	DepotPath []string `mapstructure:"depot-path"`
	Suffix    string   `mapstructure:"suffix"`
	Format    string   `mapstructure:"format"`
	Verbose   bool     `mapstructure:"verbose"`
}

// configDir is where the config file lives when --config is not
// given.
func configDir() string {
	return filepath.Join(xdg.ConfigHome, "fedpkg")
}

func loadSettings(cmd *Command) (*settings, error) {
	v := viper.New()
	v.SetDefault("format", "text")

	if file := flagConfig.String(cmd); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	for _, name := range []flagName{flagEnvPath, flagDepotPath, flagSuffix, flagFormat, flagVerbose} {
		if err := v.BindPFlag(string(name), cmd.Flags().Lookup(string(name))); err != nil {
			return nil, err
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func newLogger(verbose bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "fedpkg",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}
	return logger
}

// A tool bundles what a subcommand run works with: the resolved
// settings, a logger honoring --verbose, and a loader over the
// configured environment stack and depots.
type tool struct {
	*settings
	log    *log.Logger
	loader *load.Loader
}

// tool resolves the settings and builds the loader. Subcommands that
// only query pass a nil evaluator.
func (c *Command) tool(ev load.Evaluator) (*tool, error) {
	s, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	logger := newLogger(s.Verbose)

	// An absent list stays nil so that the loader falls back to the
	// FEDPKG_PATH and FEDPKG_DEPOT_PATH variables; viper reports an
	// unset string-array flag as empty, not nil.
	cfg := &load.Config{SourceSuffix: s.Suffix, Evaluator: ev}
	if len(s.EnvPath) > 0 {
		cfg.Env = s.EnvPath
	}
	if len(s.DepotPath) > 0 {
		cfg.Depots = s.DepotPath
	}
	loader, err := load.New(cfg)
	if err != nil {
		return nil, err
	}
	stack := loader.Stack()
	logger.Debug("environment stack loaded",
		"environments", len(stack), "depots", len(loader.Depots()))
	for _, env := range stack {
		logger.Debug("environment", "dir", env.BaseDir(), "packages", len(env.Stanzas()))
	}
	return &tool{settings: s, log: logger, loader: loader}, nil
}
