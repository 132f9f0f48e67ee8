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

package load

import (
	"fmt"
	"os"
	"strings"

	"fedpkg.dev/go/depot"
	"fedpkg.dev/go/environ"
	"fedpkg.dev/go/ident"
)

const (
	// DefaultSuffix is the file name suffix of package entry source
	// files when a Config does not override it.
	DefaultSuffix = ".fed"

	// EnvPath names the environment variable listing the environment
	// stack directories, highest precedence first, separated by the OS
	// path list separator.
	EnvPath = "FEDPKG_PATH"

	// EnvDepotPath names the environment variable listing the depot
	// directories probed for installed packages, in probe order,
	// separated by the OS path list separator.
	EnvDepotPath = "FEDPKG_DEPOT_PATH"
)

// A Config configures a Loader.
type Config struct {
	// Env lists the directories whose project and manifest documents
	// form the environment stack, highest precedence first. If nil,
	// the FEDPKG_PATH environment variable is used. An empty non-nil
	// list is allowed and resolves nothing.
	Env []string

	// Depots lists the depot directories probed, in order, for
	// installed package trees. If nil, the FEDPKG_DEPOT_PATH
	// environment variable is used when set, and the platform default
	// depot otherwise.
	Depots []string

	// SourceSuffix is the suffix of package entry source files,
	// including the leading dot. It defaults to DefaultSuffix.
	SourceSuffix string

	// Evaluator evaluates located source files into handles. A Loader
	// without an evaluator can still resolve and locate packages, but
	// Load and Include fail.
	Evaluator Evaluator
}

func (c Config) complete() (*Config, error) {
	if c.Env == nil {
		c.Env = depot.ParseList(os.Getenv(EnvPath))
	}
	if c.Depots == nil {
		if s := os.Getenv(EnvDepotPath); s != "" {
			c.Depots = depot.ParseList(s)
		} else {
			c.Depots = depot.Default()
		}
	}
	if c.SourceSuffix == "" {
		c.SourceSuffix = DefaultSuffix
	}
	if !strings.HasPrefix(c.SourceSuffix, ".") || strings.ContainsAny(c.SourceSuffix, `/\`) {
		return nil, fmt.Errorf("invalid source suffix %q", c.SourceSuffix)
	}
	return &c, nil
}

// New builds a Loader from cfg: the environment stack is loaded
// eagerly, configuration errors surface here, and the returned Loader
// is immutable apart from its load table.
func New(cfg *Config) (*Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c, err := cfg.complete()
	if err != nil {
		return nil, err
	}
	stack, err := environ.LoadStack(c.Env)
	if err != nil {
		return nil, err
	}
	return &Loader{
		cfg:    c,
		stack:  stack,
		depots: depot.List(c.Depots),
		table: &table{
			slots: make(map[ident.Key]*slot),
		},
	}, nil
}
