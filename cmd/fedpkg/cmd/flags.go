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
	"fmt"

	"github.com/spf13/pflag"
)

// Common flags
const (
	flagConfig    flagName = "config"
	flagDepotPath flagName = "depot-path"
	flagEnvPath   flagName = "env-path"
	flagFormat    flagName = "format"
	flagFrom      flagName = "from"
	flagInterp    flagName = "interp"
	flagSuffix    flagName = "suffix"
	flagVerbose   flagName = "verbose"
)

func addGlobalFlags(f *pflag.FlagSet) {
	f.String(string(flagConfig), "",
		"config file (default is config.yaml under the fedpkg user config directory)")
	f.StringArray(string(flagEnvPath), nil,
		"environment directory forming the stack, highest precedence first (may be repeated; overrides $FEDPKG_PATH)")
	f.StringArray(string(flagDepotPath), nil,
		"depot directory probed for installed packages (may be repeated; overrides $FEDPKG_DEPOT_PATH)")
	f.String(string(flagSuffix), "",
		"package entry source file suffix (default .fed)")
	f.String(string(flagFormat), "",
		"output format: text, json, or yaml (default text)")
	f.BoolP(string(flagVerbose), "v", false,
		"print information about progress")
}

type flagName string

// ensureAdded detects if a flag is being used without it first being
// added to the flagSet. Because flagNames are global, it is quite
// easy to accidentally use a flag in a command without adding it to
// the command.
func (f flagName) ensureAdded(cmd *Command) {
	if cmd.Flags().Lookup(string(f)) == nil {
		panic(fmt.Sprintf("Cmd %q uses flag %q without adding it", cmd.Name(), f))
	}
}

func (f flagName) Bool(cmd *Command) bool {
	f.ensureAdded(cmd)
	v, _ := cmd.Flags().GetBool(string(f))
	return v
}

func (f flagName) String(cmd *Command) string {
	f.ensureAdded(cmd)
	v, _ := cmd.Flags().GetString(string(f))
	return v
}

func (f flagName) StringArray(cmd *Command) []string {
	f.ensureAdded(cmd)
	v, _ := cmd.Flags().GetStringArray(string(f))
	return v
}
