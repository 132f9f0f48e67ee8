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
	"io"

	"github.com/spf13/cobra"
)

func newStackCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "print the environment stack",
		Long: `Stack prints the loaded environments in precedence order: the base
directory, the project identity if the project document declares one,
and how many packages the manifest records.
`,
		RunE: mkRunE(c, runStack),
		Args: cobra.NoArgs,
	}
	return cmd
}

type envInfo struct {
	Dir      string `json:"dir" yaml:"dir"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	UUID     string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Packages int    `json:"packages" yaml:"packages"`
}

func runStack(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}

	var out []envInfo
	for _, env := range t.loader.Stack() {
		info := envInfo{Dir: env.BaseDir(), Packages: len(env.Stanzas())}
		if self := env.Self(); self.IsValid() {
			info.Name = self.Name()
			if self.HasUUID() {
				info.UUID = self.UUID().String()
			}
		}
		out = append(out, info)
	}

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, info := range out {
			self := "(anonymous)"
			if info.Name != "" {
				self = info.Name
				if info.UUID != "" {
					self += "@" + info.UUID
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%d packages\n", info.Dir, self, info.Packages)
		}
		return nil
	})
}
