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

func newLocateCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locate <name>...",
		Short: "print the entry source file of packages",
		Long: `Locate resolves each import name and prints the entry source file
the loader would evaluate for it.

A package recorded with an explicit path is looked up there and
nowhere else; a package recorded with a content hash is searched for
across the depots in probe order. Pass --from to locate the names as
some other package resolves them.
`,
		RunE: mkRunE(c, runLocate),
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().String(string(flagFrom), "",
		"requesting package as name@uuid")
	return cmd
}

type location struct {
	Name string `json:"name" yaml:"name"`
	UUID string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Path string `json:"path" yaml:"path"`
}

func runLocate(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}
	from, err := parseFrom(cmd)
	if err != nil {
		return err
	}

	out := make([]location, 0, len(args))
	for _, name := range args {
		p, err := t.loader.Resolve(from, name)
		if err != nil {
			return err
		}
		path, err := t.loader.Locate(p)
		if err != nil {
			return err
		}
		t.log.Debug("located", "package", p, "path", path)
		loc := location{Name: p.Name(), Path: path}
		if p.HasUUID() {
			loc.UUID = p.UUID().String()
		}
		out = append(out, loc)
	}

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, loc := range out {
			fmt.Fprintln(w, loc.Path)
		}
		return nil
	})
}
