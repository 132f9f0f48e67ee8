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

	"fedpkg.dev/go/ident"
)

func newResolveCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <name>...",
		Short: "map import names to package identities",
		Long: `Resolve maps each import name to the package identity it denotes,
consulting the environment stack in precedence order.

The requesting context defaults to the project at the top of the
stack. Pass --from to resolve the names as some other package sees
them, giving that package as name@uuid; its manifest record then
decides what each name means.
`,
		RunE: mkRunE(c, runResolve),
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().String(string(flagFrom), "",
		"requesting package as name@uuid")
	return cmd
}

type resolution struct {
	Name string `json:"name" yaml:"name"`
	UUID string `json:"uuid,omitempty" yaml:"uuid,omitempty"`
}

func runResolve(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}
	from, err := parseFrom(cmd)
	if err != nil {
		return err
	}

	out := make([]resolution, 0, len(args))
	for _, name := range args {
		p, err := t.loader.Resolve(from, name)
		if err != nil {
			return err
		}
		r := resolution{Name: p.Name()}
		if p.HasUUID() {
			r.UUID = p.UUID().String()
		}
		out = append(out, r)
	}

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, r := range out {
			if r.UUID == "" {
				fmt.Fprintln(w, r.Name)
				continue
			}
			fmt.Fprintf(w, "%s %s\n", r.Name, r.UUID)
		}
		return nil
	})
}

func parseFrom(cmd *Command) (ident.Identity, error) {
	s := flagFrom.String(cmd)
	if s == "" {
		return ident.Identity{}, nil
	}
	p, err := ident.Parse(s)
	if err != nil {
		return ident.Identity{}, fmt.Errorf("--from: %w", err)
	}
	return p, nil
}
