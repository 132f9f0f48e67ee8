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
	"maps"
	"slices"

	"github.com/mpvl/unique"
	"github.com/spf13/cobra"
)

func newGraphCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "print the name binding graph of the environment stack",
		Long: `Graph prints every name binding the environment stack records: the
root bindings each project offers its own code, and the per-package
bindings each manifest records for its packages' dependencies.

The same import name may appear under several packages bound to
different identities; that is the point of federated registries, not
a conflict.
`,
		RunE: mkRunE(c, runGraph),
		Args: cobra.NoArgs,
	}
	return cmd
}

type binding struct {
	From string `json:"from" yaml:"from"`
	Name string `json:"name" yaml:"name"`
	To   string `json:"to" yaml:"to"`
}

type graphInfo struct {
	Dir      string    `json:"dir" yaml:"dir"`
	Bindings []binding `json:"bindings" yaml:"bindings"`
}

func runGraph(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}

	var out []graphInfo
	var names []string
	for _, env := range t.loader.Stack() {
		info := graphInfo{Dir: env.BaseDir()}

		roots := env.Roots()
		for _, name := range slices.Sorted(maps.Keys(roots)) {
			info.Bindings = append(info.Bindings, binding{
				From: "(roots)",
				Name: name,
				To:   roots[name].String(),
			})
			names = append(names, name)
		}
		for _, st := range env.Stanzas() {
			names = append(names, st.Name)
			deps, ok := env.Deps(st.UUID)
			if !ok {
				continue
			}
			from := fmt.Sprintf("%s@%s", st.Name, st.UUID)
			for _, name := range slices.Sorted(maps.Keys(deps)) {
				info.Bindings = append(info.Bindings, binding{
					From: from,
					Name: name,
					To:   deps[name].String(),
				})
				names = append(names, name)
			}
		}
		out = append(out, info)
	}
	unique.Sort(unique.StringSlice{P: &names})

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, info := range out {
			fmt.Fprintf(w, "%s:\n", info.Dir)
			for _, b := range info.Bindings {
				fmt.Fprintf(w, "\t%s\t%s -> %s\n", b.From, b.Name, b.To)
			}
		}
		fmt.Fprintf(w, "%d distinct names\n", len(names))
		return nil
	})
}
