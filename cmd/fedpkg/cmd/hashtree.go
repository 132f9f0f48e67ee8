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

	"fedpkg.dev/go/depot"
)

func newHashTreeCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-tree <dir>...",
		Short: "compute the content hash of source trees",
		Long: `Hash-tree computes the content hash of each directory in the form
manifests record, hashing file contents against tree-relative names.
Two trees with identical contents hash identically wherever they
live, so the printed hash can be recorded once and checked against
any install.
`,
		RunE: mkRunE(c, runHashTree),
		Args: cobra.MinimumNArgs(1),
	}
	return cmd
}

type treeHash struct {
	Dir  string `json:"dir" yaml:"dir"`
	Hash string `json:"hash" yaml:"hash"`
}

func runHashTree(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}

	out := make([]treeHash, 0, len(args))
	for _, dir := range args {
		h, err := depot.TreeHash(dir)
		if err != nil {
			return err
		}
		out = append(out, treeHash{Dir: dir, Hash: h})
	}

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, th := range out {
			fmt.Fprintf(w, "%s\t%s\n", th.Hash, th.Dir)
		}
		return nil
	})
}
