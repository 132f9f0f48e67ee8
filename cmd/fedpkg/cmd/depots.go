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
	"os"

	"github.com/spf13/cobra"
)

func newDepotsCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depots",
		Short: "print the depot directories in probe order",
		Long: `Depots prints the directories probed for installed package trees,
in order. A depot that does not exist yet is listed all the same;
probing treats it as holding nothing.
`,
		RunE: mkRunE(c, runDepots),
		Args: cobra.NoArgs,
	}
	return cmd
}

type depotInfo struct {
	Dir    string `json:"dir" yaml:"dir"`
	Exists bool   `json:"exists" yaml:"exists"`
}

func runDepots(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}

	var out []depotInfo
	for _, dir := range t.loader.Depots() {
		info, err := os.Stat(dir)
		out = append(out, depotInfo{Dir: dir, Exists: err == nil && info.IsDir()})
	}

	return emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, d := range out {
			if d.Exists {
				fmt.Fprintln(w, d.Dir)
			} else {
				fmt.Fprintf(w, "%s\t(missing)\n", d.Dir)
			}
		}
		return nil
	})
}
