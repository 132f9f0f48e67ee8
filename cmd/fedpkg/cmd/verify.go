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
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fedpkg.dev/go/depot"
)

func newVerifyCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [<name>...]",
		Short: "check installed package trees against their recorded hashes",
		Long: `Verify recomputes the content hash of every installed package tree
the manifests record a hash for and compares it against the record.
With name arguments, only packages of those names are checked.

Each package is reported with one of:

	ok            the installed tree matches the recorded hash
	mismatch      the installed tree differs from the recorded hash
	missing       no depot holds the tree
	unverifiable  the recorded hash is in a form that cannot be
	              recomputed, such as a git tree SHA

Packages recorded with an explicit path have no hash and are not
checked. The command exits non-zero if any package is not ok.
`,
		RunE: mkRunE(c, runVerify),
	}
	return cmd
}

type verification struct {
	Name   string `json:"name" yaml:"name"`
	UUID   string `json:"uuid" yaml:"uuid"`
	State  string `json:"state" yaml:"state"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func runVerify(cmd *Command, args []string) error {
	t, err := cmd.tool(nil)
	if err != nil {
		return err
	}

	// The first environment recording a package owns it; a lower
	// environment's record for the same UUID is shadowed.
	type job struct {
		name string
		id   uuid.UUID
		hash string
	}
	var jobs []job
	seen := make(map[uuid.UUID]bool)
	for _, env := range t.loader.Stack() {
		for _, st := range env.Stanzas() {
			if seen[st.UUID] {
				continue
			}
			seen[st.UUID] = true
			if st.TreeHash == "" {
				continue
			}
			if len(args) > 0 && !slices.Contains(args, st.Name) {
				continue
			}
			jobs = append(jobs, job{name: st.Name, id: st.UUID, hash: st.TreeHash})
		}
	}

	depots := t.loader.Depots()
	out := make([]verification, len(jobs))
	var g errgroup.Group
	g.SetLimit(8)
	for i, j := range jobs {
		g.Go(func() error {
			v := verification{Name: j.name, UUID: j.id.String()}
			defer func() { out[i] = v }()

			dir, err := depots.FindDir(j.name, depot.Slug(j.id, j.hash))
			if err != nil {
				return err
			}
			if dir == "" {
				v.State = "missing"
				return nil
			}
			t.log.Debug("verifying", "package", j.name, "dir", dir)
			switch err := depot.Verify(dir, j.hash); {
			case err == nil:
				v.State = "ok"
			case errors.Is(err, depot.ErrUnverifiable):
				v.State = "unverifiable"
				v.Detail = j.hash
			default:
				v.State = "mismatch"
				v.Detail = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bad := 0
	for _, v := range out {
		if v.State != "ok" {
			bad++
		}
	}
	err = emit(cmd.OutOrStdout(), t.Format, out, func(w io.Writer) error {
		for _, v := range out {
			if v.Detail != "" {
				fmt.Fprintf(w, "%s\t%s@%s: %s\n", v.State, v.Name, v.UUID, v.Detail)
				continue
			}
			fmt.Fprintf(w, "%s\t%s@%s\n", v.State, v.Name, v.UUID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if bad > 0 {
		fmt.Fprintf(cmd.Stderr(), "verification failed for %d of %d packages\n", bad, len(out))
	}
	return nil
}
