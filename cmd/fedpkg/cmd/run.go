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

	"github.com/dop251/goja"
	"github.com/kr/pretty"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero/api"

	"fedpkg.dev/go/interp/js"
	"fedpkg.dev/go/interp/wasm"
)

func newRunCmd(c *Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "load a package and print its exports",
		Long: `Run imports the named package the way a package body would:
the name is resolved in the project context, the entry source file is
located, and the package and everything it imports are evaluated.

With the default js interpreter, sources are JavaScript modules and
the package's exports are printed. With --interp=wasm, sources are
compiled WebAssembly modules (set --suffix=.wasm) and the names of
the module's exported functions are printed.
`,
		RunE: mkRunE(c, runRun),
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().String(string(flagInterp), "js",
		"interpreter evaluating package sources: js or wasm")
	cmd.Flags().String(string(flagFrom), "",
		"requesting package as name@uuid")
	return cmd
}

func runRun(cmd *Command, args []string) error {
	switch interp := flagInterp.String(cmd); interp {
	case "js":
		return runJS(cmd, args[0])
	case "wasm":
		return runWasm(cmd, args[0])
	default:
		return fmt.Errorf("unknown interpreter %q", interp)
	}
}

func runJS(cmd *Command, name string) error {
	interp := js.New()
	t, err := cmd.tool(interp)
	if err != nil {
		return err
	}
	interp.Attach(t.loader)
	from, err := parseFrom(cmd)
	if err != nil {
		return err
	}

	h, err := t.loader.Load(cmd.Context(), from, name)
	if err != nil {
		return err
	}
	t.log.Debug("loaded", "package", name, "total", len(t.loader.LoadedPackages()))

	var v any = h
	if gv, ok := h.(goja.Value); ok {
		v = gv.Export()
	}
	return emit(cmd.OutOrStdout(), t.Format, v, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%# v\n", pretty.Formatter(v))
		return err
	})
}

func runWasm(cmd *Command, name string) error {
	interp := wasm.New()
	defer interp.Close(cmd.Context())
	t, err := cmd.tool(interp)
	if err != nil {
		return err
	}
	from, err := parseFrom(cmd)
	if err != nil {
		return err
	}

	h, err := t.loader.Load(cmd.Context(), from, name)
	if err != nil {
		return err
	}
	mod, ok := h.(api.Module)
	if !ok {
		return fmt.Errorf("package %s did not load as a Wasm module", name)
	}

	exports := slices.Sorted(maps.Keys(mod.ExportedFunctionDefinitions()))
	return emit(cmd.OutOrStdout(), t.Format, exports, func(w io.Writer) error {
		for _, name := range exports {
			fmt.Fprintln(w, name)
		}
		return nil
	})
}
