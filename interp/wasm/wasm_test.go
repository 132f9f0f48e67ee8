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

package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/tetratelabs/wazero/api"

	"fedpkg.dev/go/envfile"
	"fedpkg.dev/go/ident"
	"fedpkg.dev/go/load"
)

// addModule exports add(i32, i32) -> i32.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type (i32, i32) -> i32
	0x03, 0x02, 0x01, 0x00, // one function of type 0
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00, // export "add"
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b, // local.get 0, local.get 1, i32.add
}

// emptyModule is a valid module with no sections at all.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func mustWriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	qt.Assert(t, qt.IsNil(os.MkdirAll(filepath.Dir(path), 0o777)))
	qt.Assert(t, qt.IsNil(os.WriteFile(path, content, 0o666)))
}

// wasmEnv builds an environment holding a single Wasm package and a
// loader that evaluates .wasm sources.
func wasmEnv(t *testing.T, name string, module []byte) (*load.Loader, *Interp) {
	t.Helper()
	envDir := t.TempDir()
	mustWriteFile(t, filepath.Join(envDir, envfile.ProjectFile), []byte(`
name = "Host"
uuid = "233035e9-5252-4b41-a32f-7f8a5ec10947"

[deps]
`+name+` = "b33b1e4f-6c5b-4a30-9236-d1e15e67af0d"
`))
	mustWriteFile(t, filepath.Join(envDir, envfile.ManifestFile), []byte(`
[[packages]]
name = "`+name+`"
uuid = "b33b1e4f-6c5b-4a30-9236-d1e15e67af0d"
path = "pkgs/`+name+`"
`))
	mustWriteFile(t, filepath.Join(envDir, "pkgs", name, "src", name+".wasm"), module)

	interp := New()
	t.Cleanup(func() { interp.Close(context.Background()) })
	l, err := load.New(&load.Config{
		Env:          []string{envDir},
		Depots:       []string{t.TempDir()},
		SourceSuffix: ".wasm",
		Evaluator:    interp,
	})
	qt.Assert(t, qt.IsNil(err))
	return l, interp
}

func TestEvaluateAdd(t *testing.T) {
	l, _ := wasmEnv(t, "Adder", addModule)
	ctx := context.Background()

	h, err := l.Load(ctx, ident.Identity{}, "Adder")
	qt.Assert(t, qt.IsNil(err))

	add, err := Func(h, "add")
	qt.Assert(t, qt.IsNil(err))
	res, err := add.Call(ctx, 2, 3)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(res, []uint64{5}))
}

func TestEvaluateMemoized(t *testing.T) {
	l, _ := wasmEnv(t, "Adder", addModule)
	ctx := context.Background()

	h1, err := l.Load(ctx, ident.Identity{}, "Adder")
	qt.Assert(t, qt.IsNil(err))
	h2, err := l.Load(ctx, ident.Identity{}, "Adder")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(h1, h2))
}

func TestEvaluateEmptyModule(t *testing.T) {
	l, _ := wasmEnv(t, "Hollow", emptyModule)

	h, err := l.Load(context.Background(), ident.Identity{}, "Hollow")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNotNil(h))

	_, err = Func(h, "add")
	qt.Assert(t, qt.ErrorMatches(err, `can't find function "add" in Wasm module .*`))
}

func TestEvaluateInvalidModule(t *testing.T) {
	l, _ := wasmEnv(t, "Junk", []byte("not wasm at all"))

	_, err := l.Load(context.Background(), ident.Identity{}, "Junk")
	qt.Assert(t, qt.ErrorMatches(err, `(?s)evaluating Junk@.*can't compile Wasm module.*`))
	qt.Assert(t, qt.HasLen(l.LoadedPackages(), 0))
}

// TestIncludeTwice re-evaluates the same file twice. Each evaluation
// instantiates a distinct module under a distinct name.
func TestIncludeTwice(t *testing.T) {
	l, _ := wasmEnv(t, "Adder", addModule)
	ctx := context.Background()

	path := filepath.Join("pkgs", "Adder", "src", "Adder.wasm")
	base := l.Stack()[0].BaseDir()

	h1, err := l.Include(ctx, ident.Identity{}, path, base)
	qt.Assert(t, qt.IsNil(err))
	h2, err := l.Include(ctx, ident.Identity{}, path, base)
	qt.Assert(t, qt.IsNil(err))

	m1, m2 := h1.(api.Module), h2.(api.Module)
	qt.Assert(t, qt.Not(qt.Equals(m1.Name(), m2.Name())))
}

func TestFuncOnForeignHandle(t *testing.T) {
	_, err := Func("not a module", "add")
	qt.Assert(t, qt.ErrorMatches(err, `handle does not hold a Wasm module`))
}
