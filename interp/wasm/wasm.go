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

// Package wasm evaluates packages whose sources are compiled
// WebAssembly modules.
//
// Each package file is compiled and instantiated in a shared Wasm
// runtime with WASI available to the guest. The handle of a loaded
// package is its [api.Module] instance; callers reach exported guest
// functions through [Func]. Wasm packages cannot import other
// packages through the loader, so cyclic imports are not supported:
// nothing is published before instantiation completes.
package wasm

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"fedpkg.dev/go/ident"
	"fedpkg.dev/go/load"
)

// An Interp is a Wasm runtime that can compile, load, and execute
// Wasm code. It is safe for concurrent use.
type Interp struct {
	runtime wazero.Runtime

	// n distinguishes instances within the runtime namespace, so
	// that re-evaluating a file by inclusion does not collide with
	// an earlier instantiation.
	n atomic.Uint64
}

// New returns an interpreter backed by a fresh Wasm runtime.
func New() *Interp {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	return &Interp{runtime: r}
}

// Evaluate implements [load.Evaluator].
func (i *Interp) Evaluate(ctx context.Context, path string, id ident.Identity, _ func(load.Handle)) (load.Handle, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't compile Wasm module: %w", err)
	}
	compiled, err := i.runtime.CompileModule(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("can't compile Wasm module: %w", err)
	}

	cfg := wazero.NewModuleConfig().WithName(fmt.Sprintf("%v#%d", id, i.n.Add(1)))
	mod, err := i.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("can't instantiate Wasm module: %w", err)
	}
	return mod, nil
}

// Close releases the resources held by the underlying Wasm runtime.
// The interpreter can't be used afterwards.
func (i *Interp) Close(ctx context.Context) error {
	return i.runtime.Close(ctx)
}

// Func returns the named exported function of a loaded package
// handle.
func Func(h load.Handle, name string) (api.Function, error) {
	mod, ok := h.(api.Module)
	if !ok {
		return nil, fmt.Errorf("handle does not hold a Wasm module")
	}
	f := mod.ExportedFunction(name)
	if f == nil {
		return nil, fmt.Errorf("can't find function %q in Wasm module %v", name, mod.Name())
	}
	return f, nil
}
