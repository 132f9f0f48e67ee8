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

// Package js evaluates package sources as JavaScript modules.
//
// Each package body runs inside a module wrapper in the CommonJS
// manner: it receives a fresh module and exports object, a require
// function that imports through the loader with the package's own
// identity as requesting context, and an include function that
// re-evaluates a file without memoization. The exports object is
// published before the body runs, so packages that import each other
// cyclically observe a partial exports object instead of recursing.
// A body may replace module.exports wholesale; the replacement is
// what later imports receive.
package js

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dop251/goja"

	"fedpkg.dev/go/ident"
	"fedpkg.dev/go/load"
)

// An Importer is the loader-side interface the interpreter needs:
// memoized import and unmemoized inclusion. *load.Loader implements
// it.
type Importer interface {
	Load(ctx context.Context, from ident.Identity, name string) (load.Handle, error)
	Include(ctx context.Context, from ident.Identity, path, fromDir string) (load.Handle, error)
}

// An Interp evaluates sources in one shared goja runtime, so handles
// returned by require are live objects of that runtime. Evaluations
// serialize on the runtime; a package body releases it while a nested
// import is off loading another package, which is how a cyclic import
// re-enters the interpreter without deadlock. The runtime carries the
// state of suspended bodies, so an Interp serves one root load at a
// time.
type Interp struct {
	loader Importer

	mu sync.Mutex // owns rt while an evaluation runs
	rt *goja.Runtime
}

// New returns an interpreter with no loader attached.
func New() *Interp {
	return &Interp{rt: goja.New()}
}

// Attach connects the interpreter to the loader that serves its
// require and include calls. It must be called once, before the first
// Evaluate.
func (i *Interp) Attach(imp Importer) { i.loader = imp }

// Evaluate implements [load.Evaluator].
func (i *Interp) Evaluate(ctx context.Context, path string, id ident.Identity, publish func(load.Handle)) (load.Handle, error) {
	if i.loader == nil {
		return nil, fmt.Errorf("js: no loader attached")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := goja.Compile(path, wrap(string(src)), false)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	module := i.rt.NewObject()
	exports := i.rt.NewObject()
	module.Set("exports", exports)
	publish(exports)

	fn, err := i.rt.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("js: module wrapper did not evaluate to a function")
	}
	dir := filepath.Dir(path)
	_, err = call(goja.Undefined(), module, exports,
		i.rt.ToValue(i.requireFn(ctx, id)),
		i.rt.ToValue(i.includeFn(ctx, id, dir)),
		i.rt.ToValue(path), i.rt.ToValue(dir))
	if err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}

func wrap(src string) string {
	return "(function(module, exports, require, include, __filename, __dirname) {\n" + src + "\n})"
}

// requireFn builds the require function for a package body. The
// runtime is handed back while the loader works: the load may
// evaluate other packages on this same runtime, or block on another
// goroutine's evaluation.
func (i *Interp) requireFn(ctx context.Context, from ident.Identity) func(string) (goja.Value, error) {
	return func(name string) (goja.Value, error) {
		i.mu.Unlock()
		h, err := i.loader.Load(ctx, from, name)
		i.mu.Lock()
		if err != nil {
			return nil, err
		}
		return i.toValue(h), nil
	}
}

func (i *Interp) includeFn(ctx context.Context, from ident.Identity, dir string) func(string) (goja.Value, error) {
	return func(path string) (goja.Value, error) {
		i.mu.Unlock()
		h, err := i.loader.Include(ctx, from, path, dir)
		i.mu.Lock()
		if err != nil {
			return nil, err
		}
		return i.toValue(h), nil
	}
}

func (i *Interp) toValue(h load.Handle) goja.Value {
	if v, ok := h.(goja.Value); ok {
		return v
	}
	return i.rt.ToValue(h)
}
