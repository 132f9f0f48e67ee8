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

// Package load implements the import engine: contextual name
// resolution, source location, and at-most-once evaluation of
// packages.
//
// A Loader owns an environment stack, a depot list, and the load
// table mapping package identities to the handles produced by an
// injected Evaluator. Load is the import operation: it resolves a name
// in its requesting context, returns the table's handle if the package
// was already loaded, and otherwise locates the source and evaluates
// it exactly once, no matter how many imports race for it. Binding the
// returned handle to a name in the requester's namespace is the
// evaluator's business; the Loader's contract ends at the handle.
//
// Import cycles terminate rather than recurse: an evaluator publishes
// its handle before running the package body, and a load that
// re-enters a package mid-evaluation receives that published handle.
// The handle may be incompletely initialized at that point. That view
// is inherent to cyclic imports and is returned deterministically, not
// treated as an error.
package load

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"fedpkg.dev/go/depot"
	"fedpkg.dev/go/envfile"
	"fedpkg.dev/go/environ"
	"fedpkg.dev/go/ident"
)

// A Handle is the opaque value an Evaluator produces for a loaded
// package. The engine never inspects handles; it only stores them.
type Handle any

// An Evaluator turns a located source file into a handle. It is
// supplied by the surrounding system.
//
// Evaluate is called with the package's resolved identity so that
// imports performed by the evaluated code can pass it as their
// requesting context. Implementations that tolerate import cycles
// must call publish with the package's fresh handle before executing
// the package body; loads that re-enter the package then receive the
// published handle. The handle returned by Evaluate is the one the
// table retains.
type Evaluator interface {
	Evaluate(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error)
}

// A Loader resolves, locates, and loads packages. It is safe for
// concurrent use. The load table lives for the Loader's lifetime and
// is never reset; processes wanting the conventional load-once
// semantics share a single Loader.
type Loader struct {
	cfg    *Config
	stack  environ.Stack
	depots depot.List
	table  *table
}

// Stack returns the loader's environment stack.
func (l *Loader) Stack() environ.Stack { return slices.Clone(l.stack) }

// Depots returns the loader's depot list.
func (l *Loader) Depots() depot.List { return slices.Clone(l.depots) }

// SourceSuffix returns the suffix of package entry source files.
func (l *Loader) SourceSuffix() string { return l.cfg.SourceSuffix }

// Resolve maps an import name to the package identity it denotes in
// the requesting context from, probing the environment stack in
// order. A name no environment binds yields an *UnresolvedNameError.
func (l *Loader) Resolve(from ident.Identity, name string) (ident.Identity, error) {
	p, err := l.stack.Resolve(from, name)
	if errors.Is(err, environ.ErrNotFound) {
		return ident.Identity{}, &UnresolvedNameError{Name: name, From: from}
	}
	if err != nil {
		return ident.Identity{}, err
	}
	return p, nil
}

// Locate turns a resolved identity into the path of its entry source
// file.
//
// The first environment in the stack recording a location for the
// package owns it. An explicit path in that record always wins: it is
// resolved against the environment's base directory, a directory gets
// src/<name><suffix> appended, and a missing result is an error even
// when a depot holds an installed tree, so a local override never
// silently falls back to an install. Without an
// explicit path the content hash and the depot list decide: the first
// depot holding the tree named by the slug wins. A package with no
// usable record yields a *PackageNotFoundError.
func (l *Loader) Locate(p ident.Identity) (string, error) {
	env, entry, ok := l.stack.LocateEntry(p)
	if !ok {
		return "", &PackageNotFoundError{Identity: p}
	}
	if entry.Path != "" {
		return l.locateExplicit(p, env, entry)
	}
	if entry.TreeHash == "" {
		return "", &PackageNotFoundError{Identity: p}
	}
	slug := depot.Slug(p.UUID(), entry.TreeHash)
	file, err := l.depots.Find(entry.Name, slug, l.cfg.SourceSuffix)
	if err != nil {
		return "", err
	}
	if file == "" {
		tried := make([]string, len(l.depots))
		for i, d := range l.depots {
			tried[i] = depot.EntryFile(depot.PackageDir(d, entry.Name, slug), entry.Name, l.cfg.SourceSuffix)
		}
		return "", &PackageNotFoundError{Identity: p, Tried: tried}
	}
	return file, nil
}

func (l *Loader) locateExplicit(p ident.Identity, env *environ.Environment, entry *envfile.Stanza) (string, error) {
	path := entry.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.BaseDir(), path)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &PackageNotFoundError{Identity: p, Tried: []string{path}}
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	file := filepath.Join(path, "src", entry.Name+l.cfg.SourceSuffix)
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &PackageNotFoundError{Identity: p, Tried: []string{file}}
		}
		return "", err
	}
	return file, nil
}

// Load imports the package that name denotes in the requesting
// context from: it resolves the name, returns the already-loaded
// handle if the table has one, and otherwise locates and evaluates
// the package. For a fixed Loader, every Load resolving to the same
// package returns the identical handle, regardless of the importing
// context or the name used.
//
// Failed loads leave no table entry behind, so a later Load may try
// again.
func (l *Loader) Load(ctx context.Context, from ident.Identity, name string) (Handle, error) {
	p, err := l.Resolve(from, name)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, p)
}

func (l *Loader) load(ctx context.Context, p ident.Identity) (Handle, error) {
	if l.cfg.Evaluator == nil {
		return nil, fmt.Errorf("load %v: no evaluator configured", p)
	}
	sess := sessionFrom(ctx)

	l.table.mu.Lock()
	s, ok := l.table.slots[p.Key()]
	if ok {
		l.table.mu.Unlock()
		return l.await(ctx, sess, s)
	}
	s = &slot{id: p, done: make(chan struct{}), session: sess}
	if s.session == nil {
		s.session = &session{root: p.Key()}
	}
	l.table.slots[p.Key()] = s
	l.table.mu.Unlock()

	return l.evaluate(ctx, s)
}

// await resolves a load that found an existing slot. A load arriving
// from the slot's own session is a cyclic re-entry: it receives the
// published handle immediately, or a *CycleError if the evaluator has
// not published one. Loads from other sessions block until the owner
// settles the slot; two sessions evaluating packages that import each
// other therefore block each other, and cancelling the context is the
// way out of such a load.
func (l *Loader) await(ctx context.Context, sess *session, s *slot) (Handle, error) {
	if sess != nil && sess == s.session {
		s.mu.Lock()
		published, h := s.published, s.handle
		s.mu.Unlock()
		if published {
			return h, nil
		}
		return nil, &CycleError{Identity: s.id}
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

// evaluate runs steps three to five of an import for the slot's
// owner: locate the source, evaluate it, and settle the slot. Only
// this per-package slot is held across the filesystem probes and the
// evaluation; loads for other packages proceed independently.
func (l *Loader) evaluate(ctx context.Context, s *slot) (Handle, error) {
	path, err := l.Locate(s.id)
	if err != nil {
		return nil, l.fail(s, err)
	}
	h, err := l.cfg.Evaluator.Evaluate(withSession(ctx, s.session), path, s.id, s.publish)
	if err != nil {
		return nil, l.fail(s, fmt.Errorf("evaluating %v (%s): %w", s.id, path, err))
	}
	s.publish(h)
	close(s.done)
	return h, nil
}

// fail settles the slot as failed. The slot is removed from the table
// before the waiters are released: the table never exposes a
// half-written entry, and a later load starts over.
func (l *Loader) fail(s *slot, err error) error {
	l.table.mu.Lock()
	delete(l.table.slots, s.id.Key())
	l.table.mu.Unlock()
	s.err = err
	close(s.done)
	return err
}

// Include evaluates the file at path in the context from, resolving a
// relative path against fromDir, the directory of the including file.
// Unlike Load it never consults or updates the load table: every call
// re-evaluates the file in full, and cyclic inclusion is the caller's
// own lookout. Imports performed by the included code still resolve
// in the context from.
func (l *Loader) Include(ctx context.Context, from ident.Identity, path, fromDir string) (Handle, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(fromDir, path)
	}
	if l.cfg.Evaluator == nil {
		return nil, fmt.Errorf("include %s: no evaluator configured", path)
	}
	h, err := l.cfg.Evaluator.Evaluate(ctx, path, from, func(Handle) {})
	if err != nil {
		return nil, fmt.Errorf("including %s: %w", path, err)
	}
	return h, nil
}

// Loaded returns the handle the table holds for package p, if a load
// of p has completed successfully.
func (l *Loader) Loaded(p ident.Identity) (Handle, bool) {
	l.table.mu.Lock()
	s, ok := l.table.slots[p.Key()]
	l.table.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-s.done:
	default:
		return nil, false
	}
	if s.err != nil {
		return nil, false
	}
	return s.handle, true
}

// LoadedPackages returns the identities of all completely loaded
// packages, in no particular order.
func (l *Loader) LoadedPackages() []ident.Identity {
	l.table.mu.Lock()
	slots := make([]*slot, 0, len(l.table.slots))
	for _, s := range l.table.slots {
		slots = append(slots, s)
	}
	l.table.mu.Unlock()
	var ids []ident.Identity
	for _, s := range slots {
		select {
		case <-s.done:
			if s.err == nil {
				ids = append(ids, s.id)
			}
		default:
		}
	}
	return ids
}

// A table is the loaded-package table: one slot per package identity
// key. The mutex guards only the map; each slot synchronizes its own
// evaluation.
type table struct {
	mu    sync.Mutex
	slots map[ident.Key]*slot
}

// A slot tracks one package's load. The owner that created the slot
// evaluates the package; everyone else waits on done. A slot present
// in the table is either in flight or settled successfully, never
// failed.
type slot struct {
	id      ident.Identity
	session *session      // session that owns the evaluation; set at creation
	done    chan struct{} // closed once the slot is settled
	err     error         // written before done is closed

	mu        sync.Mutex // guards handle and published before settlement
	handle    Handle
	published bool
}

func (s *slot) publish(h Handle) {
	s.mu.Lock()
	s.handle = h
	s.published = true
	s.mu.Unlock()
}

// A session identifies one top-level load and the nested loads its
// evaluations perform, which carry it in their context. Slots record
// the session evaluating them so a re-entrant load is distinguishable
// from an unrelated concurrent one.
type session struct {
	root ident.Key
}

type sessionCtxKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	if sessionFrom(ctx) == s {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionCtxKey{}).(*session)
	return s
}
