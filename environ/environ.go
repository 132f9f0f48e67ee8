// Package environ implements environments and the environment stack:
// the layered configuration that gives import names their meaning.
//
// An environment is the read-only result of loading one configuration
// directory's project and manifest documents. It answers the two
// questions resolution asks: which package does a name denote in a
// given requesting context (Resolve), and where is a resolved package
// recorded to live (PathEntry). A Stack orders several environments by
// precedence and probes them in turn, so a process can layer a set of
// always-available packages beneath a project-specific set.
//
// Environments are immutable once constructed and safe for concurrent
// use. Edits to the underlying documents are not observed; callers
// wanting fresh state load a new environment.
package environ

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"fedpkg.dev/go/envfile"
	"fedpkg.dev/go/ident"
)

// ErrNotFound reports that an environment, or every environment of a
// stack, has no binding for the queried name in the requesting
// context. Callers probe the next environment or surface a resolution
// error.
var ErrNotFound = errors.New("name not found in environment")

// An Environment holds the three resolution maps built from one
// configuration directory: the top-level name bindings (roots), the
// per-package dependency bindings (graph), and the recorded package
// locations (paths), along with the base directory that anchors
// relative paths.
type Environment struct {
	self    ident.Identity
	roots   map[string]uuid.UUID
	graph   map[uuid.UUID]map[string]uuid.UUID
	paths   map[uuid.UUID]*envfile.Stanza
	stanzas []*envfile.Stanza

	// selfEntry locates the project's own source tree when the
	// manifest has no stanza for it.
	selfEntry *envfile.Stanza

	baseDir string
}

// Load reads dir's project and manifest documents and constructs the
// environment they describe. Either document may be absent; a missing
// directory yields an environment that resolves nothing. The returned
// environment's base directory is the absolute form of dir.
func Load(dir string) (*Environment, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	proj, err := loadProject(dir)
	if err != nil {
		return nil, err
	}
	man, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	return New(proj, man, dir)
}

func loadProject(dir string) (*envfile.Project, error) {
	file := filepath.Join(dir, envfile.ProjectFile)
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return &envfile.Project{}, nil
	}
	if err != nil {
		return nil, err
	}
	return envfile.ParseProject(data, file)
}

func loadManifest(dir string) (*envfile.Manifest, error) {
	file := filepath.Join(dir, envfile.ManifestFile)
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return &envfile.Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return envfile.ParseManifest(data, file)
}

// New constructs an environment from already-parsed documents. Either
// document may be nil, standing for an absent file. New validates the
// documents the way parsing does, so environments built from
// hand-assembled documents uphold the same guarantees as loaded ones.
func New(proj *envfile.Project, man *envfile.Manifest, baseDir string) (*Environment, error) {
	if proj == nil {
		proj = &envfile.Project{}
	}
	if man == nil {
		man = &envfile.Manifest{}
	}
	fail := func(err error) (*Environment, error) {
		var cerr *envfile.ConfigError
		if errors.As(err, &cerr) {
			return nil, err
		}
		return nil, &envfile.ConfigError{File: baseDir, Err: err}
	}
	roots, err := buildRoots(proj)
	if err != nil {
		return fail(err)
	}
	e := &Environment{
		self:    proj.Identity(),
		roots:   roots,
		graph:   make(map[uuid.UUID]map[string]uuid.UUID),
		paths:   make(map[uuid.UUID]*envfile.Stanza, len(man.Packages)),
		baseDir: baseDir,
	}
	for _, s := range man.Packages {
		if err := ident.CheckName(s.Name); err != nil {
			return fail(err)
		}
		if s.UUID == uuid.Nil {
			return fail(fmt.Errorf("stanza %q: missing uuid", s.Name))
		}
		if prev, ok := e.paths[s.UUID]; ok {
			return fail(fmt.Errorf("uuid %v declared by both stanza %q and %q", s.UUID, prev.Name, s.Name))
		}
		e.paths[s.UUID] = s
		e.stanzas = append(e.stanzas, s)
		if len(s.Deps) == 0 {
			continue
		}
		deps := make(map[string]uuid.UUID, len(s.Deps))
		for name, id := range s.Deps {
			if err := ident.CheckName(name); err != nil {
				return fail(fmt.Errorf("stanza %q: %v", s.Name, err))
			}
			deps[name] = id
		}
		e.graph[s.UUID] = deps
	}
	if e.self.IsValid() {
		if _, ok := e.paths[e.self.UUID()]; !ok {
			e.selfEntry = &envfile.Stanza{Name: e.self.Name(), UUID: e.self.UUID(), Path: "."}
		}
	}
	return e, nil
}

// buildRoots assembles the top-level bindings: each declared
// dependency, plus the project's own name when it has one. A name
// bound to two different UUIDs makes the document contradictory.
func buildRoots(proj *envfile.Project) (map[string]uuid.UUID, error) {
	roots := make(map[string]uuid.UUID, len(proj.Deps)+1)
	for name, id := range proj.Deps {
		if err := ident.CheckName(name); err != nil {
			return nil, err
		}
		roots[name] = id
	}
	if proj.Name != "" {
		if err := ident.CheckName(proj.Name); err != nil {
			return nil, err
		}
		if prev, ok := roots[proj.Name]; ok && prev != proj.UUID {
			return nil, fmt.Errorf("name %q bound to both uuid %v and %v", proj.Name, proj.UUID, prev)
		}
		roots[proj.Name] = proj.UUID
	}
	return roots, nil
}

// Self returns the environment's own project identity. It is invalid
// for anonymous projects and carries a nil UUID for unregistered ones.
func (e *Environment) Self() ident.Identity { return e.self }

// BaseDir returns the directory the environment's documents were read
// from. Relative stanza paths are resolved against it.
func (e *Environment) BaseDir() string { return e.baseDir }

// Roots returns a copy of the top-level name bindings.
func (e *Environment) Roots() map[string]uuid.UUID { return maps.Clone(e.roots) }

// Deps returns a copy of the dependency bindings recorded for the
// package with the given UUID, and whether the manifest declared any.
func (e *Environment) Deps(id uuid.UUID) (map[string]uuid.UUID, bool) {
	deps, ok := e.graph[id]
	return maps.Clone(deps), ok
}

// Stanzas returns the manifest stanzas in declaration order. The
// returned stanzas are shared and must not be modified.
func (e *Environment) Stanzas() []*envfile.Stanza { return slices.Clone(e.stanzas) }

// Resolve maps an import name to the package identity it denotes in
// the requesting context from, within this environment alone.
//
// A context with a nil UUID is the top level: names resolve through
// the roots map built from the project document. The environment's own
// registered project is the top level too, so code evaluated as the
// project sees the project's declared dependencies. Every other
// context resolves through the dependency bindings recorded for its
// UUID in the manifest.
//
// Resolve returns ErrNotFound when the context has no binding for
// name. A context the manifest never mentions behaves exactly like one
// with no declared dependencies.
func (e *Environment) Resolve(from ident.Identity, name string) (ident.Identity, error) {
	if !from.HasUUID() || from.Equal(e.self) {
		id, ok := e.roots[name]
		if !ok {
			return ident.Identity{}, ErrNotFound
		}
		return ident.MustNew(name, id), nil
	}
	id, ok := e.graph[from.UUID()][name]
	if !ok {
		return ident.Identity{}, ErrNotFound
	}
	return ident.MustNew(name, id), nil
}

// PathEntry returns the manifest stanza recording where package p
// lives, if this environment has one. A project with no stanza for
// itself is covered by a synthetic entry locating its source under the
// base directory, so the root project is loadable without being listed
// in its own manifest.
func (e *Environment) PathEntry(p ident.Identity) (*envfile.Stanza, bool) {
	if p.HasUUID() {
		if s, ok := e.paths[p.UUID()]; ok {
			return s, true
		}
	}
	if e.selfEntry != nil && p.Equal(e.self) {
		return e.selfEntry, true
	}
	return nil, false
}

// A Stack is an ordered list of environments. Earlier entries take
// precedence; the zero-length stack resolves nothing.
type Stack []*Environment

// LoadStack loads one environment per directory, preserving order.
func LoadStack(dirs []string) (Stack, error) {
	stack := make(Stack, 0, len(dirs))
	for _, dir := range dirs {
		e, err := Load(dir)
		if err != nil {
			return nil, err
		}
		stack = append(stack, e)
	}
	return stack, nil
}

// Resolve probes each environment in order and returns the first
// binding found for name in the context from. It returns ErrNotFound
// only when every environment reports it.
func (s Stack) Resolve(from ident.Identity, name string) (ident.Identity, error) {
	for _, e := range s {
		p, err := e.Resolve(from, name)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ident.Identity{}, err
		}
	}
	return ident.Identity{}, ErrNotFound
}

// LocateEntry returns the path entry for p from the first environment
// that records one, along with the owning environment. Later
// environments are never consulted once an earlier one claims the
// package, even if the claimed entry cannot be realized on disk.
func (s Stack) LocateEntry(p ident.Identity) (*Environment, *envfile.Stanza, bool) {
	for _, e := range s {
		if entry, ok := e.PathEntry(p); ok {
			return e, entry, true
		}
	}
	return nil, nil, false
}
