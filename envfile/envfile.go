// Package envfile parses the two configuration documents that describe
// an environment: the project file, which declares the environment's
// own identity and the names importable from its top level, and the
// manifest file, which records the resolved dependency graph and where
// each resolved package lives.
//
// Both documents are TOML. Parsing is strict: unknown fields, malformed
// UUIDs, and internally contradictory declarations are rejected here,
// at the boundary, so the resolution code never sees an untyped or
// half-valid document.
package envfile

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"

	"fedpkg.dev/go/ident"
)

const (
	// ProjectFile is the file name of the project document within an
	// environment directory.
	ProjectFile = "project.toml"

	// ManifestFile is the file name of the manifest document within an
	// environment directory.
	ManifestFile = "manifest.toml"
)

// A ConfigError reports a malformed or internally contradictory
// configuration document. It aborts construction of the environment
// that was reading the document.
type ConfigError struct {
	File string // file name or path the document was read from
	Err  error
}

func (e *ConfigError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// A Project is a parsed project document. The zero value describes an
// absent document: no name, no UUID, no importable dependencies.
type Project struct {
	// Name is the project's own package name, or "" if the project is
	// anonymous.
	Name string

	// UUID is the project's own identifier; uuid.Nil if the project is
	// unregistered.
	UUID uuid.UUID

	// Deps maps the names importable from the project's top level to
	// the UUIDs they denote.
	Deps map[string]uuid.UUID
}

// Identity returns the project's own identity, which has a nil UUID for
// unregistered projects and is invalid for anonymous ones.
func (p *Project) Identity() ident.Identity {
	if p.Name == "" {
		return ident.Identity{}
	}
	return ident.MustNew(p.Name, p.UUID)
}

// A Stanza is one manifest entry: the recorded resolution of a single
// package. Name and UUID are always set. Path and TreeHash are the two
// ways of locating the package's source tree; either, both, or neither
// may be present. A stanza with neither can still contribute dependency
// edges but can never be located.
type Stanza struct {
	Name     string
	UUID     uuid.UUID
	Deps     map[string]uuid.UUID
	Path     string // explicit source location, relative to the environment directory unless absolute
	TreeHash string // content hash of the source tree, opaque to resolution; input to the slug
	Version  string // informational
}

// A Manifest is a parsed manifest document. The zero value describes an
// absent document.
type Manifest struct {
	Packages []*Stanza
}

type rawProject struct {
	Name string            `toml:"name"`
	UUID string            `toml:"uuid"`
	Deps map[string]string `toml:"deps"`
}

type rawManifest struct {
	Packages []rawStanza `toml:"packages"`
}

type rawStanza struct {
	Name     string            `toml:"name"`
	UUID     string            `toml:"uuid"`
	Deps     map[string]string `toml:"deps"`
	Path     string            `toml:"path"`
	TreeHash string            `toml:"git-tree-sha1"`
	Version  string            `toml:"version"`
}

// ParseProject parses and validates a project document.
// The file name is used for error messages only.
func ParseProject(data []byte, filename string) (*Project, error) {
	fail := func(err error) (*Project, error) {
		return nil, &ConfigError{File: filename, Err: err}
	}
	var raw rawProject
	if err := decodeStrict(data, &raw); err != nil {
		return fail(err)
	}
	p := &Project{Name: raw.Name}
	if raw.Name != "" {
		if err := ident.CheckName(raw.Name); err != nil {
			return fail(err)
		}
	}
	if raw.UUID != "" {
		id, err := uuid.Parse(raw.UUID)
		if err != nil {
			return fail(fmt.Errorf("invalid project uuid %q: %v", raw.UUID, err))
		}
		p.UUID = id
	}
	if len(raw.Deps) > 0 {
		p.Deps = make(map[string]uuid.UUID, len(raw.Deps))
		for name, u := range raw.Deps {
			id, err := parseDep(name, u)
			if err != nil {
				return fail(err)
			}
			p.Deps[name] = id
		}
	}
	// The project's own name and a dependency of the same name must
	// agree on the UUID, or the roots map would be contradictory.
	if p.Name != "" {
		if dep, ok := p.Deps[p.Name]; ok && dep != p.UUID {
			return fail(fmt.Errorf("name %q bound to both uuid %v and %v", p.Name, p.UUID, dep))
		}
	}
	return p, nil
}

// ParseManifest parses and validates a manifest document.
// The file name is used for error messages only.
//
// Several stanzas may share a name: names are not unique across
// packages, only UUIDs are. Two stanzas for one UUID are rejected,
// since they would record two resolutions for the same package.
func ParseManifest(data []byte, filename string) (*Manifest, error) {
	fail := func(err error) (*Manifest, error) {
		return nil, &ConfigError{File: filename, Err: err}
	}
	var raw rawManifest
	if err := decodeStrict(data, &raw); err != nil {
		return fail(err)
	}
	m := &Manifest{}
	seen := make(map[uuid.UUID]string, len(raw.Packages))
	for i, rs := range raw.Packages {
		s, err := parseStanza(rs)
		if err != nil {
			return fail(fmt.Errorf("packages[%d]: %v", i, err))
		}
		if prev, ok := seen[s.UUID]; ok {
			return fail(fmt.Errorf("packages[%d]: uuid %v already declared by stanza %q", i, s.UUID, prev))
		}
		seen[s.UUID] = s.Name
		m.Packages = append(m.Packages, s)
	}
	return m, nil
}

func parseStanza(raw rawStanza) (*Stanza, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if err := ident.CheckName(raw.Name); err != nil {
		return nil, err
	}
	if raw.UUID == "" {
		return nil, fmt.Errorf("stanza %q: missing uuid", raw.Name)
	}
	id, err := uuid.Parse(raw.UUID)
	if err != nil {
		return nil, fmt.Errorf("stanza %q: invalid uuid %q: %v", raw.Name, raw.UUID, err)
	}
	s := &Stanza{
		Name:     raw.Name,
		UUID:     id,
		Path:     raw.Path,
		TreeHash: raw.TreeHash,
		Version:  raw.Version,
	}
	if len(raw.Deps) > 0 {
		s.Deps = make(map[string]uuid.UUID, len(raw.Deps))
		for name, u := range raw.Deps {
			dep, err := parseDep(name, u)
			if err != nil {
				return nil, fmt.Errorf("stanza %q: %v", raw.Name, err)
			}
			s.Deps[name] = dep
		}
	}
	if s.Version != "" && !validVersion(s.Version) {
		return nil, fmt.Errorf("stanza %q: invalid version %q", raw.Name, s.Version)
	}
	return s, nil
}

func parseDep(name, u string) (uuid.UUID, error) {
	if err := ident.CheckName(name); err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.Parse(u)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("dep %q: invalid uuid %q: %v", name, u, err)
	}
	return id, nil
}

// validVersion reports whether v is acceptable as a manifest version.
// Versions are semver with the leading "v" optional, since manifests
// conventionally record bare "1.2.3" forms.
func validVersion(v string) bool {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

func decodeStrict(data []byte, dst any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var details *toml.StrictMissingError
		if errors.As(err, &details) {
			return fmt.Errorf("unknown fields:\n%s", details.String())
		}
		return err
	}
	return nil
}
