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

package load

import (
	"fmt"
	"strings"

	"fedpkg.dev/go/ident"
)

// An UnresolvedNameError indicates that no environment in the stack
// binds the requested name in the requesting context. It aborts the
// single import that requested the name.
type UnresolvedNameError struct {
	Name string
	From ident.Identity // requesting context; invalid for the top level
}

func (e *UnresolvedNameError) Error() string {
	if !e.From.IsValid() {
		return fmt.Sprintf("cannot resolve %q: name not bound by any environment", e.Name)
	}
	return fmt.Sprintf("cannot resolve %q from %v: name not bound by any environment", e.Name, e.From)
}

// A PackageNotFoundError indicates that a name resolved to a package
// but no source for that package could be located: either no
// environment records a location for it, or every recorded location
// was probed and found missing. It suggests the package needs
// installing; installation itself is out of scope.
type PackageNotFoundError struct {
	Identity ident.Identity
	Tried    []string // probed locations, in order; empty when nothing was recorded
}

func (e *PackageNotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no source location recorded for package %v; is it installed?", e.Identity)
	}
	return fmt.Sprintf("cannot find package %v in any of:\n\t%s", e.Identity, strings.Join(e.Tried, "\n\t"))
}

// A CycleError indicates an import cycle that closed before the
// evaluator of the re-entered package published a handle, so there is
// no partial handle to return. Evaluators that publish before running
// the package body never produce one.
type CycleError struct {
	Identity ident.Identity
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic import of %v: no handle published yet", e.Identity)
}
