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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fedpkg.dev/go/depot"
	"fedpkg.dev/go/envfile"
	"fedpkg.dev/go/ident"
)

var (
	u0 = uuid.MustParse("00000000-1111-2222-3333-444444444444") // App
	up = uuid.MustParse("7876af07-990d-54b4-ab0e-23690620f79a") // Priv seen from App
	uq = uuid.MustParse("ba38f192-2ff5-4f27-b371-b4a1886f2b9c") // Pub
	us = uuid.MustParse("d30d65de-5b4f-5206-b512-bafca92fe7e2") // Priv seen from Pub
	ur = uuid.MustParse("f31c8b59-0a12-4f5c-9b6d-2f4f7d1b8a33") // SomeOther
)

const (
	hashPub  = "9a326ab13eed539e30393be98b0c0f9e6e5bda71"
	hashPriv = "60a1271a7dcbc4b831043b688a882de56f2e36e3"
)

const fixtureProject = `
name = "App"
uuid = "00000000-1111-2222-3333-444444444444"

[deps]
Priv = "7876af07-990d-54b4-ab0e-23690620f79a"
AltPriv = "7876af07-990d-54b4-ab0e-23690620f79a"
Pub = "ba38f192-2ff5-4f27-b371-b4a1886f2b9c"
`

const fixtureManifest = `
[[packages]]
name = "Priv"
uuid = "7876af07-990d-54b4-ab0e-23690620f79a"
path = "deps/Priv"

[[packages]]
name = "Pub"
uuid = "ba38f192-2ff5-4f27-b371-b4a1886f2b9c"
git-tree-sha1 = "9a326ab13eed539e30393be98b0c0f9e6e5bda71"

[packages.deps]
Priv = "d30d65de-5b4f-5206-b512-bafca92fe7e2"
SomeOther = "f31c8b59-0a12-4f5c-9b6d-2f4f7d1b8a33"

[[packages]]
name = "Priv"
uuid = "d30d65de-5b4f-5206-b512-bafca92fe7e2"
git-tree-sha1 = "60a1271a7dcbc4b831043b688a882de56f2e36e3"

[[packages]]
name = "SomeOther"
uuid = "f31c8b59-0a12-4f5c-9b6d-2f4f7d1b8a33"
`

// evalFunc adapts a function to the Evaluator interface.
type evalFunc func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error)

func (f evalFunc) Evaluate(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
	return f(ctx, path, id, publish)
}

// A pkgHandle is what the test evaluators produce; handle identity is
// pointer identity.
type pkgHandle struct {
	id   ident.Identity
	path string
	dep  Handle
}

// recordingEvaluator returns handles carrying the identity and path
// each evaluation saw.
func recordingEvaluator() evalFunc {
	return func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		return &pkgHandle{id: id, path: path}, nil
	}
}

func mustWriteFile(t *testing.T, path, body string) {
	t.Helper()
	err := os.MkdirAll(filepath.Dir(path), 0o777)
	qt.Assert(t, qt.IsNil(err))
	err = os.WriteFile(path, []byte(body), 0o666)
	qt.Assert(t, qt.IsNil(err))
}

// writeEnv populates a fresh directory with the given documents.
func writeEnv(t *testing.T, project, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	if project != "" {
		mustWriteFile(t, filepath.Join(dir, envfile.ProjectFile), project)
	}
	if manifest != "" {
		mustWriteFile(t, filepath.Join(dir, envfile.ManifestFile), manifest)
	}
	return dir
}

func install(t *testing.T, depotDir, name string, id uuid.UUID, treeHash string) string {
	t.Helper()
	file := depot.EntryFile(depot.PackageDir(depotDir, name, depot.Slug(id, treeHash)), name, ".fed")
	mustWriteFile(t, file, "// "+name+"\n")
	return file
}

// fixture builds the federated App environment on disk: Priv checked
// out at an explicit path, Pub and its own Priv installed in a depot,
// SomeOther recorded but not locatable.
func fixture(t *testing.T) (envDir, depotDir string) {
	t.Helper()
	envDir = writeEnv(t, fixtureProject, fixtureManifest)
	mustWriteFile(t, filepath.Join(envDir, "src", "App.fed"), "// App\n")
	mustWriteFile(t, filepath.Join(envDir, "deps", "Priv", "src", "Priv.fed"), "// Priv\n")
	depotDir = t.TempDir()
	install(t, depotDir, "Pub", uq, hashPub)
	install(t, depotDir, "Priv", us, hashPriv)
	return envDir, depotDir
}

func newLoader(t *testing.T, envDir, depotDir string, ev Evaluator) *Loader {
	t.Helper()
	l, err := New(&Config{
		Env:       []string{envDir},
		Depots:    []string{depotDir},
		Evaluator: ev,
	})
	qt.Assert(t, qt.IsNil(err))
	return l
}

func TestConfigValidation(t *testing.T) {
	_, err := New(&Config{Env: []string{}, Evaluator: recordingEvaluator(), SourceSuffix: "fed"})
	qt.Assert(t, qt.ErrorMatches(err, `invalid source suffix "fed"`))

	_, err = New(&Config{Env: []string{}, Evaluator: recordingEvaluator(), SourceSuffix: `.a/b`})
	qt.Assert(t, qt.ErrorMatches(err, `invalid source suffix "\.a/b"`))
}

// A loader without an evaluator still answers resolution and location
// queries; only loading needs one.
func TestNoEvaluator(t *testing.T) {
	envDir, depotDir := fixture(t)
	l, err := New(&Config{Env: []string{envDir}, Depots: []string{depotDir}})
	qt.Assert(t, qt.IsNil(err))

	p, err := l.Resolve(ident.Identity{}, "Priv")
	qt.Assert(t, qt.IsNil(err))
	_, err = l.Locate(p)
	qt.Assert(t, qt.IsNil(err))

	_, err = l.Load(context.Background(), ident.Identity{}, "Priv")
	qt.Assert(t, qt.ErrorMatches(err, `load Priv@.*: no evaluator configured`))
	_, err = l.Include(context.Background(), ident.Identity{}, "x.fed", envDir)
	qt.Assert(t, qt.ErrorMatches(err, `include .*x\.fed: no evaluator configured`))
}

func TestConfigDefaults(t *testing.T) {
	envDir, depotDir := fixture(t)
	t.Setenv(EnvPath, envDir)
	t.Setenv(EnvDepotPath, depotDir)

	l, err := New(&Config{Evaluator: recordingEvaluator()})
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(len(l.Stack()), 1))
	qt.Assert(t, qt.Equals(l.Stack()[0].BaseDir(), envDir))
	qt.Assert(t, qt.DeepEquals(l.Depots(), depot.List{depotDir}))
	qt.Assert(t, qt.Equals(l.SourceSuffix(), ".fed"))
}

func TestResolve(t *testing.T) {
	envDir, depotDir := fixture(t)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())

	p, err := l.Resolve(ident.Identity{}, "Priv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(p, ident.MustNew("Priv", up)))

	p, err = l.Resolve(ident.MustNew("Pub", uq), "Priv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(p.UUID(), us))

	_, err = l.Resolve(ident.Identity{}, "Nonexistent")
	var uerr *UnresolvedNameError
	qt.Assert(t, qt.ErrorAs(err, &uerr))
	qt.Assert(t, qt.Equals(uerr.Name, "Nonexistent"))
	qt.Assert(t, qt.ErrorMatches(err, `cannot resolve "Nonexistent": name not bound by any environment`))

	_, err = l.Resolve(ident.MustNew("Pub", uq), "Pub")
	qt.Assert(t, qt.ErrorMatches(err, `cannot resolve "Pub" from Pub@.*: name not bound by any environment`))
}

func TestLocate(t *testing.T) {
	envDir, depotDir := fixture(t)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())

	// An explicit directory path resolves to src/<name><suffix>
	// within it, anchored at the environment's base directory.
	path, err := l.Locate(ident.MustNew("Priv", up))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(path, filepath.Join(envDir, "deps", "Priv", "src", "Priv.fed")))

	// A content-addressed package is found in the depot.
	path, err = l.Locate(ident.MustNew("Pub", uq))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(path, depot.EntryFile(depot.PackageDir(depotDir, "Pub", depot.Slug(uq, hashPub)), "Pub", ".fed")))

	// The root project is located beneath its own base directory.
	path, err = l.Locate(ident.MustNew("App", u0))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(path, filepath.Join(envDir, "src", "App.fed")))
}

func TestLocateExplicitFile(t *testing.T) {
	envDir := writeEnv(t, "", `
[[packages]]
name = "Single"
uuid = "11111111-2222-4333-8444-555555555555"
path = "files/single.fed"
`)
	file := filepath.Join(envDir, "files", "single.fed")
	mustWriteFile(t, file, "// single\n")
	l := newLoader(t, envDir, t.TempDir(), recordingEvaluator())

	// A path naming a file is used directly, with no src/ convention.
	path, err := l.Locate(ident.MustNew("Single", uuid.MustParse("11111111-2222-4333-8444-555555555555")))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(path, file))
}

func TestLocateExplicitPathPrecedence(t *testing.T) {
	// Both path and git-tree-sha1 are recorded, and the depot holds an
	// installed tree for the hash. The explicit path must win.
	envDir := writeEnv(t, "", `
[[packages]]
name = "Both"
uuid = "7876af07-990d-54b4-ab0e-23690620f79a"
path = "dev/Both"
git-tree-sha1 = "9a326ab13eed539e30393be98b0c0f9e6e5bda71"
`)
	depotDir := t.TempDir()
	install(t, depotDir, "Both", up, hashPub)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())
	both := ident.MustNew("Both", up)

	checkout := filepath.Join(envDir, "dev", "Both", "src", "Both.fed")
	mustWriteFile(t, checkout, "// dev checkout\n")
	path, err := l.Locate(both)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(path, checkout))

	// With the checkout gone the load fails loudly rather than
	// falling back to the installed tree: a broken override should be
	// noticed, not masked.
	err = os.RemoveAll(filepath.Join(envDir, "dev"))
	qt.Assert(t, qt.IsNil(err))
	_, err = l.Locate(both)
	var nerr *PackageNotFoundError
	qt.Assert(t, qt.ErrorAs(err, &nerr))
	qt.Assert(t, qt.DeepEquals(nerr.Tried, []string{filepath.Join(envDir, "dev", "Both")}))
}

func TestLocateNotFound(t *testing.T) {
	envDir, depotDir := fixture(t)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())

	// Recorded, but with neither path nor hash.
	_, err := l.Locate(ident.MustNew("SomeOther", ur))
	var nerr *PackageNotFoundError
	qt.Assert(t, qt.ErrorAs(err, &nerr))
	qt.Assert(t, qt.Equals(len(nerr.Tried), 0))
	qt.Assert(t, qt.ErrorMatches(err, `no source location recorded for package SomeOther@.*; is it installed\?`))

	// Not recorded by any environment.
	_, err = l.Locate(ident.MustNew("Ghost", uuid.MustParse("99999999-9999-4999-9999-999999999999")))
	qt.Assert(t, qt.ErrorAs(err, &nerr))

	// Recorded with a hash, but installed in no depot: the error
	// names every probed location.
	l2 := newLoader(t, envDir, t.TempDir(), recordingEvaluator())
	_, err = l2.Locate(ident.MustNew("Pub", uq))
	qt.Assert(t, qt.ErrorAs(err, &nerr))
	qt.Assert(t, qt.Equals(len(nerr.Tried), 1))
}

func TestLoadMemoization(t *testing.T) {
	envDir, depotDir := fixture(t)
	var evals atomic.Int32
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		evals.Add(1)
		return &pkgHandle{id: id, path: path}, nil
	})
	l := newLoader(t, envDir, depotDir, ev)
	ctx := context.Background()

	// Two names for the same package yield the identical handle and a
	// single evaluation.
	h1, err := l.Load(ctx, ident.Identity{}, "Priv")
	qt.Assert(t, qt.IsNil(err))
	h2, err := l.Load(ctx, ident.Identity{}, "AltPriv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(h1, h2))
	qt.Assert(t, qt.Equals(evals.Load(), int32(1)))

	// The same name from a different context is a different package
	// and never shares the handle.
	h3, err := l.Load(ctx, ident.MustNew("Pub", uq), "Priv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Not(qt.Equals(h3, h1)))
	qt.Assert(t, qt.Equals(h3.(*pkgHandle).id.UUID(), us))
	qt.Assert(t, qt.Equals(evals.Load(), int32(2)))

	// Loading through the requesting context reaches the same table
	// entry as loading by root name.
	h4, err := l.Load(ctx, ident.MustNew("App", u0), "Priv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(h4, h1))
	qt.Assert(t, qt.Equals(evals.Load(), int32(2)))
}

func TestLoadRootProject(t *testing.T) {
	envDir, depotDir := fixture(t)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())

	h, err := l.Load(context.Background(), ident.Identity{}, "App")
	qt.Assert(t, qt.IsNil(err))
	ph := h.(*pkgHandle)
	qt.Assert(t, qt.Equals(ph.id, ident.MustNew("App", u0)))
	qt.Assert(t, qt.Equals(ph.path, filepath.Join(envDir, "src", "App.fed")))
}

func TestLoadAtMostOnce(t *testing.T) {
	envDir, depotDir := fixture(t)
	var evals atomic.Int32
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		evals.Add(1)
		// Keep the evaluation in flight long enough for the other
		// loads to arrive and block.
		time.Sleep(10 * time.Millisecond)
		return &pkgHandle{id: id, path: path}, nil
	})
	l := newLoader(t, envDir, depotDir, ev)

	const n = 32
	start := make(chan struct{})
	handles := make([]Handle, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range handles {
		g.Go(func() error {
			<-start
			h, err := l.Load(ctx, ident.Identity{}, "Pub")
			handles[i] = h
			return err
		})
	}
	close(start)
	qt.Assert(t, qt.IsNil(g.Wait()))

	qt.Assert(t, qt.Equals(evals.Load(), int32(1)))
	for i, h := range handles {
		qt.Assert(t, qt.Equals(h, handles[0]), qt.Commentf("load %d returned a different handle", i))
	}
}

const cyclicProject = `
[deps]
Alpha = "aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa"
`

const cyclicManifest = `
[[packages]]
name = "Alpha"
uuid = "aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa"
git-tree-sha1 = "1111111111111111111111111111111111111111"

[packages.deps]
Beta = "bbbbbbbb-bbbb-4bbb-bbbb-bbbbbbbbbbbb"

[[packages]]
name = "Beta"
uuid = "bbbbbbbb-bbbb-4bbb-bbbb-bbbbbbbbbbbb"
git-tree-sha1 = "2222222222222222222222222222222222222222"

[packages.deps]
Alpha = "aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa"
`

func cyclicFixture(t *testing.T) (envDir, depotDir string) {
	t.Helper()
	ua := uuid.MustParse("aaaaaaaa-aaaa-4aaa-aaaa-aaaaaaaaaaaa")
	ub := uuid.MustParse("bbbbbbbb-bbbb-4bbb-bbbb-bbbbbbbbbbbb")
	envDir = writeEnv(t, cyclicProject, cyclicManifest)
	depotDir = t.TempDir()
	install(t, depotDir, "Alpha", ua, "1111111111111111111111111111111111111111")
	install(t, depotDir, "Beta", ub, "2222222222222222222222222222222222222222")
	return envDir, depotDir
}

func TestLoadCycle(t *testing.T) {
	// Alpha and Beta import each other. Both evaluators publish
	// before loading their dependency, so the cycle terminates: Beta
	// receives Alpha's in-progress handle.
	envDir, depotDir := cyclicFixture(t)
	var l *Loader
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		h := &pkgHandle{id: id, path: path}
		publish(h)
		switch id.Name() {
		case "Alpha":
			dep, err := l.Load(ctx, id, "Beta")
			if err != nil {
				return nil, err
			}
			h.dep = dep
		case "Beta":
			dep, err := l.Load(ctx, id, "Alpha")
			if err != nil {
				return nil, err
			}
			h.dep = dep
		}
		return h, nil
	})
	l = newLoader(t, envDir, depotDir, ev)

	h, err := l.Load(context.Background(), ident.Identity{}, "Alpha")
	qt.Assert(t, qt.IsNil(err))
	alpha := h.(*pkgHandle)
	beta := alpha.dep.(*pkgHandle)
	qt.Assert(t, qt.Equals(beta.id.Name(), "Beta"))

	// Beta saw the very handle Alpha's evaluation was filling in.
	qt.Assert(t, qt.Equals(beta.dep, h))
}

func TestLoadCycleUnpublished(t *testing.T) {
	// An evaluator that re-enters its own package without having
	// published fails deterministically instead of deadlocking.
	envDir, depotDir := cyclicFixture(t)
	var l *Loader
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		if id.Name() == "Alpha" {
			if _, err := l.Load(ctx, id, "Beta"); err != nil {
				return nil, err
			}
		} else {
			if _, err := l.Load(ctx, id, "Alpha"); err != nil {
				return nil, err
			}
		}
		return &pkgHandle{id: id}, nil
	})
	l = newLoader(t, envDir, depotDir, ev)

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), ident.Identity{}, "Alpha")
		done <- err
	}()
	select {
	case err := <-done:
		var cerr *CycleError
		qt.Assert(t, qt.ErrorAs(err, &cerr))
		qt.Assert(t, qt.Equals(cerr.Identity.Name(), "Alpha"))
	case <-time.After(5 * time.Second):
		t.Fatal("cyclic load deadlocked")
	}

	// The failed loads left nothing behind.
	qt.Assert(t, qt.Equals(len(l.LoadedPackages()), 0))
}

func TestLoadFailureRetry(t *testing.T) {
	envDir, depotDir := fixture(t)
	var attempts atomic.Int32
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		if attempts.Add(1) == 1 {
			return nil, fmt.Errorf("syntax error at line 3")
		}
		return &pkgHandle{id: id, path: path}, nil
	})
	l := newLoader(t, envDir, depotDir, ev)
	ctx := context.Background()

	_, err := l.Load(ctx, ident.Identity{}, "Pub")
	qt.Assert(t, qt.ErrorMatches(err, `evaluating Pub@.*: syntax error at line 3`))

	// The failure installed nothing.
	_, ok := l.Loaded(ident.MustNew("Pub", uq))
	qt.Assert(t, qt.IsFalse(ok))

	// A later import starts over and can succeed.
	h, err := l.Load(ctx, ident.Identity{}, "Pub")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(h.(*pkgHandle).id.UUID(), uq))
	qt.Assert(t, qt.Equals(attempts.Load(), int32(2)))
}

func TestInclude(t *testing.T) {
	envDir, depotDir := fixture(t)
	var evals atomic.Int32
	var paths []string
	ev := evalFunc(func(ctx context.Context, path string, id ident.Identity, publish func(Handle)) (Handle, error) {
		evals.Add(1)
		paths = append(paths, path)
		return &pkgHandle{id: id, path: path}, nil
	})
	l := newLoader(t, envDir, depotDir, ev)
	ctx := context.Background()
	from := ident.MustNew("App", u0)

	// Inclusion re-evaluates every time and never touches the table.
	for range 3 {
		_, err := l.Include(ctx, from, "scripts/setup.fed", envDir)
		qt.Assert(t, qt.IsNil(err))
	}
	qt.Assert(t, qt.Equals(evals.Load(), int32(3)))
	qt.Assert(t, qt.Equals(paths[0], filepath.Join(envDir, "scripts", "setup.fed")))
	qt.Assert(t, qt.Equals(len(l.LoadedPackages()), 0))

	_, err := l.Include(ctx, from, filepath.Join(envDir, "abs.fed"), "ignored")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(paths[3], filepath.Join(envDir, "abs.fed")))
}

func TestLoadedPackages(t *testing.T) {
	envDir, depotDir := fixture(t)
	l := newLoader(t, envDir, depotDir, recordingEvaluator())
	ctx := context.Background()

	_, ok := l.Loaded(ident.MustNew("Pub", uq))
	qt.Assert(t, qt.IsFalse(ok))

	h, err := l.Load(ctx, ident.Identity{}, "Pub")
	qt.Assert(t, qt.IsNil(err))

	got, ok := l.Loaded(ident.MustNew("Pub", uq))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(got, h))

	// The table is keyed by UUID, so the recorded name is irrelevant.
	got, ok = l.Loaded(ident.MustNew("Renamed", uq))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(got, h))

	_, err = l.Load(ctx, ident.Identity{}, "Priv")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.CmpEquals(l.LoadedPackages(),
		[]ident.Identity{ident.MustNew("Priv", up), ident.MustNew("Pub", uq)},
		cmpopts.SortSlices(func(a, b ident.Identity) bool {
			return a.String() < b.String()
		})))
}
