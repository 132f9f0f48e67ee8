// Package depot manages depots: the storage roots holding installed
// package source trees at content-addressed paths.
//
// A package with UUID id whose manifest records content hash h lives
// in a depot at packages/<name>/<slug(id, h)>/, with its entry source
// file at src/<name><suffix> inside that tree. The slug is stable
// across processes and machines, so a tree installed once can be
// shared by any number of environments and depots can be layered:
// resolution probes an ordered list of depots and takes the first
// tree found.
package depot

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"golang.org/x/mod/sumdb/dirhash"
)

// SlugLen is the length of the strings produced by Slug.
const SlugLen = 8

// slugSpace is 36**SlugLen.
const slugSpace = 2821109907456

// Slug maps a package UUID and the content hash of its source tree to
// a short directory name, deterministically across processes and
// machines. The result uses only lowercase letters and digits: paths
// differing only in case collide on case-insensitive filesystems, so
// the encoding never relies on case to distinguish two slugs.
func Slug(id uuid.UUID, treeHash string) string {
	h := sha256.New()
	h.Write(id[:])
	io.WriteString(h, treeHash)
	v := binary.BigEndian.Uint64(h.Sum(nil)[:8])
	s := strconv.FormatUint(v%slugSpace, 36)
	if len(s) < SlugLen {
		s = strings.Repeat("0", SlugLen-len(s)) + s
	}
	return s
}

// A List is an ordered sequence of depot directories. Earlier entries
// are probed first.
type List []string

// ParseList splits an OS path list of depot directories, such as the
// value of the FEDPKG_DEPOT_PATH environment variable. Empty entries
// are dropped. Duplicates keep their first position, since list order
// is probe order.
func ParseList(s string) List {
	var l List
	seen := make(map[string]bool)
	for _, dir := range filepath.SplitList(s) {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		l = append(l, dir)
	}
	return l
}

// Default returns the depot list used when no explicit configuration
// is given: a single depot in the user's data directory.
func Default() List {
	return List{filepath.Join(xdg.DataHome, "fedpkg", "depot")}
}

// PackageDir returns the directory within depot that holds the
// installed source tree named by nameHint and slug.
func PackageDir(depot, nameHint, slug string) string {
	return filepath.Join(depot, "packages", nameHint, slug)
}

// EntryFile returns the entry source file within the installed tree
// rooted at treeDir.
func EntryFile(treeDir, nameHint, suffix string) string {
	return filepath.Join(treeDir, "src", nameHint+suffix)
}

// Find probes each depot in order for the installed tree named by
// nameHint and slug and returns the entry source file of the first
// depot holding one. It returns "" when no depot does. A missing file
// is a miss; any other probe failure is returned as an error.
func (l List) Find(nameHint, slug, suffix string) (string, error) {
	for _, depot := range l {
		file := EntryFile(PackageDir(depot, nameHint, slug), nameHint, suffix)
		info, err := os.Stat(file)
		if err == nil {
			if info.IsDir() {
				continue
			}
			return file, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}

// FindDir probes each depot in order for the installed tree named by
// nameHint and slug and returns the tree directory of the first depot
// holding one, whether or not the tree contains an entry source file.
// It returns "" when no depot does.
func (l List) FindDir(nameHint, slug string) (string, error) {
	for _, depot := range l {
		dir := PackageDir(depot, nameHint, slug)
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				continue
			}
			return dir, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}

// ErrUnverifiable reports a recorded hash in a form that cannot be
// recomputed from an installed tree, such as a git tree SHA.
var ErrUnverifiable = errors.New("hash cannot be recomputed")

// TreeHash computes the content hash of the source tree rooted at dir,
// in the dirhash h1: form over tree-relative file names. Two trees
// with identical contents hash identically wherever they live, so the
// hash can be recorded in a manifest and checked against any install.
func TreeHash(dir string) (string, error) {
	return dirhash.HashDir(dir, "", dirhash.Hash1)
}

// Verify recomputes the tree hash of dir and compares it against the
// recorded hash want. Hashes not in the h1: form are reported as
// ErrUnverifiable.
func Verify(dir, want string) error {
	if !strings.HasPrefix(want, "h1:") {
		return fmt.Errorf("%q: %w", want, ErrUnverifiable)
	}
	got, err := TreeHash(dir)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("tree %s: computed %s, manifest records %s", dir, got, want)
	}
	return nil
}
