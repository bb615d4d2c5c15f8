package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	ErrNotFound = errors.New("path not found in artifact set")
)

// A single file within an artifact set.
type Entry struct {
	Data   []byte        // File contents.
	Mode   fs.FileMode   // Permission bits.
	Digest digest.Digest // Content digest, computed when the entry is added.
}

// The filesystem output of a successful stage, addressable by path.
//
// Entries are keyed by slash-separated paths relative to the stage
// root; the leading "/" of declared artifact paths is stripped. A set
// is created by exactly one stage run and must be treated as immutable
// once the stage completes. Copies out of a set (Rebase) never alias
// entry storage.
type Set struct {
	entries map[string]Entry
}

// Creates an empty artifact set.
func New() *Set {
	return &Set{entries: make(map[string]Entry)}
}

// Normalizes a declared or transfer path to the set's key form.
func Normalize(p string) string {
	p = path.Clean("/" + filepath.ToSlash(p))
	return strings.TrimPrefix(p, "/")
}

// Adds a file entry, computing its content digest.
func (s *Set) Add(p string, data []byte, mode fs.FileMode) {
	s.entries[Normalize(p)] = Entry{
		Data:   data,
		Mode:   mode,
		Digest: digest.FromBytes(data),
	}
}

// Returns the entry for an exact file path.
func (s *Set) Get(p string) (Entry, bool) {
	e, ok := s.entries[Normalize(p)]
	return e, ok
}

// Reports whether the set contains the path, either as a file or as a
// directory prefix of stored entries.
func (s *Set) Contains(p string) bool {
	key := Normalize(p)
	if key == "" {
		return len(s.entries) > 0
	}
	if _, ok := s.entries[key]; ok {
		return true
	}
	prefix := key + "/"
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Returns the sorted entry paths.
func (s *Set) Paths() []string {
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Returns the number of file entries.
func (s *Set) Len() int {
	return len(s.entries)
}

// Copies the entries under src into a new set rooted at dest.
//
// src may name a single file or a directory prefix. Entry data is
// cloned so the returned set shares no storage with the receiver.
// Returns [ErrNotFound] when src matches nothing.
func (s *Set) Rebase(src, dest string) (*Set, error) {
	srcKey := Normalize(src)
	destKey := Normalize(dest)

	out := New()
	for k, e := range s.entries {
		var target string
		switch {
		case k == srcKey:
			target = destKey
		case srcKey == "" || strings.HasPrefix(k, srcKey+"/"):
			target = path.Join(destKey, strings.TrimPrefix(k, srcKey+"/"))
		default:
			continue
		}
		out.entries[target] = Entry{
			Data:   append([]byte(nil), e.Data...),
			Mode:   e.Mode,
			Digest: e.Digest,
		}
	}

	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	return out, nil
}

// Merges another set's entries into this one. Later entries win on
// path collision.
func (s *Set) Merge(other *Set) {
	for k, e := range other.entries {
		s.entries[k] = e
	}
}

// Computes a canonical digest over the whole set.
//
// The digest covers the sorted entry paths and their content digests,
// so two sets with byte-identical contents at identical paths always
// produce the same value.
func (s *Set) Digest() digest.Digest {
	var b strings.Builder
	for _, p := range s.Paths() {
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(s.entries[p].Digest.String())
		b.WriteByte(0)
	}
	return digest.FromString(b.String())
}

// Harvests the declared artifact paths from a stage root directory.
//
// Each declared path is resolved within root (the leading "/" of the
// declaration addresses the stage root). A declared file becomes one
// entry; a declared directory contributes every regular file beneath
// it. A declared path that does not exist yields an error naming it.
func FromDir(root string, declared []string) (*Set, error) {
	out := New()
	for _, decl := range declared {
		key := Normalize(decl)
		host := filepath.Join(root, filepath.FromSlash(key))

		info, err := os.Stat(host)
		if err != nil {
			return nil, fmt.Errorf("declared artifact %s: %w", decl, err)
		}

		if !info.IsDir() {
			data, err := os.ReadFile(host)
			if err != nil {
				return nil, fmt.Errorf("declared artifact %s: %w", decl, err)
			}
			out.Add(key, data, info.Mode().Perm())
			continue
		}

		err = filepath.WalkDir(host, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(host, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			out.Add(path.Join(key, filepath.ToSlash(rel)), data, info.Mode().Perm())
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("declared artifact %s: %w", decl, err)
		}
	}
	return out, nil
}

// Materializes the set's entries under a root directory.
func (s *Set) WriteDir(root string) error {
	for _, p := range s.Paths() {
		e := s.entries[p]
		host := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(host), 0755); err != nil {
			return fmt.Errorf("materialize %s: %w", p, err)
		}
		mode := e.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(host, e.Data, mode); err != nil {
			return fmt.Errorf("materialize %s: %w", p, err)
		}
	}
	return nil
}
