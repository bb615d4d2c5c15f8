package artifact

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
)

// Writes the set's entries as a tar stream.
//
// Entry paths are emitted relative to the stage root, so extracting the
// stream at a container's "/" reproduces the set's layout. Parent
// directories are implied rather than written as explicit entries.
func (s *Set) WriteTar(w io.Writer) error {
	tw := tar.NewWriter(w)
	for _, p := range s.Paths() {
		e := s.entries[p]
		mode := e.Mode
		if mode == 0 {
			mode = 0644
		}
		hdr := &tar.Header{
			Name: p,
			Mode: int64(mode.Perm()),
			Size: int64(len(e.Data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar %s: %w", p, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("tar %s: %w", p, err)
		}
	}
	return tw.Close()
}

// Reads a tar stream into a set, rooting every entry under prefix.
//
// Directory entries and non-regular files are skipped. The prefix is
// the path the archived tree was read from, so the resulting entries
// use the same addressing as declared artifact paths.
func ReadTar(r io.Reader, prefix string) (*Set, error) {
	out := New()
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
		}
		out.Add(path.Join(Normalize(prefix), Normalize(hdr.Name)), data, hdr.FileInfo().Mode().Perm())
	}
	return out, nil
}
