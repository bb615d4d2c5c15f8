package artifact

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/out/app.bin", want: "out/app.bin"},
		{in: "out/app.bin", want: "out/app.bin"},
		{in: "/a/../b", want: "b"},
		{in: "//double//slash", want: "double/slash"},
		{in: "/", want: ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddGet(t *testing.T) {
	s := New()
	s.Add("/out/app.bin", []byte("binary"), 0755)

	e, ok := s.Get("/out/app.bin")
	if !ok {
		t.Fatal("entry not found")
	}
	if string(e.Data) != "binary" {
		t.Fatalf("Data = %q, want binary", e.Data)
	}
	if e.Mode != 0755 {
		t.Fatalf("Mode = %o, want 0755", e.Mode)
	}
	if e.Digest == "" {
		t.Fatal("digest not computed on Add")
	}

	// Leading slash is immaterial.
	if _, ok := s.Get("out/app.bin"); !ok {
		t.Fatal("entry not found without leading slash")
	}
}

func TestContains(t *testing.T) {
	s := New()
	s.Add("/dist/index.html", []byte("<html>"), 0644)
	s.Add("/dist/assets/app.js", []byte("js"), 0644)

	if !s.Contains("/dist/index.html") {
		t.Fatal("file path not contained")
	}
	if !s.Contains("/dist") {
		t.Fatal("directory prefix not contained")
	}
	if !s.Contains("/dist/assets") {
		t.Fatal("nested directory prefix not contained")
	}
	if s.Contains("/dist/missing") {
		t.Fatal("missing path reported as contained")
	}
	if s.Contains("/di") {
		t.Fatal("partial name treated as directory prefix")
	}
}

func TestRebaseFile(t *testing.T) {
	s := New()
	s.Add("/out/app.bin", []byte("binary"), 0755)

	moved, err := s.Rebase("/out/app.bin", "/srv/app.bin")
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	e, ok := moved.Get("/srv/app.bin")
	if !ok {
		t.Fatal("rebased entry not found")
	}
	if string(e.Data) != "binary" || e.Mode != 0755 {
		t.Fatalf("rebased entry = %+v", e)
	}
}

func TestRebaseDirectory(t *testing.T) {
	s := New()
	s.Add("/dist/index.html", []byte("<html>"), 0644)
	s.Add("/dist/assets/app.js", []byte("js"), 0644)
	s.Add("/other/file", []byte("x"), 0644)

	moved, err := s.Rebase("/dist", "/srv/www")
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	if moved.Len() != 2 {
		t.Fatalf("Len = %d, want 2", moved.Len())
	}
	if _, ok := moved.Get("/srv/www/index.html"); !ok {
		t.Fatal("index.html not rebased")
	}
	if _, ok := moved.Get("/srv/www/assets/app.js"); !ok {
		t.Fatal("assets/app.js not rebased")
	}
	if _, ok := moved.Get("/other/file"); ok {
		t.Fatal("unrelated entry leaked into rebased set")
	}
}

func TestRebaseClonesData(t *testing.T) {
	s := New()
	s.Add("/out/app.bin", []byte("binary"), 0755)

	moved, err := s.Rebase("/out/app.bin", "/srv/app.bin")
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}

	orig, _ := s.Get("/out/app.bin")
	orig.Data[0] = 'X'

	e, _ := moved.Get("/srv/app.bin")
	if string(e.Data) != "binary" {
		t.Fatalf("rebased data aliased source storage: %q", e.Data)
	}
}

func TestRebaseNotFound(t *testing.T) {
	s := New()
	s.Add("/out/app.bin", []byte("binary"), 0755)

	if _, err := s.Rebase("/missing", "/dest"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMerge(t *testing.T) {
	a := New()
	a.Add("/x", []byte("old"), 0644)
	a.Add("/keep", []byte("keep"), 0644)

	b := New()
	b.Add("/x", []byte("new"), 0644)

	a.Merge(b)
	e, _ := a.Get("/x")
	if string(e.Data) != "new" {
		t.Fatalf("merge collision: Data = %q, want new", e.Data)
	}
	if _, ok := a.Get("/keep"); !ok {
		t.Fatal("merge dropped existing entry")
	}
}

func TestDigestDeterministic(t *testing.T) {
	build := func() *Set {
		s := New()
		s.Add("/b", []byte("bee"), 0644)
		s.Add("/a", []byte("ay"), 0644)
		return s
	}

	if build().Digest() != build().Digest() {
		t.Fatal("identical sets produced different digests")
	}

	other := build()
	other.Add("/c", []byte("cee"), 0644)
	if build().Digest() == other.Digest() {
		t.Fatal("different sets produced the same digest")
	}
}

func TestFromDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dist", "assets"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "dist", "index.html"), []byte("<html>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "dist", "assets", "app.js"), []byte("js"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app.bin"), []byte("binary"), 0755); err != nil {
		t.Fatal(err)
	}

	s, err := FromDir(root, []string{"/dist", "/app.bin"})
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if _, ok := s.Get("/dist/index.html"); !ok {
		t.Fatal("dist/index.html not harvested")
	}
	if _, ok := s.Get("/dist/assets/app.js"); !ok {
		t.Fatal("dist/assets/app.js not harvested")
	}
	e, ok := s.Get("/app.bin")
	if !ok {
		t.Fatal("app.bin not harvested")
	}
	if e.Mode != 0755 {
		t.Fatalf("app.bin Mode = %o, want 0755", e.Mode)
	}
}

func TestFromDirMissingDeclared(t *testing.T) {
	root := t.TempDir()
	if _, err := FromDir(root, []string{"/missing"}); err == nil {
		t.Fatal("expected error for missing declared artifact")
	}
}

func TestWriteDirRoundTrip(t *testing.T) {
	s := New()
	s.Add("/dist/index.html", []byte("<html>"), 0644)
	s.Add("/app.bin", []byte("binary"), 0755)

	root := t.TempDir()
	if err := s.WriteDir(root); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}

	back, err := FromDir(root, []string{"/dist", "/app.bin"})
	if err != nil {
		t.Fatalf("FromDir: %v", err)
	}
	if back.Digest() != s.Digest() {
		t.Fatalf("round trip digest mismatch: %s != %s", back.Digest(), s.Digest())
	}
}

func TestTarRoundTrip(t *testing.T) {
	s := New()
	s.Add("/srv/www/index.html", []byte("<html>"), 0644)
	s.Add("/srv/www/app.js", []byte("js"), 0755)

	var buf bytes.Buffer
	if err := s.WriteTar(&buf); err != nil {
		t.Fatalf("WriteTar: %v", err)
	}

	back, err := ReadTar(&buf, "/")
	if err != nil {
		t.Fatalf("ReadTar: %v", err)
	}
	if back.Digest() != s.Digest() {
		t.Fatalf("round trip digest mismatch: %s != %s", back.Digest(), s.Digest())
	}
}

func TestReadTarPrefix(t *testing.T) {
	s := New()
	s.Add("www/index.html", []byte("<html>"), 0644)

	var buf bytes.Buffer
	if err := s.WriteTar(&buf); err != nil {
		t.Fatalf("WriteTar: %v", err)
	}

	back, err := ReadTar(&buf, "/srv")
	if err != nil {
		t.Fatalf("ReadTar: %v", err)
	}
	if _, ok := back.Get("/srv/www/index.html"); !ok {
		t.Fatalf("entries = %v, want srv/www/index.html", back.Paths())
	}
}
