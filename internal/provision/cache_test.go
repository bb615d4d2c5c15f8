package provision

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// Builds a gzip-compressed tar archive from path -> content pairs.
func archiveBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0755,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "env.tgz")
	if err := os.WriteFile(path, archiveBytes(t, files), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEnsureEmptyRef(t *testing.T) {
	c := NewCache(t.TempDir(), 0)
	dir, err := c.Ensure(context.Background(), "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if dir != "" {
		t.Fatalf("dir = %q, want empty", dir)
	}
}

func TestEnsureLocalDirectory(t *testing.T) {
	c := NewCache(t.TempDir(), 0)

	ref := t.TempDir()
	dir, err := c.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if dir != ref {
		t.Fatalf("dir = %q, want %q (used in place)", dir, ref)
	}
}

func TestEnsureLocalArchive(t *testing.T) {
	c := NewCache(t.TempDir(), 0)
	ref := writeArchive(t, map[string]string{"bin/tool": "#!/bin/sh\n"})

	dir, err := c.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "bin", "tool")); err != nil {
		t.Fatalf("unpacked tool missing: %v", err)
	}
	if !isReady(dir) {
		t.Fatal("populated entry not marked ready")
	}
}

func TestEnsureMissingLocalArchive(t *testing.T) {
	c := NewCache(t.TempDir(), 0)
	_, err := c.Ensure(context.Background(), filepath.Join(t.TempDir(), "absent.tgz"))
	if !errors.Is(err, ErrProvision) {
		t.Fatalf("err = %v, want ErrProvision", err)
	}
}

func TestEnsureDownloadCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(archiveBytes(t, map[string]string{"tool": "x"}))
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), 0)

	first, err := c.Ensure(context.Background(), srv.URL+"/env.tgz")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := c.Ensure(context.Background(), srv.URL+"/env.tgz")
	if err != nil {
		t.Fatalf("Ensure (cached): %v", err)
	}

	if first != second {
		t.Fatalf("cache returned different dirs: %q != %q", first, second)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestEnsureRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(archiveBytes(t, map[string]string{"tool": "x"}))
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), 3)

	dir, err := c.Ensure(context.Background(), srv.URL+"/env.tgz")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tool")); err != nil {
		t.Fatalf("unpacked tool missing: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hits = %d, want 3", hits.Load())
	}
}

func TestEnsureClientErrorPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), 5)

	_, err := c.Ensure(context.Background(), srv.URL+"/env.tgz")
	if !errors.Is(err, ErrProvision) {
		t.Fatalf("err = %v, want ErrProvision", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1 (no retries on 4xx)", hits.Load())
	}
}

func TestEnsureDeadlineDuringDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer srv.Close()

	c := NewCache(t.TempDir(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.Ensure(ctx, srv.URL+"/env.tgz")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestClear(t *testing.T) {
	cacheDir := t.TempDir()
	c := NewCache(cacheDir, 0)

	ref := writeArchive(t, map[string]string{"tool": "x"})
	dir, err := c.Ensure(context.Background(), ref)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("cache entry survived Clear")
	}
}

func TestUnpackRejectsTraversal(t *testing.T) {
	archive := writeArchive(t, map[string]string{"../evil": "x"})
	if err := unpackArchive(archive, filepath.Join(t.TempDir(), "dest")); err == nil {
		t.Fatal("expected error for escaping entry")
	}
}

func TestCacheKeyStable(t *testing.T) {
	if cacheKey("https://example.com/a.tgz") != cacheKey("https://example.com/a.tgz") {
		t.Fatal("cache key not deterministic")
	}
	if cacheKey("a") == cacheKey("b") {
		t.Fatal("distinct refs collide")
	}
}
