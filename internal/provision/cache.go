package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/cruciblehq/slipway/internal/paths"
)

var ErrProvision = errors.New("provisioning failed")

const (

	// Marker file written after an environment is fully populated.
	// Entries without it are treated as absent.
	readyMarker = ".ready"

	// Poll interval while waiting for another process's writer lock.
	lockPoll = 100 * time.Millisecond
)

// Caches base environments shared read-only across pipeline runs.
//
// An environment reference is either a local directory (used in place,
// never cached), a local archive, or an http(s) URL to an archive.
// Archives are fetched and unpacked once into the cache directory,
// keyed by a hash of the reference. Population happens under a
// single-writer discipline: an in-process singleflight group collapses
// concurrent requests for the same reference, and an on-disk lock file
// excludes concurrent writer processes. Entries are never removed
// implicitly; Clear tears the cache down explicitly.
type Cache struct {
	dir      string
	maxTries uint
	client   *http.Client

	mu    sync.RWMutex
	group singleflight.Group
}

// Creates a cache rooted at dir. An empty dir uses the default XDG
// cache location. maxTries bounds fetch attempts per environment.
func NewCache(dir string, maxTries uint) *Cache {
	if dir == "" {
		dir = paths.EnvironmentCache()
	}
	if maxTries == 0 {
		maxTries = 3
	}
	return &Cache{
		dir:      dir,
		maxTries: maxTries,
		client:   &http.Client{},
	}
}

// Resolves a base environment reference to a local directory, fetching
// and unpacking it into the cache when necessary.
//
// Transient fetch failures are retried with exponential backoff up to
// the cache's attempt bound; exhausting the retries fails with
// [ErrProvision]. Cancelling the context aborts an in-flight fetch.
func (c *Cache) Ensure(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	// Local directories are used in place.
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref, nil
	}

	key := cacheKey(ref)
	target := filepath.Join(c.dir, key)

	c.mu.RLock()
	ready := isReady(target)
	c.mu.RUnlock()
	if ready {
		return target, nil
	}

	dir, err, _ := c.group.Do(key, func() (any, error) {
		return target, c.populate(ctx, ref, target)
	})
	if err != nil {
		return "", err
	}
	return dir.(string), nil
}

// Removes every cached environment.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.RemoveAll(c.dir)
}

// Fetches and unpacks an environment under the writer lock.
func (c *Cache) populate(ctx context.Context, ref, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrProvision, err)
	}

	unlock, err := c.lockEntry(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	// Another process may have populated the entry while we waited.
	if isReady(target) {
		return nil
	}

	archive, cleanup, err := c.fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer cleanup()

	staging := target + ".partial"
	os.RemoveAll(staging)
	if err := unpackArchive(archive, staging); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: unpack %s: %w", ErrProvision, ref, err)
	}

	if err := os.WriteFile(filepath.Join(staging, readyMarker), nil, paths.DefaultFileMode); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: %w", ErrProvision, err)
	}

	os.RemoveAll(target)
	if err := os.Rename(staging, target); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("%w: %w", ErrProvision, err)
	}
	return nil
}

// Acquires the on-disk writer lock for a cache entry, waiting for a
// concurrent writer process to release it.
func (c *Cache) lockEntry(ctx context.Context, target string) (func(), error) {
	lock := target + ".lock"
	for {
		f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, paths.DefaultFileMode)
		if err == nil {
			f.Close()
			return func() { os.Remove(lock) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %w", ErrProvision, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

// Resolves a reference to a local archive file, downloading it first
// when the reference is a URL.
//
// Returns the archive path and a cleanup function for any temporary
// download.
func (c *Cache) fetch(ctx context.Context, ref string) (string, func(), error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if _, err := os.Stat(ref); err != nil {
			return "", nil, fmt.Errorf("%w: base environment %s: %w", ErrProvision, ref, err)
		}
		return ref, func() {}, nil
	}

	path, err := backoff.Retry(ctx, func() (string, error) {
		return c.download(ctx, ref)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("%w: fetch %s: %w", ErrProvision, ref, err)
	}
	return path, func() { os.Remove(path) }, nil
}

// Downloads a URL to a temporary file.
//
// Server errors are returned as retryable; client errors (4xx) are
// permanent since retrying cannot help.
func (c *Cache) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp("", "slipway-fetch-*")
	if err != nil {
		return "", backoff.Permanent(err)
	}

	if _, err := f.ReadFrom(resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Reports whether a cache entry is fully populated.
func isReady(target string) bool {
	_, err := os.Stat(filepath.Join(target, readyMarker))
	return err == nil
}

// Derives the cache directory key for a reference.
func cacheKey(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:16])
}
