package blobcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

// ErrNotCached is returned by Lookup when no entry exists for a key.
var ErrNotCached = errors.New("blob not cached")

// errInvalidated reports a fetch that outlived an InvalidateAll. The result
// is discarded; the next Get fetches fresh.
var errInvalidated = errors.New("cache invalidated during fetch")

// Category distinguishes attachment kinds.
type Category string

const (
	// CategoryImage is an image attachment.
	CategoryImage Category = "image"
	// CategoryVideo is a video attachment.
	CategoryVideo Category = "video"
)

// PathSegment returns the URL path segment for the category.
func (c Category) PathSegment() string {
	switch c {
	case CategoryImage:
		return "images"
	case CategoryVideo:
		return "videos"
	default:
		return string(c)
	}
}

// Key identifies one cached attachment.
type Key struct {
	// DiscussionID scopes the attachment to its discussion.
	DiscussionID string
	// Category is the attachment kind.
	Category Category
	// Filename is the attachment filename.
	Filename string
}

// String renders the key for logs and singleflight grouping.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DiscussionID, k.Category.PathSegment(), k.Filename)
}

// Blob is a locally-held binary attachment.
type Blob struct {
	// Data is the raw content.
	Data []byte
	// ContentType is the server-reported media type.
	ContentType string
}

// FetchFunc performs one authenticated binary fetch for a key.
type FetchFunc func(ctx context.Context, key Key) (*Blob, error)

// Cache maps attachment keys to locally-held blobs, fetching each key at most
// once. Concurrent requests for the same key join the in-flight fetch instead
// of starting a second one. A failed fetch caches nothing; the next Get for
// the key fetches again.
type Cache struct {
	fetch FetchFunc

	mu      sync.Mutex
	gen     uint64
	entries map[Key]*Blob
	onReady func(Key)

	group singleflight.Group
}

// New creates an empty cache backed by fetch.
func New(fetch FetchFunc) *Cache {
	return &Cache{
		fetch:   fetch,
		entries: make(map[Key]*Blob),
	}
}

// OnReady registers a callback invoked whenever a fetch completes and an
// entry becomes available. It runs on the fetching goroutine.
func (c *Cache) OnReady(fn func(Key)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = fn
}

// Get returns the cached blob for key, fetching it when absent.
func (c *Cache) Get(ctx context.Context, key Key) (*Blob, error) {
	c.mu.Lock()
	if blob, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return blob, nil
	}
	gen := c.gen
	c.mu.Unlock()

	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		blob, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An InvalidateAll while the fetch ran means the session that asked
		// for this blob is gone; installing it now would leak the entry.
		if c.gen != gen {
			c.mu.Unlock()
			return nil, errInvalidated
		}
		// Do not clobber an entry installed while the fetch ran.
		if existing, ok := c.entries[key]; ok {
			blob = existing
		} else {
			c.entries[key] = blob
		}
		ready := c.onReady
		c.mu.Unlock()
		if ready != nil {
			ready(key)
		}
		return blob, nil
	})
	if err != nil {
		logger.Debugf("blob fetch %s failed: %v", key, err)
		return nil, fmt.Errorf("fetch blob %s: %w", key, err)
	}
	return value.(*Blob), nil
}

// Lookup returns the cached blob without fetching. Missing keys return
// ErrNotCached.
func (c *Cache) Lookup(key Key) (*Blob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blob, ok := c.entries[key]
	if !ok {
		return nil, ErrNotCached
	}
	return blob, nil
}

// Has reports whether an entry exists for key.
func (c *Cache) Has(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// InvalidateAll releases every held blob and clears the key space. Called on
// session teardown.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for key, blob := range c.entries {
		blob.Data = nil
		delete(c.entries, key)
	}
}
