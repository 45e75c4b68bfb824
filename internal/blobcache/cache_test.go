package blobcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGet_FetchesOnceAndCaches(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		fetches.Add(1)
		return &Blob{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg"}, nil
	})

	key := Key{DiscussionID: "d1", Category: CategoryImage, Filename: "a.jpg"}

	blob, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, []byte("jpeg-bytes"), blob.Data)

	_, err = cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int32(1), fetches.Load())
	require.True(t, cache.Has(key))
}

func TestGet_ConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		if fetches.Add(1) == 1 {
			close(started)
		}
		<-release
		return &Blob{Data: []byte("x"), ContentType: "image/png"}, nil
	})

	key := Key{DiscussionID: "d1", Category: CategoryImage, Filename: "a.png"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob, err := cache.Get(context.Background(), key)
			require.NoError(t, err)
			require.NotNil(t, blob)
		}()
	}

	<-started
	// Give the remaining goroutines time to join the in-flight fetch.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), fetches.Load())
}

func TestGet_FailureNotCachedAndRetriable(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		if fetches.Add(1) == 1 {
			return nil, fmt.Errorf("server unhappy")
		}
		return &Blob{Data: []byte("ok"), ContentType: "video/mp4"}, nil
	})

	key := Key{DiscussionID: "d1", Category: CategoryVideo, Filename: "v.mp4"}

	_, err := cache.Get(context.Background(), key)
	require.Error(t, err)
	require.False(t, cache.Has(key))

	blob, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), blob.Data)
	require.Equal(t, int32(2), fetches.Load())
}

func TestGet_FailureDoesNotPoisonOtherKeys(t *testing.T) {
	t.Parallel()

	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		if key.Filename == "bad.jpg" {
			return nil, fmt.Errorf("no such file")
		}
		return &Blob{Data: []byte("fine")}, nil
	})

	_, err := cache.Get(context.Background(), Key{DiscussionID: "d1", Category: CategoryImage, Filename: "bad.jpg"})
	require.Error(t, err)

	blob, err := cache.Get(context.Background(), Key{DiscussionID: "d1", Category: CategoryImage, Filename: "good.jpg"})
	require.NoError(t, err)
	require.Equal(t, []byte("fine"), blob.Data)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		return &Blob{Data: []byte("x")}, nil
	})
	key := Key{DiscussionID: "d1", Category: CategoryImage, Filename: "a.jpg"}

	_, err := cache.Lookup(key)
	require.ErrorIs(t, err, ErrNotCached)

	_, err = cache.Get(context.Background(), key)
	require.NoError(t, err)

	blob, err := cache.Lookup(key)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), blob.Data)
}

func TestInvalidateAll_ClearsKeySpace(t *testing.T) {
	t.Parallel()

	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		return &Blob{Data: []byte("x")}, nil
	})

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := cache.Get(context.Background(), Key{DiscussionID: "d1", Category: CategoryImage, Filename: name})
		require.NoError(t, err)
	}
	require.Equal(t, 3, cache.Len())

	cache.InvalidateAll()
	require.Equal(t, 0, cache.Len())
	require.False(t, cache.Has(Key{DiscussionID: "d1", Category: CategoryImage, Filename: "a.jpg"}))
}

func TestInvalidateAll_DiscardsInFlightFetch(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		close(started)
		<-release
		return &Blob{Data: []byte("stale"), ContentType: "image/jpeg"}, nil
	})

	var readyFired atomic.Bool
	cache.OnReady(func(Key) { readyFired.Store(true) })

	key := Key{DiscussionID: "d1", Category: CategoryImage, Filename: "a.jpg"}

	errCh := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), key)
		errCh <- err
	}()

	<-started
	cache.InvalidateAll()
	close(release)

	// The fetch completed after teardown, so its result must not be
	// installed or announced.
	require.Error(t, <-errCh)
	require.False(t, cache.Has(key))
	require.Equal(t, 0, cache.Len())
	require.False(t, readyFired.Load())
}

func TestOnReady_FiresPerCompletedFetch(t *testing.T) {
	t.Parallel()

	cache := New(func(ctx context.Context, key Key) (*Blob, error) {
		if key.Filename == "bad.jpg" {
			return nil, fmt.Errorf("nope")
		}
		return &Blob{Data: []byte("x")}, nil
	})

	var mu sync.Mutex
	var ready []string
	cache.OnReady(func(key Key) {
		mu.Lock()
		ready = append(ready, key.Filename)
		mu.Unlock()
	})

	_, _ = cache.Get(context.Background(), Key{DiscussionID: "d1", Category: CategoryImage, Filename: "bad.jpg"})
	_, err := cache.Get(context.Background(), Key{DiscussionID: "d1", Category: CategoryImage, Filename: "good.jpg"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"good.jpg"}, ready)
}

func TestCategoryPathSegment(t *testing.T) {
	t.Parallel()

	require.Equal(t, "images", CategoryImage.PathSegment())
	require.Equal(t, "videos", CategoryVideo.PathSegment())
}
