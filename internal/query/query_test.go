package query

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(calls *atomic.Int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n := calls.Add(1)
		return value + "#" + string(rune('0'+n)), nil
	}
}

func TestKeys(t *testing.T) {
	params := url.Values{"status": {"active"}, "page": {"2"}}
	assert.Equal(t, "members/org-1/list/page=2&status=active", ListKey("members", "org-1", params).String())
	assert.Equal(t, "members/org-1/list/", ListKey("members", "org-1", nil).String())
	assert.Equal(t, "members/org-1/detail/m-1", DetailKey("members", "org-1", "m-1").String())

	assert.True(t, DetailKey("members", "org-1", "m-1").HasPrefix(ResourceKey("members", "org-1")))
	assert.True(t, ListKey("members", "org-1", params).HasPrefix(ListPrefix("members", "org-1")))
	assert.False(t, DetailKey("members", "org-1", "m-1").HasPrefix(ListPrefix("members", "org-1")))
	assert.True(t, SearchKey("members", "org-1", url.Values{"q": {"ru"}}).HasPrefix(ListPrefix("members", "org-1")))
	assert.False(t, ListKey("members", "org-10", nil).HasPrefix(ResourceKey("members", "org-1")))
}

func TestFetch_ServesFreshEntries(t *testing.T) {
	cache := NewCache(Config{StaleTime: time.Minute})
	var calls atomic.Int32
	key := ListKey("members", "org-1", nil)

	first, err := Fetch(context.Background(), cache, key, counter(&calls, "list"))
	require.NoError(t, err)
	second, err := Fetch(context.Background(), cache, key, counter(&calls, "list"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RefetchesAfterStaleTime(t *testing.T) {
	cache := NewCache(Config{StaleTime: time.Minute})
	now := time.Now()
	cache.now = func() time.Time { return now }
	var calls atomic.Int32
	key := DetailKey("ministers", "org-1", "x")

	_, _ = Fetch(context.Background(), cache, key, counter(&calls, "detail"))
	now = now.Add(2 * time.Minute)
	_, _ = Fetch(context.Background(), cache, key, counter(&calls, "detail"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvalidate_MarksOnlyMatchingEntries(t *testing.T) {
	cache := NewCache(Config{})
	ctx := context.Background()
	var calls atomic.Int32

	list := ListKey("members", "org-1", nil)
	detail := DetailKey("members", "org-1", "m-1")
	other := ListKey("ministers", "org-1", nil)
	for _, key := range []Key{list, detail, other} {
		_, err := Fetch(ctx, cache, key, counter(&calls, key.String()))
		require.NoError(t, err)
	}

	cache.Invalidate(ListPrefix("members", "org-1"))

	_, stale, ok := cache.Peek(list)
	assert.True(t, ok)
	assert.True(t, stale)
	_, stale, _ = cache.Peek(detail)
	assert.False(t, stale)
	_, stale, _ = cache.Peek(other)
	assert.False(t, stale)

	_, _ = Fetch(ctx, cache, list, counter(&calls, "list"))
	assert.Equal(t, int32(4), calls.Load(), "stale list must be refetched")
}

func TestRemove(t *testing.T) {
	cache := NewCache(Config{})
	key := DetailKey("users", "org-1", "u-1")
	cache.Set(key, "user")
	cache.Remove(key)
	_, _, ok := cache.Peek(key)
	assert.False(t, ok)
}

func TestFetch_StartedBeforeInvalidationIsNotStored(t *testing.T) {
	cache := NewCache(Config{})
	key := ListKey("members", "org-1", nil)
	release := make(chan struct{})
	started := make(chan struct{})

	done := make(chan string, 1)
	go func() {
		v, _ := Fetch(context.Background(), cache, key, func(context.Context) (string, error) {
			close(started)
			<-release
			return "before-write", nil
		})
		done <- v
	}()

	<-started
	cache.Invalidate(ListPrefix("members", "org-1"))

	after, err := Fetch(context.Background(), cache, key, func(context.Context) (string, error) {
		return "after-write", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "after-write", after, "reads after a write never join an older flight")

	close(release)
	assert.Equal(t, "before-write", <-done)

	cached, _, ok := cache.Peek(key)
	require.True(t, ok)
	assert.Equal(t, "after-write", cached)
}

func TestFetch_ErrorsAreNotCached(t *testing.T) {
	cache := NewCache(Config{})
	key := DetailKey("members", "org-1", "m-404")
	_, err := Fetch(context.Background(), cache, key, func(context.Context) (string, error) {
		return "", errors.New("not found")
	})
	assert.Error(t, err)
	assert.Zero(t, cache.Len())
}

func TestFetch_CallerCancellation(t *testing.T) {
	cache := NewCache(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fetch(ctx, cache, DetailKey("x", "y", "z"), func(context.Context) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPurge(t *testing.T) {
	cache := NewCache(Config{})
	cache.Set(DetailKey("members", "org-1", "1"), 1)
	cache.Set(DetailKey("members", "org-2", "1"), 1)
	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestView_AppliesOnlyLatestLoad(t *testing.T) {
	var view View[[]string]
	slow := make(chan struct{})
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		done <- view.Load(ctx, ListKey("members", "org-1", url.Values{"search": {"ru"}}), func(context.Context) ([]string, error) {
			<-slow
			return []string{"Ruth"}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	applied := view.Load(ctx, ListKey("members", "org-1", url.Values{"search": {"bo"}}), func(context.Context) ([]string, error) {
		return []string{"Boaz"}, nil
	})
	assert.True(t, applied)
	close(slow)
	assert.False(t, <-done, "superseded filter response must be dropped")

	data, status, err := view.State()
	assert.Equal(t, []string{"Boaz"}, data)
	assert.Equal(t, StatusSuccess, status)
	assert.NoError(t, err)
	assert.Equal(t, "members/org-1/list/search=bo", view.Key())
}

func TestView_DropsStaleAndKeepsErrorsDistinct(t *testing.T) {
	var view View[[]string]
	ctx := context.Background()
	key := ListKey("members", "org-1", nil)

	view.Load(ctx, key, func(context.Context) ([]string, error) { return []string{"Ruth"}, nil })

	applied := view.Load(ctx, key, func(context.Context) ([]string, error) { return nil, ErrStale })
	assert.False(t, applied)
	data, _, _ := view.State()
	assert.Equal(t, []string{"Ruth"}, data)

	applied = view.Load(ctx, key, func(context.Context) ([]string, error) { return nil, errors.New("network") })
	assert.True(t, applied)
	_, status, err := view.State()
	assert.Equal(t, StatusError, status)
	assert.Error(t, err)

	view.Load(ctx, key, func(context.Context) ([]string, error) { return []string{}, nil })
	data, status, _ = view.State()
	assert.Equal(t, StatusSuccess, status, "an empty result is not an error")
	assert.Empty(t, data)
}
