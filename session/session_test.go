package session

import (
	"testing"
	"time"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	"github.com/NationalGalleryOfArt/iipsrv-go/metadatacache"
)

func TestNewInitializesHeaders(t *testing.T) {
	s := New()
	if s.Headers == nil {
		t.Fatal("Headers = nil, want initialized map")
	}
}

func TestBindDescriptorRecordsLastModified(t *testing.T) {
	lm := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &core.ImageDescriptor{LastModified: lm}
	cache := metadatacache.New(10)
	cache.Put("key", d)
	got, _ := cache.Get("key")

	s := New()
	s.BindDescriptor(got, cache, "key")
	if !s.LastModified.Equal(lm) {
		t.Fatalf("LastModified = %v, want %v", s.LastModified, lm)
	}
}

func TestCloseReleasesBorrowExactlyOnce(t *testing.T) {
	d := &core.ImageDescriptor{}
	cache := metadatacache.New(1)
	cache.Put("key", d)
	got, _ := cache.Get("key")

	s := New()
	s.BindDescriptor(got, cache, "key")
	s.Close()
	s.Close() // idempotent

	// a second Put at capacity 1 should now be free to evict the unborrowed entry
	cache.Put("other", &core.ImageDescriptor{})
	if _, ok := cache.Get("key"); ok {
		t.Fatal("Get(key) ok = true after eviction, want false")
	}
}

func TestCloseWithoutBindIsNoop(t *testing.T) {
	s := New()
	s.Close() // must not panic
}

func TestLog1Accumulates(t *testing.T) {
	s := New()
	s.Log1("a")
	s.Log1("b")
	if len(s.Log) != 2 {
		t.Fatalf("len(Log) = %d, want 2", len(s.Log))
	}
}
