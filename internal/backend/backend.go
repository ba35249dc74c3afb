// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backend declares the narrow capability set every
// format-specific parser must satisfy (spec.md §4.2) and the
// process-wide registry that maps a format tag to the backend
// providing it.
package backend

import (
	"time"

	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/pkg/lrucache"
)

// statsCacheMaxmemory bounds the registry's GetStats cache. Entries
// are tiny (mtime+size), so this comfortably holds stats for a large
// working set without the cache itself becoming a memory concern.
const statsCacheMaxmemory = 1 << 20

// Stats is the (mtime, size) pair a backend reports for a path.
type Stats struct {
	MTime time.Time
	Size  int64
}

// Backend is the capability set of §4.2: enumerate the formats it
// provides, detect a format from a byte sniff, stat a file, and
// lazily yield the nuts a file exposes.
type Backend interface {
	// ProvidedFormats enumerates the format tags this backend serves.
	ProvidedFormats() []string

	// Detect returns the format tag this backend recognizes in the
	// given sniff (the first <=512 bytes of a file), or "" if none.
	// Must be fast and side-effect-free.
	Detect(sniff []byte) string

	// GetStats returns the current (mtime, size) of path, or a
	// *model.FileLoadError if the file cannot be accessed.
	GetStats(path string) (Stats, error)

	// ILoad lazily yields the nuts exposed by path under the given
	// format tag. If segment is non-nil, only that segment's nuts are
	// produced. contentKinds names the kinds for which the payload
	// should be attached to the yielded nut.
	//
	// yield is called once per nut; returning a non-nil error from
	// yield stops iteration early without it being treated as a file
	// error.
	ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error
}

// Registry maps a format tag to the backend providing it. Tag
// collisions are resolved in favor of whichever backend registered
// first, mirroring the kind-dispatch table cc-backend builds for its
// metric-data repositories.
type Registry struct {
	order      []Backend
	byFormat   map[string]Backend
	statsCache *lrucache.Cache
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byFormat:   make(map[string]Backend),
		statsCache: lrucache.New(statsCacheMaxmemory),
	}
}

// Register adds b to the registry, polling ProvidedFormats once.
// Formats already claimed by an earlier backend are left untouched.
func (r *Registry) Register(b Backend) {
	r.order = append(r.order, b)
	for _, f := range b.ProvidedFormats() {
		if _, exists := r.byFormat[f]; !exists {
			r.byFormat[f] = b
		}
	}
}

// Lookup returns the backend registered for format, if any.
func (r *Registry) Lookup(format string) (Backend, bool) {
	b, ok := r.byFormat[format]
	return b, ok
}

// Detect asks every backend, in registration order, to recognize the
// sniff. Returns the format tag and backend of the first one that
// claims it, or ("", nil, false).
func (r *Registry) Detect(sniff []byte) (string, Backend, bool) {
	for _, b := range r.order {
		if format := b.Detect(sniff); format != "" {
			return format, b, true
		}
	}
	return "", nil, false
}

// statsCacheTTL bounds how stale a cached GetStats result may be.
// Short enough that a file changed mid-run is still noticed by the
// next ingest pass, long enough to absorb the repeated stat calls a
// single ingest burst makes against the same path.
const statsCacheTTL = 2 * time.Second

// CachedGetStats wraps b.GetStats(path) with a short-lived cache
// shared across all backends in the registry, so a revalidation pass
// that visits the same path more than once within the TTL costs one
// syscall instead of many.
func (r *Registry) CachedGetStats(b Backend, path string) (Stats, error) {
	type result struct {
		stats Stats
		err   error
	}
	v := r.statsCache.Get(path, func() (interface{}, time.Duration, int) {
		stats, err := b.GetStats(path)
		return result{stats, err}, statsCacheTTL, 1
	})
	res := v.(result)
	return res.stats, res.err
}

// Backends returns the registered backends in registration order.
func (r *Registry) Backends() []Backend {
	out := make([]Backend, len(r.order))
	copy(out, r.order)
	return out
}
