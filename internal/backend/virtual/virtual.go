// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package virtual implements the synthetic "virtual:" backend used
// by tests and by callers that want to inject content without
// touching disk (spec.md §6).
package virtual

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
)

const FormatTag = "virtual"

const PathPrefix = "virtual:"

type entry struct {
	nut     model.Nut
	content any
}

// Backend serves nuts registered in-process under virtual:<name>
// paths. It never claims a file by sniffing bytes; the ingest
// pipeline short-circuits to it whenever a path has the virtual:
// prefix (spec.md §4.4 step 5).
type Backend struct {
	mu      sync.Mutex
	entries map[string][]entry // path -> entries, insertion order
	mtimes  map[string]time.Time
}

func New() *Backend {
	return &Backend{
		entries: make(map[string][]entry),
		mtimes:  make(map[string]time.Time),
	}
}

// Put registers a nut under its FilePath, enforcing the uniqueness
// invariant of spec.md §4.8: two nuts with the same (segment,
// element) in the same virtual file collide.
func (b *Backend) Put(n model.Nut, content any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries[n.FilePath] {
		if e.nut.FileSegment == n.FileSegment && e.nut.FileElement == n.FileElement {
			return &model.UniqueKeyRequired{Path: n.FilePath, Segment: n.FileSegment, Element: n.FileElement}
		}
	}
	n.FileFormat = FormatTag
	b.entries[n.FilePath] = append(b.entries[n.FilePath], entry{nut: n, content: content})
	if _, ok := b.mtimes[n.FilePath]; !ok {
		b.mtimes[n.FilePath] = time.Now()
	}
	return nil
}

// Touch bumps a virtual file's mtime, simulating an on-disk change
// for revalidation tests.
func (b *Backend) Touch(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mtimes[path] = time.Now()
}

// Drop removes all entries for path, simulating deletion.
func (b *Backend) Drop(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, path)
	delete(b.mtimes, path)
}

func (b *Backend) ProvidedFormats() []string { return []string{FormatTag} }

// Detect never claims a path: virtual files are recognized by their
// path prefix, not by content sniffing.
func (b *Backend) Detect(sniff []byte) string { return "" }

func (b *Backend) GetStats(path string) (backend.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.entries[path]
	if !ok {
		return backend.Stats{}, &model.FileLoadError{Path: path, Err: errNotFound(path)}
	}
	return backend.Stats{MTime: b.mtimes[path], Size: int64(len(entries))}, nil
}

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	b.mu.Lock()
	entries := slices.Clone(b.entries[path])
	mtime := b.mtimes[path]
	b.mu.Unlock()

	if entries == nil {
		return &model.FileLoadError{Path: path, Err: errNotFound(path)}
	}

	for _, e := range entries {
		if segment != nil && e.nut.FileSegment != *segment {
			continue
		}
		n := e.nut
		n.FilePath = path
		n.FileFormat = FormatTag
		n.FileMTime = mtime
		n.FileSize = int64(len(entries))
		if slices.Contains(contentKinds, n.Kind) {
			n.Content = e.content
		}
		if err := yield(n); err != nil {
			return err
		}
	}
	return nil
}

type errNotFound string

func (e errNotFound) Error() string { return "virtual file not registered: " + string(e) }

// HasPrefix reports whether path names a virtual file.
func HasPrefix(path string) bool { return strings.HasPrefix(path, PathPrefix) }
