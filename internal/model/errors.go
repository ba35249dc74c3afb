// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import "fmt"

// FileLoadError is raised by a backend when a file cannot be
// statted, read or parsed. Recoverable per-file: the ingest pipeline
// catches it, resets the file's cached metadata and continues.
type FileLoadError struct {
	Path string
	Err  error
}

func (e *FileLoadError) Error() string {
	return fmt.Sprintf("squirrel: load %s: %v", e.Path, e.Err)
}

func (e *FileLoadError) Unwrap() error { return e.Err }

// FormatDetectionFailed means no registered backend claimed the
// file's first 512 bytes.
type FormatDetectionFailed struct {
	Path string
}

func (e *FormatDetectionFailed) Error() string {
	return fmt.Sprintf("squirrel: could not detect format of %s", e.Path)
}

// UnknownFormat means the caller explicitly named a format tag no
// backend provides.
type UnknownFormat struct {
	Format string
}

func (e *UnknownFormat) Error() string {
	return fmt.Sprintf("squirrel: unknown format %q", e.Format)
}

// UniqueKeyRequired is raised by the virtual backend when two nuts
// are registered with the same (path, segment, element) key. A
// programmer error: it propagates unconditionally.
type UniqueKeyRequired struct {
	Path             string
	Segment, Element int64
}

func (e *UniqueKeyRequired) Error() string {
	return fmt.Sprintf("squirrel: duplicate (segment=%d, element=%d) in virtual file %s", e.Segment, e.Element, e.Path)
}

// ConfigError reports a configuration mistake detected at
// construction time (invalid persistent-selection name, persistent
// selection on the shared database, ...).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "squirrel: configuration error: " + e.Reason
}
