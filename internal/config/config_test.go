// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitValid(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"database": "./var/test.sqlite",
		"log_level": "debug",
		"commit_every": 500,
		"backends": ["virtual", "mseed"]
	}`
	require.NoError(t, os.WriteFile(fp, []byte(raw), 0o644))

	Keys = Config{}
	require.NoError(t, Init(fp))
	assert.Equal(t, "./var/test.sqlite", Keys.Database)
	assert.Equal(t, 500, Keys.CommitEvery)
	assert.Equal(t, []string{"virtual", "mseed"}, Keys.Backends)
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = Config{Database: "./var/squirrel.sqlite", LogLevel: "info", CommitEvery: 1000}
	require.NoError(t, Init(filepath.Join(t.TempDir(), "does-not-exist.json")))
	assert.Equal(t, "./var/squirrel.sqlite", Keys.Database, "defaults should survive a missing config file")
}

func TestInitRejectsUnknownField(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "config.json")
	raw := `{"database": "./var/test.sqlite", "nonsense_field": true}`
	require.NoError(t, os.WriteFile(fp, []byte(raw), 0o644))

	assert.Error(t, Init(fp), "expected an error for an unknown config field")
}

func TestInitRejectsBadLogLevel(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "config.json")
	raw := `{"log_level": "verbose"}`
	require.NoError(t, os.WriteFile(fp, []byte(raw), 0o644))

	assert.Error(t, Init(fp), "expected schema validation to reject an unknown log level")
}
