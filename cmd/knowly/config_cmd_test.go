// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowly/knowly/pkg/errutil"
)

func runConfigCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewConfigCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	secret := strings.Repeat("k", 40)
	t.Setenv("KNOWLY_TOKEN_SECRET", secret)
	t.Setenv("DATABASE_URL", "postgres://knowly:hunter2@db:5432/knowly")

	out, _, err := runConfigCmd(t, "show")
	require.NoError(t, err)

	assert.NotContains(t, out, secret)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "db:5432")
}

func TestConfigShow_FlagOverride(t *testing.T) {
	out, _, err := runConfigCmd(t, "show", "--http-addr", "0.0.0.0:8080")
	require.NoError(t, err)
	assert.Contains(t, out, "0.0.0.0:8080")
}

func TestConfigShow_WarnsOnInvalidConfig(t *testing.T) {
	t.Setenv("KNOWLY_TOKEN_SECRET", "")
	t.Setenv("SECRET_KEY", "")

	_, stderr, err := runConfigCmd(t, "show")
	require.NoError(t, err)
	assert.Contains(t, stderr, "warning:")
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "http:\n  addr: 127.0.0.1:8080\nstorage:\n  driver: memory\n")
		out, _, err := runConfigCmd(t, "validate", path)
		require.NoError(t, err)
		assert.Contains(t, out, "valid")
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "htp:\n  addr: 127.0.0.1:8080\n")
		_, stderr, err := runConfigCmd(t, "validate", path)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
		assert.Contains(t, stderr, path)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := runConfigCmd(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
	})
}
