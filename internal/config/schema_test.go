// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowly/knowly/internal/config"
	"github.com/knowly/knowly/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, config.SchemaID, doc["$id"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"token", "hasher", "directory", "storage", "http", "metrics", "control", "log"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty", "", false},
		{"full", `
token:
  secret: "0123456789abcdef0123456789abcdef"
  algorithm: HS512
  ttl: 30m
hasher:
  algorithm: argon2id
  argon2:
    time: 2
    memory: 65536
    threads: 2
directory:
  fold_username: true
storage:
  driver: postgres
  database_url: postgres://localhost/knowly
  max_conns: 8
log:
  format: text
  level: debug
`, false},
		{"unknown top-level key", "tokens: {}\n", true},
		{"unknown nested key", "storage:\n  drivr: memory\n", true},
		{"bad enum", "token:\n  algorithm: RS256\n", true},
		{"short secret", "token:\n  secret: short\n", true},
		{"wrong type", "storage:\n  max_conns: many\n", true},
		{"salt too short", "hasher:\n  argon2:\n    salt_len: 4\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.ValidateYAML([]byte(tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateYAML_InvalidYAML(t *testing.T) {
	err := config.ValidateYAML([]byte("token: [unclosed"))
	errutil.AssertErrorCode(t, err, "CONFIG_PARSE_FAILED")
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, config.FormatSchemaError(nil))

	err := config.ValidateYAML([]byte("tokens: {}\n"))
	require.Error(t, err)
	assert.NotContains(t, config.FormatSchemaError(err), "schema validation failed: ")
}

func TestMarshalYAML(t *testing.T) {
	cfg := validConfig()
	cfg.Token.TTL = 90 * time.Minute

	data, err := config.MarshalYAML(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ttl: 1h30m0s")
	require.NoError(t, config.ValidateYAML(data), "marshalled config must satisfy its own schema")

	data, err = config.MarshalYAML(cfg.Redact())
	require.NoError(t, err)
	assert.Contains(t, string(data), config.Redacted)
	assert.NotContains(t, string(data), secret)
}
