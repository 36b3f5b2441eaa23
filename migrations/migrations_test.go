package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_Present(t *testing.T) {
	entries, err := FS.ReadDir(".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Contains(t, names, "00001_create_users.sql")
	assert.Contains(t, names, "00002_create_messages.sql")
}

func TestEmbeddedMigrations_GooseAnnotations(t *testing.T) {
	entries, err := FS.ReadDir(".")
	require.NoError(t, err)

	for _, entry := range entries {
		data, err := FS.ReadFile(entry.Name())
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up", entry.Name())
		assert.Contains(t, string(data), "-- +goose Down", entry.Name())
	}
}
