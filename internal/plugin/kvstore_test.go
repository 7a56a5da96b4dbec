package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValueStore_CreatesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "prometheus.json")

	s, err := OpenKeyValueStore(path, map[string]any{"message_template": "{{.summary}}"})
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "1", doc["version"])
	assert.Equal(t, "{{.summary}}", doc["message_template"])
}

func TestKeyValueStore_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b64.json")

	s, err := OpenKeyValueStore(path, nil)
	require.NoError(t, err)
	assert.False(t, s.Has("projects"))

	require.NoError(t, s.Set("projects", []string{"alpha", "beta"}))
	assert.True(t, s.Has("projects"))

	reopened, err := OpenKeyValueStore(path, map[string]any{"ignored": true})
	require.NoError(t, err)

	var projects []string
	require.NoError(t, reopened.Get("projects", &projects))
	assert.Equal(t, []string{"alpha", "beta"}, projects)
	assert.False(t, reopened.Has("ignored"), "defaults only apply to new files")
	assert.Equal(t, "1", reopened.GetString("version", ""))
}

func TestKeyValueStore_GetMissing(t *testing.T) {
	s, err := OpenKeyValueStore(filepath.Join(t.TempDir(), "kv.json"), nil)
	require.NoError(t, err)

	var v string
	err = s.Get("nope", &v)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.Equal(t, "fallback", s.GetString("nope", "fallback"))

	require.NoError(t, s.Set("count", 3))
	assert.Equal(t, "fallback", s.GetString("count", "fallback"), "wrong type falls back")
}

func TestKeyValueStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	s, err := OpenKeyValueStore(path, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("never-set"))

	reopened, err := OpenKeyValueStore(path, nil)
	require.NoError(t, err)
	assert.False(t, reopened.Has("k"))
}

func TestKeyValueStore_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := OpenKeyValueStore(path, nil)
	assert.Error(t, err)
}

func TestKeyValueStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenKeyValueStore(filepath.Join(dir, "kv.json"), nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set("n", i))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
