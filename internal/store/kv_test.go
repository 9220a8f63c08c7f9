package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func kvBackends(t *testing.T) map[string]KV {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]KV{"memory": NewMemory(), "sqlite": sqlite}
}

func TestKV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.GetItem(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.SetItem(ctx, KeyPageString, "plain text"))
			v, err := kv.GetItem(ctx, KeyPageString)
			require.NoError(t, err)
			require.Equal(t, "plain text", v)

			require.NoError(t, kv.SetItem(ctx, KeyAltTexts, []string{"a", "b"}))
			v, err = kv.GetItem(ctx, KeyAltTexts)
			require.NoError(t, err)
			require.Equal(t, `["a","b"]`, v)

			require.NoError(t, kv.SetItem(ctx, KeyPageString, "overwritten"))
			v, err = kv.GetItem(ctx, KeyPageString)
			require.NoError(t, err)
			require.Equal(t, "overwritten", v)

			require.NoError(t, kv.DeleteItem(ctx, KeyPageString))
			_, err = kv.GetItem(ctx, KeyPageString)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGetBool(t *testing.T) {
	ctx := context.Background()
	for name, kv := range kvBackends(t) {
		t.Run(name, func(t *testing.T) {
			open, err := GetBool(ctx, kv, KeyPanelOpen)
			require.NoError(t, err)
			require.False(t, open)

			require.NoError(t, kv.SetItem(ctx, KeyPanelOpen, true))
			open, err = GetBool(ctx, kv, KeyPanelOpen)
			require.NoError(t, err)
			require.True(t, open)

			require.NoError(t, kv.SetItem(ctx, KeyPanelOpen, false))
			open, err = GetBool(ctx, kv, KeyPanelOpen)
			require.NoError(t, err)
			require.False(t, open, "a stored false must read back as false")

			require.NoError(t, kv.SetItem(ctx, KeyPanelOpen, "yes"))
			_, err = GetBool(ctx, kv, KeyPanelOpen)
			require.Error(t, err)
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SetItem(ctx, KeyPanelOpen, true))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	open, err := GetBool(ctx, s, KeyPanelOpen)
	require.NoError(t, err)
	require.True(t, open)
}
