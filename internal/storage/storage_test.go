package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	out := map[string]Backend{"memory": NewMemoryBackend()}

	sqlite, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "slots.db"))
	require.NoError(t, err)
	out["sqlite"] = sqlite

	if url := os.Getenv("REDIS_URL"); url != "" {
		rb, err := NewRedisBackend(context.Background(), url)
		require.NoError(t, err)
		out["redis"] = rb
	}

	t.Cleanup(func() {
		for _, b := range out {
			b.Close()
		}
	})
	return out
}

func TestScopedRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			port := NewScoped(backend, "roundtrip-"+name)

			state := filter.State{Region: "West", PromoFlag: "Flash", Start: "2024-01-01", End: "2024-03-31"}
			require.NoError(t, port.Save(ctx, SlotFilters, state))

			var got filter.State
			ok, err := port.Load(ctx, SlotFilters, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, state, got)

			layout := filter.DefaultLayout().Toggle(filter.WidgetTrend)
			require.NoError(t, port.Save(ctx, SlotLayout, layout))

			var gotLayout filter.Layout
			ok, err = port.Load(ctx, SlotLayout, &gotLayout)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, layout, gotLayout)
		})
	}
}

func TestScopedOverwrite(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			port := NewScoped(backend, "overwrite-"+name)
			require.NoError(t, port.Save(ctx, SlotFilters, filter.State{Region: "West"}))
			require.NoError(t, port.Save(ctx, SlotFilters, filter.State{Region: "East"}))

			var got filter.State
			ok, err := port.Load(ctx, SlotFilters, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "East", got.Region)
		})
	}
}

func TestScopedMissingSlot(t *testing.T) {
	port := NewScoped(NewMemoryBackend(), "fresh")

	var got filter.State
	ok, err := port.Load(context.Background(), SlotFilters, &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, filter.State{}, got)
}

func TestScopedCorruptSlot(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put(ctx, "client:filters", []byte("{not json")))

	var got filter.State
	ok, err := NewScoped(backend, "client").Load(ctx, SlotFilters, &got)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := NewScoped(backend, "a")
	b := NewScoped(backend, "b")

	require.NoError(t, a.Save(ctx, SlotFilters, filter.State{Region: "West"}))

	var got filter.State
	ok, err := b.Load(ctx, SlotFilters, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewScoped(backend, "").Load(ctx, SlotFilters, &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = Open(ctx, Config{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "nested", "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	require.NoError(t, b.Close())

	_, err = Open(ctx, Config{Driver: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(ctx, Config{Driver: "redis"})
	assert.Error(t, err)
}
