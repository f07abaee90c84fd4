package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/engine"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ memory.RetentiveStore = (*FileStore)(nil)
var _ memory.RetentiveStore = (*PostgresClient)(nil)
var _ engine.RetentivePurger = (*FileStore)(nil)
var _ engine.RetentivePurger = (*PostgresClient)(nil)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	values := map[string]value.Value{
		"enabled":  value.Bool(true),
		"mode":     value.Byte(3),
		"offset":   value.Int(-1200),
		"count":    value.DInt(70000),
		"setpoint": value.Real(21.5),
		"label":    value.String("line 2"),
	}
	for name, v := range values {
		require.NoError(t, store.SaveValue(ctx, "mixer", name, v))
	}

	// A fresh store reads from disk.
	reopened, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	for name, want := range values {
		got, found, err := reopened.LoadValue(ctx, "mixer", name, want.Kind())
		require.NoError(t, err)
		require.True(t, found, name)
		assert.True(t, want.Equal(got), "%s: want %s got %s", name, want, got)
	}

	_, found, err := reopened.LoadValue(ctx, "mixer", "missing", value.KindBool)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = reopened.LoadValue(ctx, "other", "enabled", value.KindBool)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreConvertsKind(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.SaveValue(ctx, "p", "count", value.Byte(200)))

	got, found, err := store.LoadValue(ctx, "p", "count", value.KindDInt)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, value.DInt(200), got)

	require.NoError(t, store.SaveValue(ctx, "p", "name", value.String("x")))
	_, _, err = store.LoadValue(ctx, "p", "name", value.KindInt)
	assert.Error(t, err)
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cbor"), []byte{0xff, 0x00, 0x13}, 0o644))

	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	_, _, err = store.LoadValue(context.Background(), "broken", "x", value.KindBool)
	assert.True(t, errors.Is(err, types.ErrPersistenceFailure))
}

func TestFileStoreDeleteNamespace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.SaveValue(ctx, "conveyor/1", "run", value.Bool(true)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, store.DeleteNamespace(ctx, "conveyor/1"))
	_, found, err := store.LoadValue(ctx, "conveyor/1", "run", value.KindBool)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.DeleteNamespace(ctx, "never-written"))
}

func TestFileStoreWithMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	mem := memory.New("latch", store, zap.NewNop())
	require.NoError(t, mem.Declare("count", value.KindInt, true, ""))
	require.NoError(t, mem.Declare("scratch", value.KindInt, false, ""))
	require.NoError(t, mem.Set("count", value.Int(42)))
	require.NoError(t, mem.Set("scratch", value.Int(7)))
	require.NoError(t, mem.SaveRetentive(ctx))

	restored := memory.New("latch", store, zap.NewNop())
	require.NoError(t, restored.Declare("count", value.KindInt, true, ""))
	require.NoError(t, restored.Declare("scratch", value.KindInt, false, ""))
	require.NoError(t, restored.LoadRetentive(ctx))

	assert.Equal(t, int16(42), restored.GetInt("count", -1))
	assert.Equal(t, int16(0), restored.GetInt("scratch", -1))
}

func TestFileStoreFailedWriteIsRetried(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "retentive")
	ctx := context.Background()

	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	err = store.SaveValue(ctx, "oven", "cycles", value.Int(7))
	require.True(t, errors.Is(err, types.ErrPersistenceFailure))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, store.SaveValue(ctx, "oven", "cycles", value.Int(7)))

	reopened, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	got, found, err := reopened.LoadValue(ctx, "oven", "cycles", value.KindInt)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, value.Int(7), got)
}
