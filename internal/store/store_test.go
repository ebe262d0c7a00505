package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, SessionKey("0xabc"), testRecord{ID: "s1", Amount: 1000}))

	var got testRecord
	found, err := s.Load(ctx, SessionKey("0xabc"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, int64(1000), got.Amount)
}

func TestMemoryStore_LoadAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var got testRecord
	found, err := s.Load(ctx, SessionKey("0xmissing"), &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_CorruptTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, "k", testRecord{ID: "s1"}))
	s.Corrupt("k")

	var got testRecord
	found, err := s.Load(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found, "corrupt record must read as absent, not error")
}

func TestMemoryStore_RemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, "k", testRecord{ID: "s1"}))
	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"), "removing an absent key is a no-op")

	var got testRecord
	found, err := s.Load(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, PendingKey("0xabc"), []testRecord{{ID: "t1", Amount: 300}}))

	var got []testRecord
	found, err := s.Load(ctx, PendingKey("0xabc"), &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 1)
	assert.Equal(t, int64(300), got[0].Amount)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, SessionKey("0xabc"), testRecord{ID: "s1", Amount: 500}))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	var got testRecord
	found, err := reopened.Load(ctx, SessionKey("0xabc"), &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(500), got.Amount)
}

func TestFileStore_CorruptFileTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "k", testRecord{ID: "s1"}))

	// Clobber the record on disk.
	require.NoError(t, os.WriteFile(s.path("k"), []byte("{not json"), 0o600))

	var got testRecord
	found, err := s.Load(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "k", testRecord{ID: "s1", Amount: 1}))
	require.NoError(t, s.Save(ctx, "k", testRecord{ID: "s1", Amount: 2}))

	var got testRecord
	found, err := s.Load(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.Amount)

	// No temp files left behind.
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}
}
