package registrar

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Record{
		Token:      "fcm-token-123",
		State:      StateSending,
		InstanceID: "2f6c1a0e-5a8b-4c3e-9d0f-0a1b2c3d4e5f",
		Attempts:   2,
		ObservedAt: sentAt.Add(-time.Minute),
		LastSentAt: &sentAt,
		LastError:  "POST https://registry.example.com: 503",
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	rec := sampleRecord()

	require.NoError(t, store.Save(context.Background(), rec))

	reopened := NewFileStore(dir)
	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.Token, loaded.Token)
	assert.Equal(t, rec.State, loaded.State)
	assert.Equal(t, rec.InstanceID, loaded.InstanceID)
	assert.Equal(t, rec.Attempts, loaded.Attempts)
	assert.True(t, rec.ObservedAt.Equal(loaded.ObservedAt))
	require.NotNil(t, loaded.LastSentAt)
	assert.True(t, rec.LastSentAt.Equal(*loaded.LastSentAt))
	assert.Nil(t, loaded.AcknowledgedAt)
	assert.Equal(t, rec.LastError, loaded.LastError)
}

func TestFileStore_Missing(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestFileStore_CreatesDirectoryWithPrivateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "session")
	store := NewFileStore(dir)
	require.NoError(t, store.Save(context.Background(), sampleRecord()))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_ReplaceLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	first := sampleRecord()
	second := sampleRecord()
	second.Token = "fcm-token-456"
	second.State = StatePending
	second.Attempts = 0

	require.NoError(t, store.Save(context.Background(), first))
	require.NoError(t, store.Save(context.Background(), second))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fcm-token-456", loaded.Token)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RecordFileName, entries[0].Name())
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordFileName), []byte("{not json"), 0o600))

	_, err := NewFileStore(dir).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRecord)
	assert.Contains(t, err.Error(), "parsing registration record")
}

func TestRegistrar_CorruptRecordStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordFileName), []byte("{not json"), 0o600))

	r := newTestRegistrar(t, "https://registry.example.com/tokens", WithStore(NewFileStore(dir)))
	_, ok := r.Record()
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoRecord)

	rec := sampleRecord()
	require.NoError(t, store.Save(context.Background(), rec))
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestRecord_Predicates(t *testing.T) {
	assert.True(t, Record{Token: "t", State: StatePending}.Resumable())
	assert.True(t, Record{Token: "t", State: StateSending}.Resumable())
	assert.False(t, Record{Token: "t", State: StateAcknowledged}.Resumable())
	assert.False(t, Record{Token: "t", State: StateRejected}.Resumable())
	assert.False(t, Record{State: StatePending}.Resumable())
	assert.True(t, Record{State: StateAcknowledged}.Acknowledged())
}
