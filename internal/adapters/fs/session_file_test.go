package fs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/domain"
)

func TestSessionFileStore(t *testing.T) {
	ctx := context.Background()
	store := NewSessionFileStore(t.TempDir())

	_, found, err := store.Load(ctx, domain.DomainVCSEC)
	require.NoError(t, err)
	assert.False(t, found)

	want := domain.SessionMaterial{
		Counter:   9,
		Epoch:     []byte{1, 2, 3},
		PeerKey:   []byte{4, 5, 6},
		ClockTime: 77,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.Save(ctx, domain.DomainVCSEC, want))

	got, found, err := store.Load(ctx, domain.DomainVCSEC)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Counter, got.Counter)
	assert.Equal(t, want.Epoch, got.Epoch)
	assert.Equal(t, want.PeerKey, got.PeerKey)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	_, found, err = store.Load(ctx, domain.DomainInfotainment)
	require.NoError(t, err)
	assert.False(t, found, "domains are stored separately")

	info, err := os.Stat(store.Path(domain.DomainVCSEC))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete(ctx, domain.DomainVCSEC))
	_, found, err = store.Load(ctx, domain.DomainVCSEC)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, domain.DomainVCSEC), "deleting twice is fine")
}

func TestSessionFileStoreCorruptFile(t *testing.T) {
	store := NewSessionFileStore(t.TempDir())
	require.NoError(t, os.WriteFile(store.Path(domain.DomainInfotainment), []byte("{not json"), 0o600))

	_, found, err := store.Load(context.Background(), domain.DomainInfotainment)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestSessionFileStoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewSessionFileStore(t.TempDir())
	assert.ErrorIs(t, store.Save(ctx, domain.DomainVCSEC, domain.SessionMaterial{}), context.Canceled)
}
