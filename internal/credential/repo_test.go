package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := OpenRepo(context.Background(), filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepoSaveLoad(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cred := Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiryDate:   1748779200000,
	}
	require.NoError(t, repo.Save(ctx, "sess-1", cred))

	got, err := repo.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, cred, got)
}

func TestRepoLoadMissing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepoSaveOverwrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-1", Credential{AccessToken: "old"}))
	require.NoError(t, repo.Save(ctx, "sess-1", Credential{AccessToken: "new", RefreshToken: "ref"}))

	got, err := repo.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "ref", got.RefreshToken)
}

func TestRepoDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "sess-1", Credential{AccessToken: "tok"}))
	require.NoError(t, repo.Delete(ctx, "sess-1"))

	_, err := repo.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, repo.Delete(ctx, "sess-1"))
}
