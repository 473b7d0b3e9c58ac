package default_settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidcanvas/databases/sqlite"
	"kidcanvas/entities"
	"kidcanvas/repositories"
)

func newRepo(t *testing.T) Repository {
	t.Helper()

	db, err := sqlite.New(context.Background(), sqlite.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := NewRepository(&Config{DB: db})
	require.NoError(t, err)

	return repo
}

func TestNewRepository_MissingDB(t *testing.T) {
	_, err := NewRepository(&Config{})
	assert.Error(t, err)
}

func TestUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	setting := entities.NewGenerationSettings("session-1")
	setting.Steps = 25
	setting.ExtraPrompt = "pixel art; watercolor"

	_, err := repo.Upsert(ctx, setting)
	require.NoError(t, err)

	got, err := repo.GetByOwnerID(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, setting, got)

	setting.Seed = 99
	_, err = repo.Upsert(ctx, setting)
	require.NoError(t, err)

	got, err = repo.GetByOwnerID(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.Seed)
}

func TestUpsert_Invalid(t *testing.T) {
	repo := newRepo(t)

	setting := entities.NewGenerationSettings("session-1")
	setting.Steps = 0

	_, err := repo.Upsert(context.Background(), setting)
	assert.ErrorIs(t, err, entities.ErrInvalidSettings)

	_, err = repo.Upsert(context.Background(), entities.NewGenerationSettings(""))
	assert.Error(t, err)
}

func TestGet_NotFoundAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.GetByOwnerID(ctx, "nobody")
	assert.ErrorIs(t, err, &repositories.NotFoundError{})

	_, err = repo.Upsert(ctx, entities.NewGenerationSettings("gone"))
	require.NoError(t, err)
	require.NoError(t, repo.DeleteByOwnerID(ctx, "gone"))

	_, err = repo.GetByOwnerID(ctx, "gone")
	assert.ErrorIs(t, err, &repositories.NotFoundError{})
}
