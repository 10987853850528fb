package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func mustTarget(t *testing.T, id, title, link, size, region string) model.Target {
	t.Helper()
	target, err := model.NewTarget(id, title, link, size, region)
	require.NoError(t, err)
	return target
}

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"), WithClock(clock.now))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStartAndFinish(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	target := mustTarget(t, "", "BLUS12345.zip", "BLUS12345.zip", "1 GiB", "USA")

	run, err := repo.Start(ctx, target)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "BLUS12345", run.TargetID)

	_, found, err := repo.LastCompleted(ctx, "BLUS12345")
	require.NoError(t, err)
	assert.False(t, found, "running attempts do not count")

	require.NoError(t, repo.Finish(ctx, run.ID, StatusCompleted, "/games/usa-blus12345.iso", ""))

	last, found, err := repo.LastCompleted(ctx, "BLUS12345")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, "/games/usa-blus12345.iso", last.ArtifactPath)
	assert.Equal(t, time.Second, last.Duration())
}

func TestLastCompletedPicksNewest(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	target := mustTarget(t, "", "Example Game", "Example Game.zip", "", "")

	first, err := repo.Start(ctx, target)
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, first.ID, StatusCompleted, "/a.iso", ""))

	second, err := repo.Start(ctx, target)
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, second.ID, StatusCompleted, "/b.iso", ""))

	third, err := repo.Start(ctx, target)
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, third.ID, StatusFailed, "", "transfer failed"))

	last, found, err := repo.LastCompleted(ctx, target.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/b.iso", last.ArtifactPath)

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, StatusFailed, recent[0].Status)
	assert.Equal(t, "transfer failed", recent[0].Error)
	assert.Equal(t, second.ID, recent[1].ID)
}

func TestFinishUnknownRun(t *testing.T) {
	err := openTestRepo(t).Finish(context.Background(), "missing", StatusCompleted, "", "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryNotFound, apperrors.CategoryOf(err))
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	repo, err := Open(ctx, path)
	require.NoError(t, err)
	run, err := repo.Start(ctx, mustTarget(t, "", "Example", "Example.zip", "", ""))
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, run.ID, StatusCompleted, "/x.iso", ""))
	require.NoError(t, repo.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	_, found, err := reopened.LastCompleted(ctx, "Example")
	require.NoError(t, err)
	assert.True(t, found)
}
