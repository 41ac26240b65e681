package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-autoops/internal/models"
	"github.com/miradorstack/mirador-autoops/internal/utils"
)

func exerciseRepository(t *testing.T, repo Repository[models.Threat]) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, utils.ErrUnknownEntity)

	first := models.Threat{ID: "b", Category: models.CategoryNetwork, Severity: models.SeverityHigh,
		Status: models.ThreatDetected, FirstSeenAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	second := models.Threat{ID: "a", Category: models.CategoryError, Severity: models.SeverityLow,
		Status: models.ThreatResolved}
	require.NoError(t, repo.Put(ctx, first.ID, first))
	require.NoError(t, repo.Put(ctx, second.ID, second))

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryNetwork, got.Category)
	assert.True(t, first.FirstSeenAt.Equal(got.FirstSeenAt))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	require.NoError(t, repo.Delete(ctx, "a"))
	require.ErrorIs(t, repo.Delete(ctx, "a"), utils.ErrUnknownEntity)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemory[models.Threat]("threat"))
}

func TestBadgerRepository(t *testing.T) {
	db, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	exerciseRepository(t, db.Repositories().Threats)
}

func TestBadgerRepositoriesDoNotShareKeys(t *testing.T) {
	db, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	repos := db.Repositories()
	require.NoError(t, repos.Tasks.Put(ctx, "x", models.MaintenanceTask{ID: "x"}))

	plans, err := repos.Plans.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	require.Error(t, err)
}
