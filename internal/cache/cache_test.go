package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offduel/offduel/internal/models"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmptyCacheLoadsNothing(t *testing.T) {
	c := openTestCache(t)

	ch, participantID, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.Empty(t, participantID)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	c := openTestCache(t)

	start := int64(1_000)
	ch := &models.Challenge{
		ID:        "ch-1",
		CreatedBy: "abc123",
		Duration:  25,
		Participants: map[string]models.Participant{
			"abc123": {Name: "Alice", Reward: "tea", Status: models.ParticipantStatusActive},
		},
		Status:    models.ChallengeStatusActive,
		StartTime: &start,
	}

	require.NoError(t, c.SaveChallenge(ch))
	require.NoError(t, c.SaveParticipantID("abc123"))

	loaded, participantID, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, ch, loaded)
	assert.Equal(t, "abc123", participantID)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	c := openTestCache(t)

	first := &models.Challenge{ID: "ch-1", Status: models.ChallengeStatusWaiting, Participants: map[string]models.Participant{}}
	second := first.Clone()
	second.Status = models.ChallengeStatusActive

	require.NoError(t, c.SaveChallenge(first))
	require.NoError(t, c.SaveChallenge(second))

	loaded, _, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusActive, loaded.Status)
}

func TestClearEmptiesBothSlots(t *testing.T) {
	c := openTestCache(t)

	ch := &models.Challenge{ID: "ch-1", Status: models.ChallengeStatusWaiting, Participants: map[string]models.Participant{}}
	require.NoError(t, c.SaveChallenge(ch))
	require.NoError(t, c.SaveParticipantID("abc123"))

	require.NoError(t, c.Clear())

	loaded, participantID, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
	assert.Empty(t, participantID)
}

func TestCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path)
	require.NoError(t, err)
	ch := &models.Challenge{ID: "ch-1", Status: models.ChallengeStatusWaiting, Participants: map[string]models.Participant{}}
	require.NoError(t, c.SaveChallenge(ch))
	require.NoError(t, c.SaveParticipantID("abc123"))
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, participantID, err := reopened.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "ch-1", loaded.ID)
	assert.Equal(t, "abc123", participantID)
}
