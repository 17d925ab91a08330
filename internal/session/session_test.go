package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offduel/offduel/internal/challenge"
	"github.com/offduel/offduel/internal/events"
	"github.com/offduel/offduel/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*models.Challenge
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.Challenge)}
}

func (m *memStore) Get(ctx context.Context, id string) (*models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return ch.Clone(), nil
}

func (m *memStore) Upsert(ctx context.Context, ch *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ch.ID] = ch.Clone()
	return nil
}

type memCache struct {
	mu            sync.Mutex
	challenge     *models.Challenge
	participantID string
}

func (m *memCache) SaveChallenge(ch *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = ch.Clone()
	return nil
}

func (m *memCache) SaveParticipantID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participantID = id
	return nil
}

func (m *memCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = nil
	m.participantID = ""
	return nil
}

func (m *memCache) Load() (*models.Challenge, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return nil, "", nil
	}
	return m.challenge.Clone(), m.participantID, nil
}

type memNotifier struct {
	mu    sync.Mutex
	notes []events.Notification
}

func (m *memNotifier) Notify(n events.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
}

func (m *memNotifier) types() []events.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.NotificationType, 0, len(m.notes))
	for _, n := range m.notes {
		out = append(out, n.Type)
	}
	return out
}

func newTestSession(t *testing.T) (*Session, *memStore, *memCache, *memNotifier) {
	t.Helper()
	store := newMemStore()
	cache := &memCache{}

	var sess *Session
	app := challenge.NewApp(store, cache, clockwork.NewFakeClock(), func(err error) {
		if sess != nil {
			sess.WarnSync(err)
		}
	})
	sess = New(app, cache)

	notifier := &memNotifier{}
	sess.Bind(notifier)
	return sess, store, cache, notifier
}

func TestCreateEstablishesIdentity(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	created, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)

	ch, participantID := sess.Current()
	assert.Equal(t, created, ch)
	assert.NotEmpty(t, participantID)
	assert.Equal(t, participantID, ch.CreatedBy)
}

func TestWarmLoadRestoresPreviousSession(t *testing.T) {
	store := newMemStore()
	cache := &memCache{}
	cache.SaveChallenge(&models.Challenge{
		ID:     "ch-1",
		Status: models.ChallengeStatusActive,
		Participants: map[string]models.Participant{
			"abc": {Name: "Alice", Status: models.ParticipantStatusActive},
		},
	})
	cache.SaveParticipantID("abc")

	app := challenge.NewApp(store, cache, clockwork.NewFakeClock(), nil)
	sess := New(app, cache)

	ch, participantID := sess.Current()
	require.NotNil(t, ch)
	assert.Equal(t, "ch-1", ch.ID)
	assert.Equal(t, "abc", participantID)
}

func TestApplyRemoteStartedFlipNotifies(t *testing.T) {
	sess, _, _, notifier := newTestSession(t)

	local, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)

	remote := local.Start(1_000)
	sess.ApplyRemote(remote)

	ch, _ := sess.Current()
	assert.Equal(t, models.ChallengeStatusActive, ch.Status)
	assert.Contains(t, notifier.types(), events.NotificationChallengeStarted)
}

func TestApplyRemoteIgnoresForeignChallenge(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	local, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)

	foreign := local.Clone()
	foreign.ID = "someone-elses"
	foreign.Status = models.ChallengeStatusCompleted
	sess.ApplyRemote(foreign)

	ch, _ := sess.Current()
	assert.Equal(t, local.ID, ch.ID)
	assert.Equal(t, models.ChallengeStatusWaiting, ch.Status)
}

func TestApplyRemoteIsIdempotent(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	local, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)

	var changes int
	sess.OnChange(func(*models.Challenge) { changes++ })

	remote := local.Start(1_000)
	sess.ApplyRemote(remote)
	sess.ApplyRemote(remote)
	sess.ApplyRemote(remote)

	assert.Equal(t, 1, changes, "redundant delivery must not re-fire change callbacks")
}

func TestRecordLocalLossNotifies(t *testing.T) {
	sess, _, _, notifier := newTestSession(t)

	_, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)
	_, err = sess.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, sess.RecordLocalLoss(context.Background()))

	types := notifier.types()
	assert.Contains(t, types, events.NotificationParticipantLost)
	// Sole participant losing ends the duel.
	assert.Contains(t, types, events.NotificationChallengeCompleted)
}

func TestRecordLocalLossWithoutSession(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	err := sess.RecordLocalLoss(context.Background())
	assert.ErrorIs(t, err, challenge.ErrNoSession)
}

func TestResetClearsCellAndMirror(t *testing.T) {
	sess, store, cache, _ := newTestSession(t)

	created, err := sess.Create(context.Background(), "Alice", 25, "tea")
	require.NoError(t, err)

	var sawNil bool
	sess.OnChange(func(ch *models.Challenge) { sawNil = ch == nil })

	require.NoError(t, sess.Reset(context.Background()))

	ch, participantID := sess.Current()
	assert.Nil(t, ch)
	assert.Empty(t, participantID)
	assert.Nil(t, cache.challenge)
	assert.True(t, sawNil)

	// Reset is local; the shared record survives for other participants.
	remote, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.NotNil(t, remote)
}

func TestWarnSyncReachesNotifier(t *testing.T) {
	sess, _, _, notifier := newTestSession(t)

	sess.WarnSync(&challenge.SyncError{Err: errors.New("store down")})

	types := notifier.types()
	require.Len(t, types, 1)
	assert.Equal(t, events.NotificationSyncWarning, types[0])
}
