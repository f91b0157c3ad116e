package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/storage"
)

type fakePresence struct {
	members []Member
	err     error
}

func (f *fakePresence) ChannelMembers(context.Context, string, string) ([]Member, error) {
	return f.members, f.err
}

type fakeBackend struct {
	mu sync.Mutex

	meta    EventMetadata
	metaErr error

	notifyErr error
	notified  []string

	startTimes map[string]int64
	endTimes   map[string]int64
}

func newFakeBackend(guildID, channelID string) *fakeBackend {
	return &fakeBackend{
		meta:       EventMetadata{GuildID: guildID, VoiceChannelID: channelID},
		startTimes: make(map[string]int64),
		endTimes:   make(map[string]int64),
	}
}

func (f *fakeBackend) EventMetadata(context.Context, string) (EventMetadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeBackend) NotifyFinalized(_ context.Context, _, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, eventID)
	return f.notifyErr
}

func (f *fakeBackend) RecordStart(_ context.Context, eventID string, startedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startTimes[eventID] = startedAt
	return nil
}

func (f *fakeBackend) RecordEnd(_ context.Context, eventID string, endedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endTimes[eventID] = endedAt
	return nil
}

func newTestManager(t *testing.T, presence PresenceSource, backend Backend) (*Manager, *storage.Storage) {
	t.Helper()
	store := newTestStore(t)
	tracker := NewTracker(store, 5)
	mgr := NewManager(store, tracker, presence, backend, ManagerConfig{Workers: 2})
	return mgr, store
}

func TestStartSeedsChannelOccupants(t *testing.T) {
	presence := &fakePresence{members: []Member{
		{UserID: "u1", UserTag: "alice"},
		{UserID: "u2", UserTag: "bob", SelfDeaf: true},
	}}
	mgr, store := newTestManager(t, presence, newFakeBackend("g1", "c1"))

	res, err := mgr.Start(context.Background(), "g1", "e1", 100)
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.StartedAt)
	assert.Equal(t, 2, res.Seeded)

	ev, _, err := store.GetVoiceEvent("g1", "e1")
	require.NoError(t, err)
	assert.True(t, ev.IsActive)
	assert.Equal(t, "c1", ev.VoiceChannelID)
	assert.EqualValues(t, 100, ev.StartedAt)

	alice, _, err := store.GetParticipation("e1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, alice.JoinedAt)

	// Deafened at start: present but not engaged.
	bob, _, err := store.GetParticipation("e1", "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, bob.JoinedAt)
}

func TestStartRejectsDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g1", "c1"))

	_, err := mgr.Start(context.Background(), "g1", "e1", 100)
	require.NoError(t, err)

	_, err = mgr.Start(context.Background(), "g1", "e1", 200)
	assert.ErrorIs(t, err, ErrEventExists)
}

func TestStartRejectsStoppedEvent(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g1", "c1"))
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)
	_, err = mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)

	// Stopped events stay tracked; restarting one is still a duplicate.
	_, err = mgr.Start(ctx, "g1", "e1", 300)
	assert.ErrorIs(t, err, ErrEventExists)
}

func TestStartRejectsBusyChannel(t *testing.T) {
	backend := newFakeBackend("g1", "c1")
	mgr, _ := newTestManager(t, &fakePresence{}, backend)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	_, err = mgr.Start(ctx, "g1", "e2", 100)
	assert.ErrorIs(t, err, ErrChannelBusy)
}

func TestStartRejectsGuildMismatch(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g2", "c1"))

	_, err := mgr.Start(context.Background(), "g1", "e1", 100)
	assert.ErrorIs(t, err, ErrGuildMismatch)
}

func TestStartRollsBackWhenPresenceUnavailable(t *testing.T) {
	presence := &fakePresence{err: errors.New("gateway state unavailable")}
	mgr, store := newTestManager(t, presence, newFakeBackend("g1", "c1"))

	_, err := mgr.Start(context.Background(), "g1", "e1", 100)
	require.Error(t, err)

	// No half-created event may survive a failed start.
	_, _, err = store.GetVoiceEvent("g1", "e1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStartReportsGeneratedTimestamp(t *testing.T) {
	backend := newFakeBackend("g1", "c1")
	mgr, _ := newTestManager(t, &fakePresence{}, backend)

	res, err := mgr.Start(context.Background(), "g1", "e1", 0)
	require.NoError(t, err)
	assert.NotZero(t, res.StartedAt)
	assert.Equal(t, res.StartedAt, backend.startTimes["e1"])
}

func TestStopFinalizesOpenIntervals(t *testing.T) {
	presence := &fakePresence{members: []Member{
		{UserID: "u1", UserTag: "alice"},
		{UserID: "u2", UserTag: "bob", SelfDeaf: true},
	}}
	backend := newFakeBackend("g1", "c1")
	mgr, store := newTestManager(t, presence, backend)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	res, err := mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)
	assert.EqualValues(t, 200, res.EndedAt)
	assert.Equal(t, 1, res.Finalized) // only alice had an open interval
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []string{"e1"}, backend.notified)

	ev, _, err := store.GetVoiceEvent("g1", "e1")
	require.NoError(t, err)
	assert.False(t, ev.IsActive)
	assert.EqualValues(t, 200, ev.EndedAt)

	alice, _, err := store.GetParticipation("e1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, alice.AccumulatedSeconds)
	assert.False(t, alice.Engaged())

	bob, _, err := store.GetParticipation("e1", "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, bob.AccumulatedSeconds)
}

func TestStopRejectsInactiveEvent(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g1", "c1"))
	ctx := context.Background()

	_, err := mgr.Stop(ctx, "g1", "e1", 200)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)
	_, err = mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)

	_, err = mgr.Stop(ctx, "g1", "e1", 300)
	assert.ErrorIs(t, err, ErrEventNotActive)
}

func TestStopCollectsNotifyWarning(t *testing.T) {
	backend := newFakeBackend("g1", "c1")
	backend.notifyErr = errors.New("backend down")
	mgr, _ := newTestManager(t, &fakePresence{}, backend)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	// Notification failure must not fail the stop itself.
	res, err := mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "notify backend")
}

func TestEngagedTimeAcrossDeafenCycle(t *testing.T) {
	presence := &fakePresence{members: []Member{{UserID: "u1", UserTag: "alice"}}}
	backend := newFakeBackend("g1", "c1")
	store := newTestStore(t)
	tracker := NewTracker(store, 5)
	mgr := NewManager(store, tracker, presence, backend, ManagerConfig{Workers: 2})
	ctx := context.Background()

	// Engaged 100-130 and 160-200: 70 seconds total.
	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	require.NoError(t, tracker.HandleVoiceUpdate(ctx, "u1", "alice",
		Presence{ChannelID: "c1"},
		Presence{ChannelID: "c1", SelfDeaf: true}, 130))
	require.NoError(t, tracker.HandleVoiceUpdate(ctx, "u1", "alice",
		Presence{ChannelID: "c1", SelfDeaf: true},
		Presence{ChannelID: "c1"}, 160))

	res, err := mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Finalized)

	rec, _, err := store.GetParticipation("e1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 70, rec.AccumulatedSeconds)
}

// faultyStore passes through to a real store but fails participation writes
// for one chosen user on demand.
type faultyStore struct {
	Store

	mu       sync.Mutex
	failUser string
	failing  bool
}

func (f *faultyStore) failWritesFor(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUser = userID
	f.failing = true
}

func (f *faultyStore) PutParticipation(rec *storage.ParticipationRecord, rev string) (string, error) {
	f.mu.Lock()
	failing, failUser := f.failing, f.failUser
	f.mu.Unlock()
	if failing && rec.UserID == failUser {
		return "", errors.New("storage offline")
	}
	return f.Store.PutParticipation(rec, rev)
}

func TestStopToleratesPerRecordFailure(t *testing.T) {
	presence := &fakePresence{members: []Member{
		{UserID: "u1", UserTag: "alice"},
		{UserID: "u2", UserTag: "bob"},
		{UserID: "u3", UserTag: "carol"},
	}}
	backend := newFakeBackend("g1", "c1")
	store := &faultyStore{Store: newTestStore(t)}
	tracker := NewTracker(store, 5)
	mgr := NewManager(store, tracker, presence, backend, ManagerConfig{Workers: 2})
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	store.failWritesFor("u2")

	// One record cannot be written; the stop must still succeed, finalize
	// the others, and report the failure as a warning.
	res, err := mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Finalized)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "finalize u2")

	for _, userID := range []string{"u1", "u3"} {
		rec, _, err := store.GetParticipation("e1", userID)
		require.NoError(t, err)
		assert.EqualValues(t, 100, rec.AccumulatedSeconds, "user %s", userID)
		assert.False(t, rec.Engaged())
	}

	// The failed record keeps its open interval instead of losing time.
	bob, _, err := store.GetParticipation("e1", "u2")
	require.NoError(t, err)
	assert.True(t, bob.Engaged())
	assert.EqualValues(t, 0, bob.AccumulatedSeconds)

	ev, _, err := store.GetVoiceEvent("g1", "e1")
	require.NoError(t, err)
	assert.False(t, ev.IsActive)
	assert.Equal(t, []string{"e1"}, backend.notified)
}

func TestResetMissingEvent(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g1", "c1"))

	found, err := mgr.Reset(context.Background(), "g1", "e1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResetRefusedWhileActive(t *testing.T) {
	mgr, _ := newTestManager(t, &fakePresence{}, newFakeBackend("g1", "c1"))
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)

	_, err = mgr.Reset(ctx, "g1", "e1")
	assert.ErrorIs(t, err, ErrEventActive)
}

func TestResetPurgesEventAndParticipation(t *testing.T) {
	presence := &fakePresence{members: []Member{
		{UserID: "u1", UserTag: "alice"},
		{UserID: "u2", UserTag: "bob"},
	}}
	mgr, store := newTestManager(t, presence, newFakeBackend("g1", "c1"))
	ctx := context.Background()

	_, err := mgr.Start(ctx, "g1", "e1", 100)
	require.NoError(t, err)
	_, err = mgr.Stop(ctx, "g1", "e1", 200)
	require.NoError(t, err)

	found, err := mgr.Reset(ctx, "g1", "e1")
	require.NoError(t, err)
	assert.True(t, found)

	_, _, err = store.GetVoiceEvent("g1", "e1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	records, err := store.FindParticipationByEvent("e1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The channel is free again.
	_, err = mgr.Start(ctx, "g1", "e1", 300)
	require.NoError(t, err)
}
