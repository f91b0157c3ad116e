package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "voice_event:g1:e1", VoiceEventKey("g1", "e1"))
	assert.Equal(t, "participation:e1:u1", ParticipationKey("e1", "u1"))
}

func TestVoiceEventRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	ev := &VoiceEvent{
		GuildID:        "g1",
		EventID:        "e1",
		VoiceChannelID: "c1",
		StartedAt:      100,
		IsActive:       true,
	}
	rev, err := s.PutVoiceEvent(ev, "")
	require.NoError(t, err)

	got, gotRev, err := s.GetVoiceEvent("g1", "e1")
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.Equal(t, ev, got)

	got.IsActive = false
	got.EndedAt = 200
	_, err = s.PutVoiceEvent(got, gotRev)
	require.NoError(t, err)

	// The first writer's revision is now stale.
	_, err = s.PutVoiceEvent(ev, rev)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFindActiveEventByChannel(t *testing.T) {
	s := newTestStorage(t)

	_, _, err := s.FindActiveEventByChannel("c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.PutVoiceEvent(&VoiceEvent{
		GuildID: "g1", EventID: "e1", VoiceChannelID: "c1", StartedAt: 100, IsActive: true,
	}, "")
	require.NoError(t, err)
	_, err = s.PutVoiceEvent(&VoiceEvent{
		GuildID: "g1", EventID: "e0", VoiceChannelID: "c1", StartedAt: 10, EndedAt: 50, IsActive: false,
	}, "")
	require.NoError(t, err)
	_, err = s.PutVoiceEvent(&VoiceEvent{
		GuildID: "g1", EventID: "e2", VoiceChannelID: "c2", StartedAt: 100, IsActive: true,
	}, "")
	require.NoError(t, err)

	ev, rev, err := s.FindActiveEventByChannel("c1")
	require.NoError(t, err)
	assert.NotEmpty(t, rev)
	assert.Equal(t, "e1", ev.EventID)
}

func TestFindActiveEventByChannelAmbiguous(t *testing.T) {
	s := newTestStorage(t)

	for _, id := range []string{"e1", "e2"} {
		_, err := s.PutVoiceEvent(&VoiceEvent{
			GuildID: "g1", EventID: id, VoiceChannelID: "c1", StartedAt: 100, IsActive: true,
		}, "")
		require.NoError(t, err)
	}

	_, _, err := s.FindActiveEventByChannel("c1")
	assert.ErrorIs(t, err, ErrAmbiguousActiveEvent)
}

func TestParticipationRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	rec := &ParticipationRecord{EventID: "e1", UserID: "u1", UserTag: "alice", JoinedAt: 100}
	rev, err := s.PutParticipation(rec, "")
	require.NoError(t, err)

	got, gotRev, err := s.GetParticipation("e1", "u1")
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.Equal(t, rec, got)
	assert.True(t, got.Engaged())

	require.NoError(t, s.DeleteParticipation("e1", "u1", gotRev))
	_, _, err = s.GetParticipation("e1", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindParticipation(t *testing.T) {
	s := newTestStorage(t)

	records := []*ParticipationRecord{
		{EventID: "e1", UserID: "u1", JoinedAt: 100},
		{EventID: "e1", UserID: "u2", AccumulatedSeconds: 30},
		{EventID: "e2", UserID: "u1", JoinedAt: 100},
	}
	for _, rec := range records {
		_, err := s.PutParticipation(rec, "")
		require.NoError(t, err)
	}

	all, err := s.FindParticipationByEvent("e1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	open, err := s.FindOpenParticipation("e1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "u1", open[0].Record.UserID)
}
