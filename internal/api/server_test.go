package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
	"rollcall/internal/storage"
)

type stubLifecycle struct {
	startRes *attendance.StartResult
	startErr error
	stopRes  *attendance.StopResult
	stopErr  error
	found    bool
	resetErr error

	gotGuild string
	gotEvent string
	gotTS    int64
}

func (s *stubLifecycle) Start(_ context.Context, guildID, eventID string, ts int64) (*attendance.StartResult, error) {
	s.gotGuild, s.gotEvent, s.gotTS = guildID, eventID, ts
	return s.startRes, s.startErr
}

func (s *stubLifecycle) Stop(_ context.Context, guildID, eventID string, ts int64) (*attendance.StopResult, error) {
	s.gotGuild, s.gotEvent, s.gotTS = guildID, eventID, ts
	return s.stopRes, s.stopErr
}

func (s *stubLifecycle) Reset(_ context.Context, guildID, eventID string) (bool, error) {
	s.gotGuild, s.gotEvent = guildID, eventID
	return s.found, s.resetErr
}

func newTestServer(t *testing.T, lc Lifecycle) (*Server, *storage.Storage) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(":0", lc, store), store
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &stubLifecycle{})

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartEndpoint(t *testing.T) {
	lc := &stubLifecycle{startRes: &attendance.StartResult{StartedAt: 100, Seeded: 3}}
	s, _ := newTestServer(t, lc)

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/start", `{"timestamp":100}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", lc.gotGuild)
	assert.Equal(t, "e1", lc.gotEvent)
	assert.EqualValues(t, 100, lc.gotTS)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 100, body["started_at"])
	assert.EqualValues(t, 3, body["seeded"])
}

func TestStartEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", attendance.ErrEventExists, http.StatusConflict},
		{"busy channel", attendance.ErrChannelBusy, http.StatusConflict},
		{"guild mismatch", attendance.ErrGuildMismatch, http.StatusForbidden},
		{"unknown event", storage.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &stubLifecycle{startErr: tt.err})
			rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/start", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestStopEndpoint(t *testing.T) {
	lc := &stubLifecycle{stopRes: &attendance.StopResult{
		EndedAt:   200,
		Finalized: 2,
		Warnings:  []string{"finalize u9: timeout"},
	}}
	s, _ := newTestServer(t, lc)

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/stop", `{"timestamp":200}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 200, body["ended_at"])
	assert.EqualValues(t, 2, body["finalized"])
	assert.Len(t, body["warnings"], 1)
}

func TestStopEndpointAlreadyEnded(t *testing.T) {
	s, _ := newTestServer(t, &stubLifecycle{stopErr: attendance.ErrEventNotActive})

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResetEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &stubLifecycle{found: true})

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["found"])
}

func TestResetEndpointWhileActive(t *testing.T) {
	s, _ := newTestServer(t, &stubLifecycle{resetErr: attendance.ErrEventActive})

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/reset", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestParticipationEndpoint(t *testing.T) {
	s, store := newTestServer(t, &stubLifecycle{})

	records := []*storage.ParticipationRecord{
		{EventID: "e1", UserID: "u1", UserTag: "alice", AccumulatedSeconds: 30},
		{EventID: "e1", UserID: "u2", UserTag: "bob", AccumulatedSeconds: 90, JoinedAt: 100},
	}
	for _, rec := range records {
		_, err := store.PutParticipation(rec, "")
		require.NoError(t, err)
	}

	rec := doRequest(s, http.MethodGet, "/v1/guilds/g1/events/e1/participation", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		EventID       string               `json:"event_id"`
		Participation []participationEntry `json:"participation"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "e1", body.EventID)
	require.Len(t, body.Participation, 2)

	// Sorted by accumulated time, highest first.
	assert.Equal(t, "u2", body.Participation[0].UserID)
	assert.True(t, body.Participation[0].Engaged)
	assert.Equal(t, "u1", body.Participation[1].UserID)
}

func TestStartEndpointBadBody(t *testing.T) {
	s, _ := newTestServer(t, &stubLifecycle{})

	rec := doRequest(s, http.MethodPost, "/v1/guilds/g1/events/e1/start", `{"timestamp":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
