package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/events/evt-42", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]string{
			"guild_id":         "g1",
			"voice_channel_id": "c1",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "sekrit")
	meta, err := client.EventMetadata(context.Background(), "evt-42")
	require.NoError(t, err)
	assert.Equal(t, "g1", meta.GuildID)
	assert.Equal(t, "c1", meta.VoiceChannelID)
}

func TestEventMetadataMissingChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"guild_id": "g1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.EventMetadata(context.Background(), "evt-42")
	assert.ErrorContains(t, err, "no voice channel")
}

func TestNotifyFinalized(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events/evt-42/attendance/finalized", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	require.NoError(t, client.NotifyFinalized(context.Background(), "g1", "evt-42"))
	assert.Equal(t, map[string]string{"guild_id": "g1"}, got)
}

func TestRecordStartAndEnd(t *testing.T) {
	var bodies []map[string]int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/events/evt-42", r.URL.Path)
		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	require.NoError(t, client.RecordStart(context.Background(), "evt-42", 100))
	require.NoError(t, client.RecordEnd(context.Background(), "evt-42", 200))

	require.Len(t, bodies, 2)
	assert.EqualValues(t, 100, bodies[0]["started_at"])
	assert.EqualValues(t, 200, bodies[1]["ended_at"])
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"guild_id":         "g1",
			"voice_channel_id": "c1",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	meta, err := client.EventMetadata(context.Background(), "evt-42")
	require.NoError(t, err)
	assert.Equal(t, "c1", meta.VoiceChannelID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown event", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.EventMetadata(context.Background(), "evt-42")
	require.Error(t, err)
	assert.ErrorContains(t, err, "backend http 404")
	assert.EqualValues(t, 1, calls.Load())
}
