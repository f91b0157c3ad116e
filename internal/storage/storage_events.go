package storage

import (
	"encoding/json"
	"fmt"
)

const voiceEventPrefix = "voice_event:"

// VoiceEvent is one attendance-tracking window bound to a voice channel.
// At most one VoiceEvent per voice channel may be active at a time.
type VoiceEvent struct {
	GuildID        string `json:"guild_id"`
	EventID        string `json:"event_id"`
	VoiceChannelID string `json:"voice_channel_id"`
	StartedAt      int64  `json:"started_at"`
	EndedAt        int64  `json:"ended_at,omitempty"`
	IsActive       bool   `json:"is_active"`
}

// VoiceEventKey builds the document id for a guild's event.
func VoiceEventKey(guildID, eventID string) string {
	return voiceEventPrefix + guildID + ":" + eventID
}

// GetVoiceEvent loads an event and its revision token.
func (s *Storage) GetVoiceEvent(guildID, eventID string) (*VoiceEvent, string, error) {
	data, rev, err := s.ds.Get(VoiceEventKey(guildID, eventID))
	if err != nil {
		return nil, "", err
	}

	var ev VoiceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, "", fmt.Errorf("decode voice event %s/%s: %w", guildID, eventID, err)
	}
	return &ev, rev, nil
}

// PutVoiceEvent writes an event. An empty rev creates the document; a
// non-empty rev must match the stored revision or ErrConflict is returned.
func (s *Storage) PutVoiceEvent(ev *VoiceEvent, rev string) (string, error) {
	return s.ds.Put(VoiceEventKey(ev.GuildID, ev.EventID), ev, rev)
}

// DeleteVoiceEvent removes an event document at the given revision.
func (s *Storage) DeleteVoiceEvent(guildID, eventID, rev string) error {
	return s.ds.Delete(VoiceEventKey(guildID, eventID), rev)
}

// FindActiveEventByChannel returns the single active event hosted on a voice
// channel, ErrNotFound when the channel hosts none, and
// ErrAmbiguousActiveEvent when the store holds more than one. The last case
// means the single-active invariant was violated by a bug and is surfaced
// hard rather than picking an arbitrary winner.
func (s *Storage) FindActiveEventByChannel(voiceChannelID string) (*VoiceEvent, string, error) {
	docs, err := s.ds.Find(voiceEventPrefix, func(data json.RawMessage) bool {
		var ev VoiceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return false
		}
		return ev.IsActive && ev.VoiceChannelID == voiceChannelID
	})
	if err != nil {
		return nil, "", err
	}

	switch len(docs) {
	case 0:
		return nil, "", fmt.Errorf("no active event on channel %s: %w", voiceChannelID, ErrNotFound)
	case 1:
		var ev VoiceEvent
		if err := json.Unmarshal(docs[0].Data, &ev); err != nil {
			return nil, "", fmt.Errorf("decode voice event %s: %w", docs[0].ID, err)
		}
		return &ev, docs[0].Rev, nil
	default:
		return nil, "", fmt.Errorf("channel %s has %d active events: %w", voiceChannelID, len(docs), ErrAmbiguousActiveEvent)
	}
}
