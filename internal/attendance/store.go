package attendance

import "rollcall/internal/storage"

// Store is the slice of the storage layer attendance needs. Satisfied by
// *storage.Storage; tests substitute fakes to exercise failure paths.
type Store interface {
	GetVoiceEvent(guildID, eventID string) (*storage.VoiceEvent, string, error)
	PutVoiceEvent(ev *storage.VoiceEvent, rev string) (string, error)
	DeleteVoiceEvent(guildID, eventID, rev string) error
	FindActiveEventByChannel(voiceChannelID string) (*storage.VoiceEvent, string, error)

	GetParticipation(eventID, userID string) (*storage.ParticipationRecord, string, error)
	PutParticipation(rec *storage.ParticipationRecord, rev string) (string, error)
	DeleteParticipation(eventID, userID, rev string) error
	FindParticipationByEvent(eventID string) ([]storage.VersionedParticipation, error)
	FindOpenParticipation(eventID string) ([]storage.VersionedParticipation, error)
}

var _ Store = (*storage.Storage)(nil)
