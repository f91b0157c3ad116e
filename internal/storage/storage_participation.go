package storage

import (
	"encoding/json"
	"fmt"
)

const participationPrefix = "participation:"

// ParticipationRecord tracks one user's engaged time within one event.
// JoinedAt == 0 means the user is not currently engaged; any non-zero value
// is the unix-seconds start of the open engaged interval. AccumulatedSeconds
// only ever covers closed intervals.
type ParticipationRecord struct {
	EventID            string `json:"event_id"`
	UserID             string `json:"user_id"`
	UserTag            string `json:"user_tag"`
	JoinedAt           int64  `json:"joined_at"`
	AccumulatedSeconds int64  `json:"accumulated_seconds"`
}

// Engaged reports whether the record has an open engaged interval.
func (r *ParticipationRecord) Engaged() bool { return r.JoinedAt != 0 }

// VersionedParticipation pairs a record with the revision it was read at.
type VersionedParticipation struct {
	Record ParticipationRecord
	Rev    string
}

// ParticipationKey builds the document id for a user's record within an event.
func ParticipationKey(eventID, userID string) string {
	return participationPrefix + eventID + ":" + userID
}

// GetParticipation loads a record and its revision token.
func (s *Storage) GetParticipation(eventID, userID string) (*ParticipationRecord, string, error) {
	data, rev, err := s.ds.Get(ParticipationKey(eventID, userID))
	if err != nil {
		return nil, "", err
	}

	var rec ParticipationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", fmt.Errorf("decode participation %s/%s: %w", eventID, userID, err)
	}
	return &rec, rev, nil
}

// PutParticipation writes a record. An empty rev creates the document; a
// stale rev yields ErrConflict, including a create racing another create.
func (s *Storage) PutParticipation(rec *ParticipationRecord, rev string) (string, error) {
	return s.ds.Put(ParticipationKey(rec.EventID, rec.UserID), rec, rev)
}

// DeleteParticipation removes a record at the given revision.
func (s *Storage) DeleteParticipation(eventID, userID, rev string) error {
	return s.ds.Delete(ParticipationKey(eventID, userID), rev)
}

// FindParticipationByEvent returns every record belonging to an event.
func (s *Storage) FindParticipationByEvent(eventID string) ([]VersionedParticipation, error) {
	return s.findParticipation(eventID, nil)
}

// FindOpenParticipation returns the event's records with an open engaged
// interval, i.e. the ones stop-finalization still has to close.
func (s *Storage) FindOpenParticipation(eventID string) ([]VersionedParticipation, error) {
	return s.findParticipation(eventID, func(rec *ParticipationRecord) bool {
		return rec.Engaged()
	})
}

func (s *Storage) findParticipation(eventID string, keep func(*ParticipationRecord) bool) ([]VersionedParticipation, error) {
	docs, err := s.ds.Find(participationPrefix+eventID+":", nil)
	if err != nil {
		return nil, err
	}

	var out []VersionedParticipation
	for _, doc := range docs {
		var rec ParticipationRecord
		if err := json.Unmarshal(doc.Data, &rec); err != nil {
			return nil, fmt.Errorf("decode participation %s: %w", doc.ID, err)
		}
		if keep != nil && !keep(&rec) {
			continue
		}
		out = append(out, VersionedParticipation{Record: rec, Rev: doc.Rev})
	}
	return out, nil
}
