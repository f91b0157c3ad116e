package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/storage"
	"rollcall/pkg/retrylimit"
)

// Tracker owns per-(event, user) engaged-time bookkeeping. All mutation goes
// through the store's compare-and-write contract; a stale revision is retried
// with a fresh load and recompute up to the configured attempt bound.
type Tracker struct {
	store   Store
	retries int
}

func NewTracker(store Store, conflictRetries int) *Tracker {
	if conflictRetries < 1 {
		conflictRetries = 1
	}
	return &Tracker{store: store, retries: conflictRetries}
}

// ActiveEvent resolves the event currently hosted on a voice channel, or nil
// when the channel hosts none. A broken single-active invariant surfaces as
// storage.ErrAmbiguousActiveEvent.
func (t *Tracker) ActiveEvent(voiceChannelID string) (*storage.VoiceEvent, error) {
	if voiceChannelID == "" {
		return nil, nil
	}

	ev, _, err := t.store.FindActiveEventByChannel(voiceChannelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// HandleVoiceUpdate classifies one presence change and applies it to the
// affected event(s). Changes on channels that host no active event are
// ignored.
func (t *Tracker) HandleVoiceUpdate(ctx context.Context, userID, userTag string, before, after Presence, now int64) error {
	switch Classify(before, after) {
	case TransitionNone:
		return nil

	case TransitionDeafened:
		// The open interval, if any, belongs to the channel the user was in
		// before the change.
		channel := before.ChannelID
		if channel == "" {
			channel = after.ChannelID
		}
		ev, err := t.ActiveEvent(channel)
		if err != nil || ev == nil {
			return err
		}
		return t.CloseInterval(ctx, ev.EventID, userID, userTag, now)

	case TransitionUndeafened:
		ev, err := t.ActiveEvent(after.ChannelID)
		if err != nil || ev == nil {
			return err
		}
		return t.OpenInterval(ctx, ev.EventID, userID, userTag, now)

	case TransitionChannelChanged:
		var errs []error

		if oldEv, err := t.ActiveEvent(before.ChannelID); err != nil {
			errs = append(errs, err)
		} else if oldEv != nil {
			if err := t.CloseInterval(ctx, oldEv.EventID, userID, userTag, now); err != nil {
				errs = append(errs, err)
			}
		}

		// Only open on the destination if the user arrives undeafened.
		if after.ChannelID != "" && !after.SelfDeaf {
			if newEv, err := t.ActiveEvent(after.ChannelID); err != nil {
				errs = append(errs, err)
			} else if newEv != nil {
				if err := t.OpenInterval(ctx, newEv.EventID, userID, userTag, now); err != nil {
					errs = append(errs, err)
				}
			}
		}

		return errors.Join(errs...)
	}

	return nil
}

// OpenInterval marks the user engaged as of now. A no-op if an interval is
// already open.
func (t *Tracker) OpenInterval(ctx context.Context, eventID, userID, userTag string, now int64) error {
	return t.apply(ctx, eventID, userID, userTag, func(rec *storage.ParticipationRecord) {
		if rec.JoinedAt == 0 {
			rec.JoinedAt = now
		}
	})
}

// CloseInterval folds the open interval, if any, into the accumulated total
// and marks the user not engaged. Negative durations from reordered or
// skewed clocks are clamped to zero rather than subtracted.
func (t *Tracker) CloseInterval(ctx context.Context, eventID, userID, userTag string, now int64) error {
	return t.apply(ctx, eventID, userID, userTag, func(rec *storage.ParticipationRecord) {
		if rec.JoinedAt != 0 {
			rec.AccumulatedSeconds += clampSeconds(now - rec.JoinedAt)
			rec.JoinedAt = 0
		}
	})
}

// SeedRecord creates the user's record at event start. Non-deafened members
// start engaged immediately; deafened members start with no open interval.
func (t *Tracker) SeedRecord(eventID, userID, userTag string, selfDeaf bool, startedAt int64) (string, error) {
	rec := &storage.ParticipationRecord{
		EventID: eventID,
		UserID:  userID,
		UserTag: userTag,
	}
	if !selfDeaf {
		rec.JoinedAt = startedAt
	}
	return t.store.PutParticipation(rec, "")
}

// apply runs one load-mutate-write round against the user's record, creating
// it lazily when absent, and retries from a fresh load on revision conflicts.
// A concurrent create for the same key is itself a conflict and retries the
// same way.
func (t *Tracker) apply(ctx context.Context, eventID, userID, userTag string, mutate func(*storage.ParticipationRecord)) error {
	cfg := retrylimit.RetryConfig{
		MaxAttempts:  t.retries,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
		Quiet:        true,
		ErrorClassifier: func(err error) bool {
			return errors.Is(err, storage.ErrConflict)
		},
	}

	err := retrylimit.WithRetryConfig(ctx, func() error {
		rec, rev, err := t.store.GetParticipation(eventID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			rec = &storage.ParticipationRecord{EventID: eventID, UserID: userID}
			rev = ""
		} else if err != nil {
			return retrylimit.Fatal(err)
		}

		if userTag != "" {
			rec.UserTag = userTag
		}
		mutate(rec)

		_, err = t.store.PutParticipation(rec, rev)
		return err
	}, nil, cfg)
	if err != nil {
		return fmt.Errorf("apply participation update %s/%s: %w", eventID, userID, err)
	}
	return nil
}

func clampSeconds(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}
