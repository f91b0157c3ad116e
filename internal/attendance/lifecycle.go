package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"rollcall/internal/storage"
	"rollcall/pkg/retrylimit"
	"rollcall/pkg/util"
)

// Member is one occupant of a voice channel at snapshot time.
type Member struct {
	UserID   string
	UserTag  string
	SelfDeaf bool
}

// PresenceSource enumerates the current occupants of a voice channel.
// The Discord gateway adapter implements this.
type PresenceSource interface {
	ChannelMembers(ctx context.Context, guildID, voiceChannelID string) ([]Member, error)
}

// EventMetadata is what the backend knows about a scheduled event.
type EventMetadata struct {
	GuildID        string
	VoiceChannelID string
}

// Backend is the event-metadata collaborator: it resolves events to voice
// channels, learns authoritative timestamps when an operation was not
// externally timestamped, and is told when totals are ready for evaluation.
type Backend interface {
	EventMetadata(ctx context.Context, eventID string) (EventMetadata, error)
	NotifyFinalized(ctx context.Context, guildID, eventID string) error
	RecordStart(ctx context.Context, eventID string, startedAt int64) error
	RecordEnd(ctx context.Context, eventID string, endedAt int64) error
}

// ManagerConfig tunes the lifecycle manager.
type ManagerConfig struct {
	// Workers bounds the finalization fan-out during Stop.
	Workers int
	// RecordTimeout bounds each per-record finalization write.
	RecordTimeout time.Duration
}

// Manager drives event boundaries: Start snapshots the channel, Stop
// finalizes every open interval, Reset purges a finished event's state.
type Manager struct {
	store    Store
	tracker  *Tracker
	presence PresenceSource
	backend  Backend

	workers       int
	recordTimeout time.Duration
}

func NewManager(store Store, tracker *Tracker, presence PresenceSource, backend Backend, cfg ManagerConfig) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	return &Manager{
		store:         store,
		tracker:       tracker,
		presence:      presence,
		backend:       backend,
		workers:       cfg.Workers,
		recordTimeout: cfg.RecordTimeout,
	}
}

// StartResult reports what Start created.
type StartResult struct {
	StartedAt int64
	Seeded    int
}

// Start creates the event window and seeds a participation record for every
// member currently in the event's voice channel: non-deafened members start
// engaged at StartedAt, deafened members start with no open interval.
// All-or-nothing: any failure rolls back whatever was created and no active
// event is left behind. ts == 0 means "now", and the authoritative start
// time is then reported back to the backend.
func (m *Manager) Start(ctx context.Context, guildID, eventID string, ts int64) (*StartResult, error) {
	if ev, _, err := m.store.GetVoiceEvent(guildID, eventID); err == nil {
		if ev.IsActive {
			return nil, fmt.Errorf("event %s is running: %w", eventID, ErrEventExists)
		}
		return nil, fmt.Errorf("event %s already ended: %w", eventID, ErrEventExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	meta, err := m.backend.EventMetadata(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for event %s: %w", eventID, err)
	}
	if meta.GuildID != "" && meta.GuildID != guildID {
		return nil, fmt.Errorf("event %s is in guild %s: %w", eventID, meta.GuildID, ErrGuildMismatch)
	}

	// One active event per voice channel.
	if _, _, err := m.store.FindActiveEventByChannel(meta.VoiceChannelID); err == nil {
		return nil, fmt.Errorf("channel %s: %w", meta.VoiceChannelID, ErrChannelBusy)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// Enumerate before creating anything so an unavailable presence source
	// leaves no state behind at all.
	members, err := m.presence.ChannelMembers(ctx, guildID, meta.VoiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("enumerate members of channel %s: %w", meta.VoiceChannelID, err)
	}

	startedAt := ts
	externallyTimestamped := ts != 0
	if !externallyTimestamped {
		startedAt = time.Now().Unix()
	}

	ev := &storage.VoiceEvent{
		GuildID:        guildID,
		EventID:        eventID,
		VoiceChannelID: meta.VoiceChannelID,
		StartedAt:      startedAt,
		IsActive:       true,
	}
	evRev, err := m.store.PutVoiceEvent(ev, "")
	if err != nil {
		return nil, fmt.Errorf("create event %s: %w", eventID, err)
	}

	var (
		mu     sync.Mutex
		seeded []seededRecord
	)
	err = util.Parallel(ctx, members, m.workers, func(_ context.Context, mb Member) error {
		rev, err := m.tracker.SeedRecord(eventID, mb.UserID, mb.UserTag, mb.SelfDeaf, startedAt)
		if err != nil {
			return fmt.Errorf("seed participation %s/%s: %w", eventID, mb.UserID, err)
		}
		mu.Lock()
		seeded = append(seeded, seededRecord{userID: mb.UserID, rev: rev})
		mu.Unlock()
		return nil
	})
	if err != nil {
		m.rollbackStart(guildID, eventID, evRev, seeded)
		return nil, err
	}

	if !externallyTimestamped {
		if err := m.backend.RecordStart(ctx, eventID, startedAt); err != nil {
			log.Printf("[WARN] Failed to report start time of event %s: %v", eventID, err)
		}
	}

	return &StartResult{StartedAt: startedAt, Seeded: len(members)}, nil
}

type seededRecord struct {
	userID string
	rev    string
}

// rollbackStart undoes a partially created event so no active event is left
// behind a failed Start.
func (m *Manager) rollbackStart(guildID, eventID, evRev string, seeded []seededRecord) {
	for _, sr := range seeded {
		if err := m.store.DeleteParticipation(eventID, sr.userID, sr.rev); err != nil {
			log.Printf("[ERR] Rollback: failed to delete participation %s/%s: %v", eventID, sr.userID, err)
		}
	}
	if err := m.store.DeleteVoiceEvent(guildID, eventID, evRev); err != nil {
		log.Printf("[ERR] Rollback: failed to delete event %s/%s: %v", guildID, eventID, err)
	}
}

// StopResult reports how a stop went. Warnings carry the per-record and
// notification failures that did not abort the stop itself.
type StopResult struct {
	EndedAt   int64
	Finalized int
	Warnings  []string
}

// Stop ends an active event and finalizes every participation record with an
// open interval, adding (endedAt - joinedAt) to its total. The event mutation
// is all-or-nothing; finalization is best-effort per record with a bounded
// worker pool, and failures are collected as warnings rather than aborting
// the batch. ts == 0 means "now".
func (m *Manager) Stop(ctx context.Context, guildID, eventID string, ts int64) (*StopResult, error) {
	endedAt := ts
	externallyTimestamped := ts != 0
	if !externallyTimestamped {
		endedAt = time.Now().Unix()
	}

	if err := m.endEvent(ctx, guildID, eventID, endedAt); err != nil {
		return nil, err
	}

	res := &StopResult{EndedAt: endedAt}

	open, err := m.store.FindOpenParticipation(eventID)
	if err != nil {
		// The event is already marked ended; report the stop with a warning
		// rather than pretending it failed wholesale.
		res.Warnings = append(res.Warnings, fmt.Sprintf("list open participation: %v", err))
		open = nil
	}

	var mu sync.Mutex
	wp := workerpool.New(m.workers)
	for _, vp := range open {
		rec := vp.Record
		wp.Submit(func() {
			cctx, cancel := context.WithTimeout(ctx, m.recordTimeout)
			defer cancel()

			if err := m.tracker.CloseInterval(cctx, eventID, rec.UserID, rec.UserTag, endedAt); err != nil {
				log.Printf("[WARN] Finalize %s/%s: %v", eventID, rec.UserID, err)
				mu.Lock()
				res.Warnings = append(res.Warnings, fmt.Sprintf("finalize %s: %v", rec.UserID, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			res.Finalized++
			mu.Unlock()
		})
	}
	wp.StopWait()

	if !externallyTimestamped {
		if err := m.backend.RecordEnd(ctx, eventID, endedAt); err != nil {
			log.Printf("[WARN] Failed to report end time of event %s: %v", eventID, err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("report end time: %v", err))
		}
	}

	if err := m.backend.NotifyFinalized(ctx, guildID, eventID); err != nil {
		log.Printf("[WARN] Failed to notify backend about event %s totals: %v", eventID, err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("notify backend: %v", err))
	}

	return res, nil
}

// endEvent flips the event to inactive under compare-and-write, retrying on
// conflicts. Losing the race to another stop surfaces as ErrEventNotActive.
func (m *Manager) endEvent(ctx context.Context, guildID, eventID string, endedAt int64) error {
	cfg := retrylimit.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 25 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
		Quiet:        true,
		ErrorClassifier: func(err error) bool {
			return errors.Is(err, storage.ErrConflict)
		},
	}

	return retrylimit.WithRetryConfig(ctx, func() error {
		ev, rev, err := m.store.GetVoiceEvent(guildID, eventID)
		if err != nil {
			return retrylimit.Fatal(fmt.Errorf("load event %s/%s: %w", guildID, eventID, err))
		}
		if !ev.IsActive {
			return retrylimit.Fatal(fmt.Errorf("event %s: %w", eventID, ErrEventNotActive))
		}

		ev.IsActive = false
		ev.EndedAt = endedAt
		_, err = m.store.PutVoiceEvent(ev, rev)
		return err
	}, nil, cfg)
}

// Reset deletes a finished event's window and purges its participation
// records. Returns false without error when nothing was tracked. Resetting a
// running event is refused; stop it first.
func (m *Manager) Reset(ctx context.Context, guildID, eventID string) (bool, error) {
	cfg := retrylimit.RetryConfig{
		MaxAttempts:  5,
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
		ev, rev, err := m.store.GetVoiceEvent(guildID, eventID)
		if err != nil {
			return retrylimit.Fatal(err)
		}
		if ev.IsActive {
			return retrylimit.Fatal(fmt.Errorf("event %s: %w", eventID, ErrEventActive))
		}
		return m.store.DeleteVoiceEvent(guildID, eventID, rev)
	}, nil, cfg)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Purge the event's participation records so reset leaves no orphans.
	// Best-effort: a record that cannot be deleted is logged, not fatal.
	records, err := m.store.FindParticipationByEvent(eventID)
	if err != nil {
		log.Printf("[WARN] Reset %s: failed to list participation records: %v", eventID, err)
		return true, nil
	}
	for _, vp := range records {
		if err := m.store.DeleteParticipation(eventID, vp.Record.UserID, vp.Rev); err != nil {
			log.Printf("[WARN] Reset %s: failed to delete participation for %s: %v", eventID, vp.Record.UserID, err)
		}
	}

	return true, nil
}
