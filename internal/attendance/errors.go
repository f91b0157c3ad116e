package attendance

import "errors"

var (
	// ErrEventExists is returned by Start when the event is already tracked.
	ErrEventExists = errors.New("attendance: event already tracked")
	// ErrEventNotActive is returned by Stop when the event has already ended.
	ErrEventNotActive = errors.New("attendance: event is not active")
	// ErrEventActive is returned by Reset while the event is still running.
	ErrEventActive = errors.New("attendance: event is still active")
	// ErrChannelBusy is returned by Start when the voice channel already
	// hosts an active event.
	ErrChannelBusy = errors.New("attendance: voice channel already hosts an active event")
	// ErrGuildMismatch is returned by Start when the backend places the
	// event in a different guild than the caller named.
	ErrGuildMismatch = errors.New("attendance: event belongs to a different guild")
)
