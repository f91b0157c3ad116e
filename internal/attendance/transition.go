// Package attendance tracks how long each guild member spends actively
// (non-deafened) present in the voice channel of a scheduled event. Raw
// voice-state changes are classified into semantic transitions and folded
// into per-user engaged-time totals kept in the document store under
// optimistic concurrency.
package attendance

// Presence is one user's voice presence at a single point in time.
// An empty ChannelID means the user is not in any voice channel.
type Presence struct {
	ChannelID string
	SelfDeaf  bool
}

// Transition is the semantic meaning of a before/after presence pair.
type Transition int

const (
	// TransitionNone covers every change that does not affect engagement,
	// including joining a channel while already deafened.
	TransitionNone Transition = iota
	// TransitionDeafened ends the user's engaged interval.
	TransitionDeafened
	// TransitionUndeafened starts an engaged interval.
	TransitionUndeafened
	// TransitionChannelChanged moves the user between channels (either side
	// may be "no channel"); the old channel's interval closes and a new one
	// may open on the destination.
	TransitionChannelChanged
)

func (t Transition) String() string {
	switch t {
	case TransitionDeafened:
		return "deafened"
	case TransitionUndeafened:
		return "undeafened"
	case TransitionChannelChanged:
		return "channel_changed"
	default:
		return "none"
	}
}

// Classify turns a before/after presence pair into a Transition. Pure and
// deterministic. Deafen-state flips win over simultaneous channel moves:
// the deafen flip is what decides whether the user is engaged, and the
// accumulator resolves the affected channels itself.
func Classify(before, after Presence) Transition {
	switch {
	case after.SelfDeaf && !before.SelfDeaf:
		return TransitionDeafened
	case !after.SelfDeaf && before.SelfDeaf:
		return TransitionUndeafened
	case after.ChannelID != before.ChannelID:
		return TransitionChannelChanged
	default:
		return TransitionNone
	}
}
