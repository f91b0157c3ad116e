package discord

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
)

// onVoiceStateUpdate feeds one raw presence change into the tracker. Each
// notification runs as its own short task with a timeout; the gateway gives
// no ordering guarantees, and the store's revision checks keep concurrent
// tasks on the same user consistent.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State.User != nil && vs.UserID == s.State.User.ID {
		return
	}

	var before attendance.Presence
	if vs.BeforeUpdate != nil {
		before = attendance.Presence{
			ChannelID: vs.BeforeUpdate.ChannelID,
			SelfDeaf:  vs.BeforeUpdate.SelfDeaf,
		}
	}
	after := attendance.Presence{
		ChannelID: vs.ChannelID,
		SelfDeaf:  vs.SelfDeaf,
	}

	userTag := ""
	if vs.Member != nil && vs.Member.User != nil {
		userTag = vs.Member.User.Username
	}

	now := time.Now().Unix()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.taskTimeout())
		defer cancel()

		if err := b.tracker.HandleVoiceUpdate(ctx, vs.UserID, userTag, before, after, now); err != nil {
			log.Printf("[ERR] Voice update for user %s: %v", vs.UserID, err)
		}
	}()
}

// ChannelMembers implements attendance.PresenceSource from gateway state:
// the occupants of a voice channel together with their deafen state.
func (b *Bot) ChannelMembers(ctx context.Context, guildID, voiceChannelID string) ([]attendance.Member, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s not in state: %w", guildID, err)
	}

	var members []attendance.Member
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != voiceChannelID {
			continue
		}
		if b.dg.State.User != nil && vs.UserID == b.dg.State.User.ID {
			continue
		}
		members = append(members, attendance.Member{
			UserID:   vs.UserID,
			UserTag:  b.memberTag(guildID, vs.UserID),
			SelfDeaf: vs.SelfDeaf,
		})
	}
	return members, nil
}

// memberTag resolves a display identity, falling back to the bare id when
// the member is not cached and the API lookup fails.
func (b *Bot) memberTag(guildID, userID string) string {
	if m, err := b.dg.State.Member(guildID, userID); err == nil && m.User != nil {
		return m.User.Username
	}
	if m, err := b.dg.GuildMember(guildID, userID); err == nil && m.User != nil {
		return m.User.Username
	}
	return userID
}
