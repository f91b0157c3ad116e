package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/storage"
	"rollcall/pkg/util"
)

// statusListLimit caps how many members fit into one status embed.
const statusListLimit = 20

type EventStatusCommand struct{}

func (c *EventStatusCommand) Name() string { return "event-status" }
func (c *EventStatusCommand) Description() string {
	return "Show an event's attendance totals so far"
}
func (c *EventStatusCommand) Aliases() []string { return []string{} }

func (c *EventStatusCommand) Group() string    { return "events" }
func (c *EventStatusCommand) Category() string { return "🎟️ Events" }

func (c *EventStatusCommand) RequireAdmin() bool { return false }

func (c *EventStatusCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.Name(),
		Description: c.Description(),
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "event_id",
				Description: "Backend id of the scheduled event",
				Required:    true,
			},
		},
	}
}

func (c *EventStatusCommand) Run(ctx interface{}) error {
	slash, ok := ctx.(*SlashContext)
	if !ok {
		return fmt.Errorf("wrong context type")
	}

	session := slash.Session
	event := slash.Event

	opts := optionMap(event)
	eventID := stringOption(opts, "event_id")

	ev, _, err := slash.Storage.GetVoiceEvent(event.GuildID, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return respondEphemeral(session, event, fmt.Sprintf("No tracked event `%s` in this guild.", eventID))
		}
		return respondEphemeral(session, event, fmt.Sprintf("Could not load `%s`: %v", eventID, err))
	}

	records, err := slash.Storage.FindParticipationByEvent(eventID)
	if err != nil {
		return respondEphemeral(session, event, fmt.Sprintf("Could not load participation for `%s`: %v", eventID, err))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Record.AccumulatedSeconds > records[j].Record.AccumulatedSeconds
	})

	var sb strings.Builder
	for n, vp := range records {
		if n == statusListLimit {
			fmt.Fprintf(&sb, "… and %d more\n", len(records)-statusListLimit)
			break
		}
		rec := vp.Record
		marker := ""
		if rec.Engaged() {
			marker = " 🔊"
		}
		name := rec.UserTag
		if name == "" {
			name = rec.UserID
		}
		fmt.Fprintf(&sb, "%s — %s%s\n", name, util.FormatSeconds(rec.AccumulatedSeconds), marker)
	}
	if sb.Len() == 0 {
		sb.WriteString("(no participation recorded yet)")
	}

	state := "🟢 active"
	window := fmt.Sprintf("since %s", util.FormatUnix(ev.StartedAt, "YYYY-MM-DD hh:mm:ss"))
	if !ev.IsActive {
		state = "⚪ ended"
		window = fmt.Sprintf("%s → %s",
			util.FormatUnix(ev.StartedAt, "YYYY-MM-DD hh:mm:ss"),
			util.FormatUnix(ev.EndedAt, "YYYY-MM-DD hh:mm:ss"))
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Event %s (%s)", eventID, state),
		Description: sb.String(),
		Footer:      &discordgo.MessageEmbedFooter{Text: window},
	}
	return respondEmbed(session, event, embed)
}

func init() {
	Register(
		WithGuildOnly(
			&EventStatusCommand{},
		),
	)
}
