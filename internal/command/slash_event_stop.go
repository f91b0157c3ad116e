package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
	"rollcall/internal/storage"
)

type EventStopCommand struct{}

func (c *EventStopCommand) Name() string { return "event-stop" }
func (c *EventStopCommand) Description() string {
	return "Stop an event and finalize attendance totals"
}
func (c *EventStopCommand) Aliases() []string { return []string{} }

func (c *EventStopCommand) Group() string    { return "events" }
func (c *EventStopCommand) Category() string { return "🎟️ Events" }

func (c *EventStopCommand) RequireAdmin() bool { return true }

func (c *EventStopCommand) SlashDefinition() *discordgo.ApplicationCommand {
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
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "timestamp",
				Description: "Unix end time (defaults to now)",
				Required:    false,
			},
		},
	}
}

func (c *EventStopCommand) Run(ctx interface{}) error {
	slash, ok := ctx.(*SlashContext)
	if !ok {
		return fmt.Errorf("wrong context type")
	}

	session := slash.Session
	event := slash.Event

	opts := optionMap(event)
	eventID := stringOption(opts, "event_id")
	ts := intOption(opts, "timestamp")

	if err := respondDeferred(session, event); err != nil {
		log.Println("[ERR] Failed to defer event-stop response:", err)
		return nil
	}

	cctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := slash.Manager.Stop(cctx, event.GuildID, eventID, ts)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return editResponse(session, event, fmt.Sprintf("No tracked event `%s` in this guild.", eventID))
		case errors.Is(err, attendance.ErrEventNotActive):
			return editResponse(session, event, fmt.Sprintf("Event `%s` has already ended.", eventID))
		default:
			return editResponse(session, event, fmt.Sprintf("Could not stop `%s`: %v", eventID, err))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🏁 Event `%s` ended. Finalized %d open interval(s).", eventID, res.Finalized)
	if len(res.Warnings) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ %d record(s) could not be finalized cleanly:", len(res.Warnings))
		for _, w := range res.Warnings {
			fmt.Fprintf(&sb, "\n- %s", w)
		}
	}
	return editResponse(session, event, sb.String())
}

func init() {
	Register(
		WithAdminOnly(
			WithGuildOnly(
				&EventStopCommand{},
			),
		),
	)
}
