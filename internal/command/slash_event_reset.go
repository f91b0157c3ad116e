package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
)

type EventResetCommand struct{}

func (c *EventResetCommand) Name() string { return "event-reset" }
func (c *EventResetCommand) Description() string {
	return "Delete a finished event's attendance state"
}
func (c *EventResetCommand) Aliases() []string { return []string{} }

func (c *EventResetCommand) Group() string    { return "events" }
func (c *EventResetCommand) Category() string { return "🎟️ Events" }

func (c *EventResetCommand) RequireAdmin() bool { return true }

func (c *EventResetCommand) SlashDefinition() *discordgo.ApplicationCommand {
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

func (c *EventResetCommand) Run(ctx interface{}) error {
	slash, ok := ctx.(*SlashContext)
	if !ok {
		return fmt.Errorf("wrong context type")
	}

	session := slash.Session
	event := slash.Event

	opts := optionMap(event)
	eventID := stringOption(opts, "event_id")

	cctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	found, err := slash.Manager.Reset(cctx, event.GuildID, eventID)
	if err != nil {
		if errors.Is(err, attendance.ErrEventActive) {
			return respondEphemeral(session, event,
				fmt.Sprintf("Event `%s` is still running. Stop it before resetting.", eventID))
		}
		return respondEphemeral(session, event, fmt.Sprintf("Could not reset `%s`: %v", eventID, err))
	}
	if !found {
		return respondEphemeral(session, event, fmt.Sprintf("No tracked event `%s` in this guild.", eventID))
	}

	return respond(session, event, fmt.Sprintf("🧹 Event `%s` attendance state deleted.", eventID))
}

func init() {
	Register(
		WithAdminOnly(
			WithGuildOnly(
				&EventResetCommand{},
			),
		),
	)
}
