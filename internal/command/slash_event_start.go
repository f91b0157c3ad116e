package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
	"rollcall/pkg/util"
)

type EventStartCommand struct{}

func (c *EventStartCommand) Name() string        { return "event-start" }
func (c *EventStartCommand) Description() string { return "Start attendance tracking for an event" }
func (c *EventStartCommand) Aliases() []string   { return []string{} }

func (c *EventStartCommand) Group() string    { return "events" }
func (c *EventStartCommand) Category() string { return "🎟️ Events" }

func (c *EventStartCommand) RequireAdmin() bool { return true }

func (c *EventStartCommand) SlashDefinition() *discordgo.ApplicationCommand {
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
				Description: "Unix start time (defaults to now)",
				Required:    false,
			},
		},
	}
}

func (c *EventStartCommand) Run(ctx interface{}) error {
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
		log.Println("[ERR] Failed to defer event-start response:", err)
		return nil
	}

	cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := slash.Manager.Start(cctx, event.GuildID, eventID, ts)
	if err != nil {
		return editResponse(session, event, startFailureMessage(eventID, err))
	}

	msg := fmt.Sprintf("🎟️ Tracking event `%s` since %s. Snapshotted %d member(s).",
		eventID, util.FormatUnix(res.StartedAt, "YYYY-MM-DD hh:mm:ss"), res.Seeded)
	return editResponse(session, event, msg)
}

func startFailureMessage(eventID string, err error) string {
	switch {
	case errors.Is(err, attendance.ErrEventExists):
		return fmt.Sprintf("Event `%s` is already tracked. Stop or reset it first.", eventID)
	case errors.Is(err, attendance.ErrChannelBusy):
		return "That voice channel already hosts an active event."
	case errors.Is(err, attendance.ErrGuildMismatch):
		return fmt.Sprintf("Event `%s` belongs to a different guild.", eventID)
	default:
		return fmt.Sprintf("Could not start tracking `%s`: %v", eventID, err)
	}
}

func init() {
	Register(
		WithAdminOnly(
			WithGuildOnly(
				&EventStartCommand{},
			),
		),
	)
}
