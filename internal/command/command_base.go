// Package command holds the bot's slash commands and the small framework
// they hang off: a registry, middleware wrappers, and the context types the
// Discord runtime passes into Run.
package command

import (
	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
	"rollcall/internal/storage"
)

type Command interface {
	Name() string
	Description() string
	Aliases() []string
	Group() string
	Category() string
	RequireAdmin() bool
	Run(ctx interface{}) error
}

// SlashProvider is implemented by commands that register a slash definition.
type SlashProvider interface {
	SlashDefinition() *discordgo.ApplicationCommand
}

// SlashContext is what the Discord runtime passes to a slash command.
type SlashContext struct {
	Session *discordgo.Session
	Event   *discordgo.InteractionCreate
	Storage *storage.Storage
	Manager *attendance.Manager
	Tracker *attendance.Tracker
}
