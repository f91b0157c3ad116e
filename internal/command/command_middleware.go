package command

import (
	"github.com/bwmarrin/discordgo"
)

type Middleware func(Command) Command

type wrappedCommand struct {
	Command
	wrap func(ctx interface{}) error
}

func (w *wrappedCommand) Run(ctx interface{}) error {
	return w.wrap(ctx)
}

func (w *wrappedCommand) SlashDefinition() *discordgo.ApplicationCommand {
	if sp, ok := w.Command.(SlashProvider); ok {
		return sp.SlashDefinition()
	}
	return nil
}

// WithGuildOnly rejects invocations from DMs.
func WithGuildOnly(cmd Command) Command {
	return &wrappedCommand{
		Command: cmd,
		wrap: func(ctx interface{}) error {
			if v, ok := ctx.(*SlashContext); ok && v.Event.GuildID == "" {
				return respondEphemeral(v.Session, v.Event, "You must be in a guild to use this command.")
			}
			return cmd.Run(ctx)
		},
	}
}

// WithAdminOnly enforces RequireAdmin before running the wrapped command.
func WithAdminOnly(cmd Command) Command {
	return &wrappedCommand{
		Command: cmd,
		wrap: func(ctx interface{}) error {
			v, ok := ctx.(*SlashContext)
			if !ok {
				return cmd.Run(ctx)
			}
			if cmd.RequireAdmin() && !isAdministrator(v.Session, v.Event.GuildID, v.Event.Member) {
				return respondEphemeral(v.Session, v.Event, "This command requires administrator permissions.")
			}
			return cmd.Run(ctx)
		},
	}
}
