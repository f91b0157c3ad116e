package discord

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/command"
)

// registerCommands pushes the slash command set to a guild. Bulk overwrite
// keeps the remote set in sync with whatever the registry currently holds.
func (b *Bot) registerCommands(guildID string) error {
	var defs []*discordgo.ApplicationCommand
	for _, cmd := range command.All() {
		sp, ok := cmd.(command.SlashProvider)
		if !ok {
			continue
		}
		defs = append(defs, sp.SlashDefinition())
	}

	if len(defs) == 0 {
		return nil
	}

	appID := b.dg.State.User.ID
	if _, err := b.dg.ApplicationCommandBulkOverwrite(appID, guildID, defs); err != nil {
		return err
	}
	log.Printf("[INFO] Registered %d slash commands for guild %s", len(defs), guildID)
	return nil
}
