package discord

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/command"
)

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	cmd, ok := command.Get(name)
	if !ok {
		log.Printf("[WARN] Unknown slash command: %s", name)
		return
	}

	sctx := &command.SlashContext{
		Session: s,
		Event:   i,
		Storage: b.storage,
		Manager: b.manager,
		Tracker: b.tracker,
	}

	if err := cmd.Run(sctx); err != nil {
		log.Printf("[ERR] Command /%s failed: %v", name, err)
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Something went wrong while handling that command.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
	}
}
