// Package discord is the gateway adapter: it owns the session, feeds
// voice-state changes into the attendance tracker, and exposes the slash
// command surface.
package discord

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/storage"
)

// Bot is the Discord bot.
type Bot struct {
	dg      *discordgo.Session
	cfg     *config.Config
	storage *storage.Storage
	tracker *attendance.Tracker
	manager *attendance.Manager

	mu         sync.Mutex
	registered map[string]bool // guilds whose slash commands are synced
}

func NewBot(cfg *config.Config, store *storage.Storage, tracker *attendance.Tracker, manager *attendance.Manager) *Bot {
	return &Bot{
		cfg:        cfg,
		storage:    store,
		tracker:    tracker,
		manager:    manager,
		registered: make(map[string]bool),
	}
}

// Run opens the gateway session and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	b.dg = dg

	b.configureIntents()
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	log.Println("[INFO] ❎ Shutdown signal received. Cleaning up...")
	return nil
}

// configureIntents requests only what attendance tracking needs: guild
// metadata, voice states and member data for channel snapshots.
func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[INFO] Logged in as %s#%s (%d guilds)",
		r.User.Username, r.User.Discriminator, len(r.Guilds))
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	b.mu.Lock()
	already := b.registered[g.ID]
	b.registered[g.ID] = true
	b.mu.Unlock()
	if already {
		return
	}

	go func() {
		if err := b.registerCommands(g.ID); err != nil {
			log.Printf("[ERR] Failed to register commands for guild %s: %v", g.ID, err)
		}
	}()
}

// SetManager wires the lifecycle manager after construction. The manager
// needs the bot as its presence source, so the two are built in sequence.
func (b *Bot) SetManager(manager *attendance.Manager) {
	b.manager = manager
}

// Session exposes the underlying session for surfaces that need raw access.
func (b *Bot) Session() *discordgo.Session {
	return b.dg
}

// taskTimeout bounds one presence-change task end to end.
func (b *Bot) taskTimeout() time.Duration {
	if b.cfg.StoreTimeout > 0 {
		return b.cfg.StoreTimeout
	}
	return 10 * time.Second
}
