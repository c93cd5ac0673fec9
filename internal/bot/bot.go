package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/rs/zerolog"

	"channel-access-bot/internal/access"
	"channel-access-bot/internal/admin"
	"channel-access-bot/internal/telegram"
	"channel-access-bot/internal/tracker"
)

type Bot struct {
	client  *telegram.Client
	guard   admin.Guard
	access  *access.Service
	admin   *admin.Service
	tracker *tracker.Tracker
	log     zerolog.Logger
}

func NewBot(
	client *telegram.Client,
	guard admin.Guard,
	accessService *access.Service,
	adminService *admin.Service,
	joinTracker *tracker.Tracker,
	log zerolog.Logger,
) *Bot {
	return &Bot{
		client:  client,
		guard:   guard,
		access:  accessService,
		admin:   adminService,
		tracker: joinTracker,
		log:     log,
	}
}

// Start polls for updates and dispatches them until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.client.Bot().UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		AllowedUpdates: []string{"message", "chat_member"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.client.Bot(), updates)
	if err != nil {
		return fmt.Errorf("create bot handler: %w", err)
	}

	handler.Use(b.recoverPanic)

	handler.Handle(b.handleStart, th.CommandEqual("start"))
	handler.Handle(b.handleHelp, th.CommandEqual("help"))

	handler.Handle(b.handleSetChannel, th.CommandEqual("setch"))
	handler.Handle(b.handleMyChannel, th.CommandEqual("mysetch"))
	handler.Handle(b.handleSetDomain, th.CommandEqual("setdomain"))
	handler.Handle(b.handleSetAPI, th.CommandEqual("setapi"))
	handler.Handle(b.handleSetTime, th.CommandEqual("settime"))
	handler.Handle(b.handleStats, th.CommandEqual("stats"))
	handler.Handle(b.handleBroadcast, th.CommandEqual("broadcast"))
	handler.Handle(b.handleReset, th.CommandEqual("dltall"))

	handler.Handle(b.handleChatMember, th.AnyChatMember())

	b.log.Info().Msg("Bot polling started")
	return handler.Start()
}

// recoverPanic keeps a failing handler from taking the process down.
func (b *Bot) recoverPanic(ctx *th.Context, update telego.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Int("update_id", update.UpdateID).
				Msg("Recovered panic in update handler")
			if update.Message != nil {
				b.reply(ctx.Context(), update.Message.Chat.ID, internalErrorText)
			}
			err = nil
		}
	}()
	return ctx.Next(update)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.client.SendText(ctx, chatID, text); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}

func (b *Bot) handleStart(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message.From == nil {
		return nil
	}

	if _, err := b.access.Grant(ctx.Context(), message.From.ID); err != nil {
		if text := grantErrorText(err); text != "" {
			b.reply(ctx.Context(), message.Chat.ID, text)
		}
	}
	return nil
}

func (b *Bot) handleHelp(ctx *th.Context, update telego.Update) error {
	message := update.Message
	isAdmin := message.From != nil && b.guard.IsAdmin(message.From.ID)
	b.reply(ctx.Context(), message.Chat.ID, helpText(isAdmin))
	return nil
}

func (b *Bot) handleChatMember(ctx *th.Context, update telego.Update) error {
	u, ok := telegram.ConvertMemberUpdate(update.ChatMember)
	if !ok {
		return nil
	}
	b.tracker.Handle(ctx.Context(), u)
	return nil
}
