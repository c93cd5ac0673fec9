package bot

import (
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"channel-access-bot/internal/admin"
)

// authorize replies with a refusal and returns false for non-admins.
func (b *Bot) authorize(ctx *th.Context, message *telego.Message) bool {
	var userID int64
	if message.From != nil {
		userID = message.From.ID
	}
	if err := b.guard.Authorize(userID); err != nil {
		b.log.Warn().Int64("user_id", userID).Str("command", commandName(message.Text)).Msg("Admin command refused")
		b.reply(ctx.Context(), message.Chat.ID, notAdminText)
		return false
	}
	return true
}

func (b *Bot) handleSetChannel(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	args := commandArgs(message.Text)
	if len(args) < 1 {
		b.reply(ctx.Context(), message.Chat.ID, "⚠️ Usage: /setch <channel_id>")
		return nil
	}
	id, err := b.admin.SetChannel(ctx.Context(), args[0])
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, "/setch <channel_id>"))
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, fmt.Sprintf("✅ Channel ID %d set successfully.", id))
	return nil
}

func (b *Bot) handleMyChannel(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	channelID, err := b.admin.Channel(ctx.Context())
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, ""))
		return nil
	}
	if channelID == nil {
		b.reply(ctx.Context(), message.Chat.ID, "ℹ️ No channel configured yet. Use /setch.")
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, fmt.Sprintf("ℹ️ Current channel ID: %d", *channelID))
	return nil
}

func (b *Bot) handleSetDomain(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	args := commandArgs(message.Text)
	if len(args) < 1 {
		b.reply(ctx.Context(), message.Chat.ID, "⚠️ Usage: /setdomain <domain.com>")
		return nil
	}
	domain, err := b.admin.SetDomain(ctx.Context(), args[0])
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, "/setdomain <domain.com>"))
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, fmt.Sprintf("✅ Shortener domain %s set successfully.", domain))
	return nil
}

func (b *Bot) handleSetAPI(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	args := commandArgs(message.Text)
	if len(args) < 1 {
		b.reply(ctx.Context(), message.Chat.ID, "⚠️ Usage: /setapi <api_key>")
		return nil
	}
	if err := b.admin.SetAPIKey(ctx.Context(), args[0]); err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, "/setapi <api_key>"))
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, "✅ Shortener API key set successfully.")
	return nil
}

func (b *Bot) handleSetTime(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	args := commandArgs(message.Text)
	if len(args) < 2 {
		b.reply(ctx.Context(), message.Chat.ID, setTimeUsageText)
		return nil
	}
	seconds, err := b.admin.SetDuration(ctx.Context(), args[0], args[1])
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, "/settime <number> <s|m|h|d>"))
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID,
		fmt.Sprintf("✅ Link validity set to %s %s (%d seconds).", args[0], args[1], seconds))
	return nil
}

func (b *Bot) handleStats(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	stats, err := b.admin.Stats(ctx.Context())
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, ""))
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, fmt.Sprintf(
		"📊 Total bot users: %d\n⏳ Pending removals: %d", stats.Users, stats.PendingRevocations))
	return nil
}

func (b *Bot) handleReset(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	existed, err := b.admin.Reset(ctx.Context())
	if err != nil {
		b.reply(ctx.Context(), message.Chat.ID, adminErrorText(err, ""))
		return nil
	}
	if !existed {
		b.reply(ctx.Context(), message.Chat.ID, "ℹ️ Nothing to delete, settings are already at defaults.")
		return nil
	}
	b.reply(ctx.Context(), message.Chat.ID, "🗑 All settings deleted and restored to defaults.")
	return nil
}

func (b *Bot) handleBroadcast(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if !b.authorize(ctx, message) {
		return nil
	}

	text := commandPayload(message.Text)
	if text == "" {
		b.reply(ctx.Context(), message.Chat.ID, "⚠️ Please write a message to broadcast: /broadcast <message>")
		return nil
	}

	chatID := message.Chat.ID
	statusID, err := b.client.SendStatus(ctx.Context(), chatID, "📣 Broadcast starting...")
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to send broadcast status message")
	}

	final, err := b.admin.Broadcast(ctx.Context(), text, func(p admin.BroadcastProgress) {
		if statusID == 0 || p.Finished() {
			return
		}
		if err := b.client.EditText(ctx.Context(), chatID, statusID, progressText(p)); err != nil {
			b.log.Debug().Err(err).Msg("Failed to update broadcast progress")
		}
	})
	if err != nil {
		b.reply(ctx.Context(), chatID, adminErrorText(err, "/broadcast <message>"))
		return nil
	}

	summary := broadcastSummary(final)
	if statusID == 0 || b.client.EditText(ctx.Context(), chatID, statusID, summary) != nil {
		b.reply(ctx.Context(), chatID, summary)
	}
	return nil
}
