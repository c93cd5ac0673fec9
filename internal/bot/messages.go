package bot

import (
	"fmt"
	"strings"
	"unicode"

	"channel-access-bot/internal/admin"
	"channel-access-bot/internal/apperr"
)

const (
	internalErrorText = "🤖 An internal error occurred. Please contact the admin."
	notAdminText      = "⛔️ Sorry, this command is for the admin only."
	setTimeUsageText  = "⚠️ Format: /settime <number> <unit>\nUnit: s, m, h, d (seconds, minutes, hours, days)"

	noChannelText       = "⚠️ Sorry, the admin has not set a channel yet."
	noShortenerText     = "⚠️ Sorry, the admin has not set up the shortener service yet."
	noRightsText        = "⚠️ The bot does not have admin rights (invite & ban) in the channel%s. Please contact the admin."
	linkFailedText      = "❌ Something went wrong while creating your link. Please try again later."
	grantInProgressText = "⏳ Your previous request is still being processed, please wait."
	channelErrorText    = "⚠️ The channel%s cannot be reached right now. Please try again later."
)

// grantErrorText picks the reply for a failed access grant.
func grantErrorText(err error) string {
	switch apperr.ReasonOf(err) {
	case apperr.ReasonNoChannelConfigured:
		return noChannelText
	case apperr.ReasonShortenerNotConfigured:
		return noShortenerText
	case apperr.ReasonInsufficientPermissions:
		return fmt.Sprintf(noRightsText, channelSuffix(err))
	case apperr.ReasonLinkGenerationFailed, apperr.ReasonDeliveryFailed:
		return linkFailedText
	case apperr.ReasonGrantInProgress:
		return grantInProgressText
	}
	if apperr.CodeOf(err) == apperr.CodeExternalServiceFailure {
		return fmt.Sprintf(channelErrorText, channelSuffix(err))
	}
	return internalErrorText
}

// channelSuffix renders the channel id attached to err, if any.
func channelSuffix(err error) string {
	if id, ok := apperr.Detail(err, "channel_id"); ok {
		return fmt.Sprintf(" (%v)", id)
	}
	return ""
}

// adminErrorText picks the reply for a failed admin command. usage is shown
// for validation errors when set.
func adminErrorText(err error, usage string) string {
	if apperr.CodeOf(err) == apperr.CodeValidation {
		text := "⚠️ Invalid input"
		if appErr, ok := apperr.As(err); ok {
			text = "⚠️ " + capitalize(appErr.Message)
		}
		if usage != "" {
			text += "\nUsage: " + usage
		}
		return text
	}
	return internalErrorText
}

func helpText(isAdmin bool) string {
	var b strings.Builder
	b.WriteString("🤖 Channel access bot\n\n")
	b.WriteString("/start - get a personal link to join the channel\n")
	b.WriteString("/help - show this message\n")
	if isAdmin {
		b.WriteString("\n👑 Admin commands\n")
		b.WriteString("/setch <channel_id> - set the managed channel\n")
		b.WriteString("/mysetch - show the current channel\n")
		b.WriteString("/setdomain <domain> - set the shortener domain\n")
		b.WriteString("/setapi <key> - set the shortener API key\n")
		b.WriteString("/settime <n> <s|m|h|d> - set how long access lasts\n")
		b.WriteString("/stats - show user and pending removal counts\n")
		b.WriteString("/broadcast <text> - message every user\n")
		b.WriteString("/dltall - delete all settings\n")
	}
	return b.String()
}

// commandArgs returns the whitespace separated arguments after the command.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// commandPayload returns everything after the command, line breaks kept.
func commandPayload(text string) string {
	text = strings.TrimSpace(text)
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx:])
}

// commandName returns the command without slash and bot mention.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return name
}

func progressText(p admin.BroadcastProgress) string {
	const barLength = 10
	filled := 0
	if p.Total > 0 {
		filled = barLength * p.Done / p.Total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
	return fmt.Sprintf("📣 Broadcast in progress...\n%s\nSent: %d/%d\nFailed: %d", bar, p.Sent, p.Total, p.Failed)
}

func broadcastSummary(p admin.BroadcastProgress) string {
	if p.Total == 0 {
		return "ℹ️ There are no users to broadcast to."
	}
	return fmt.Sprintf("✅ Broadcast finished!\n\nSent successfully: %d\nFailed: %d", p.Sent, p.Failed)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
