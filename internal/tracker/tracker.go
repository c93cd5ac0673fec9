package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"channel-access-bot/internal/models"
)

type SettingsReader interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

type LedgerReader interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

type AdminNotifier interface {
	AlertAdmin(ctx context.Context, text string) error
}

// Tracker tells the admin when a known user joins the managed channel.
type Tracker struct {
	settings SettingsReader
	ledger   LedgerReader
	notifier AdminNotifier
	log      zerolog.Logger
}

func New(settings SettingsReader, ledger LedgerReader, notifier AdminNotifier, log zerolog.Logger) *Tracker {
	return &Tracker{
		settings: settings,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
	}
}

// IsJoin reports whether the transition moves a user from outside the chat
// into it.
func IsJoin(u models.MemberUpdate) bool {
	return u.OldStatus.IsOutside() && u.NewStatus.IsMember()
}

// Handle processes one membership update. It returns true when the admin
// was notified. Errors are logged and never returned.
func (t *Tracker) Handle(ctx context.Context, u models.MemberUpdate) bool {
	if !IsJoin(u) {
		return false
	}

	settings, err := t.settings.GetSettings(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("Failed to load settings for member update")
		return false
	}
	if !settings.HasChannel() || *settings.ChannelID != u.ChatID {
		return false
	}

	known, err := t.ledger.UserExists(ctx, u.UserID)
	if err != nil {
		t.log.Error().Err(err).Int64("user_id", u.UserID).Msg("Failed to look up joined user")
		return false
	}
	if !known {
		return false
	}

	log := t.log.With().Int64("user_id", u.UserID).Int64("channel_id", u.ChatID).Logger()
	log.Info().Msg("Known user joined the channel")

	if err := t.notifier.AlertAdmin(ctx, joinText(u)); err != nil {
		log.Warn().Err(err).Msg("Failed to notify admin about join")
		return false
	}
	return true
}

func joinText(u models.MemberUpdate) string {
	var b strings.Builder
	b.WriteString("👤 User joined the channel\n")
	if u.FirstName != "" {
		fmt.Fprintf(&b, "Name: %s\n", u.FirstName)
	}
	if u.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", u.Username)
	}
	fmt.Fprintf(&b, "ID: %d", u.UserID)
	return b.String()
}
