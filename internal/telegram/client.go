package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

const (
	freeLinkText      = "🎉 Here is your free channel access link! It is only for you and expires soon."
	freeLinkButton    = "🔗 Join the channel (free)"
	shortLinkText     = "Here is your link. Please view the ad to join the channel."
	shortLinkButton   = "🔗 View ad and join the channel"
	preparingLinkText = "⏳ Preparing your link, please wait..."
)

// Client wraps telego with the operations the bot needs. Every call is
// bounded by the request timeout and errors are classified into apperr codes.
type Client struct {
	bot     *telego.Bot
	botID   int64
	adminID int64
	timeout time.Duration
	log     zerolog.Logger
}

func NewClient(bot *telego.Bot, botID, adminID int64, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		bot:     bot,
		botID:   botID,
		adminID: adminID,
		timeout: timeout,
		log:     log,
	}
}

func (c *Client) Bot() *telego.Bot { return c.bot }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// BotMember returns the bot's own membership in channelID.
func (c *Client) BotMember(ctx context.Context, channelID int64) (models.ChatMember, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(channelID),
		UserID: c.botID,
	})
	if err != nil {
		return models.ChatMember{}, classify("get chat member", err)
	}
	return ConvertMember(member), nil
}

// CreateInviteLink creates a single-use link that expires at expireAt.
func (c *Client) CreateInviteLink(ctx context.Context, channelID int64, expireAt time.Time) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	link, err := c.bot.CreateChatInviteLink(ctx, &telego.CreateChatInviteLinkParams{
		ChatID:      tu.ID(channelID),
		ExpireDate:  expireAt.Unix(),
		MemberLimit: 1,
	})
	if err != nil {
		return "", classify("create invite link", err)
	}
	return link.InviteLink, nil
}

func (c *Client) BanMember(ctx context.Context, channelID, userID int64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: tu.ID(channelID),
		UserID: userID,
	})
	if err != nil {
		return classify("ban chat member", err)
	}
	return nil
}

func (c *Client) UnbanMember(ctx context.Context, channelID, userID int64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	err := c.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       tu.ID(channelID),
		UserID:       userID,
		OnlyIfBanned: true,
	})
	if err != nil {
		return classify("unban chat member", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.send(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

// SendStatus sends text and returns the message id for later edits.
func (c *Client) SendStatus(ctx context.Context, chatID int64, text string) (int, error) {
	return c.send(ctx, tu.Message(tu.ID(chatID), text))
}

func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return classify("edit message", err)
	}
	return nil
}

// DeliverLink sends the access link as an inline URL button.
func (c *Client) DeliverLink(ctx context.Context, userID int64, link string, free bool) error {
	text, button := shortLinkText, shortLinkButton
	if free {
		text, button = freeLinkText, freeLinkButton
	}
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(button).WithURL(link),
		),
	)
	_, err := c.send(ctx, tu.Message(tu.ID(userID), text).WithReplyMarkup(keyboard))
	return err
}

func (c *Client) NotifyPreparing(ctx context.Context, userID int64) error {
	return c.SendText(ctx, userID, preparingLinkText)
}

func (c *Client) AlertAdmin(ctx context.Context, text string) error {
	return c.SendText(ctx, c.adminID, text)
}

func (c *Client) send(ctx context.Context, params *telego.SendMessageParams) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, classify("send message", err)
	}
	return msg.MessageID, nil
}

// classify maps Telegram API errors to apperr codes: missing rights become
// PermissionDenied, other 400s BadRequest, everything else an external
// failure.
func classify(operation string, err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Description)
		switch {
		case apiErr.ErrorCode == 403 || strings.Contains(desc, "not enough rights") ||
			strings.Contains(desc, "have no rights"):
			return apperr.NewPermissionDenied(apperr.ReasonInsufficientPermissions,
				fmt.Sprintf("%s: %s", operation, apiErr.Description)).
				WithDetail("operation", operation)
		case apiErr.ErrorCode == 400:
			return apperr.Wrap(err, apperr.CodeBadRequest, operation).
				WithDetail("operation", operation)
		}
	}
	return apperr.NewExternalFailure(operation, err)
}

// ConvertMember maps a telego chat member to the internal representation.
func ConvertMember(m telego.ChatMember) models.ChatMember {
	switch v := m.(type) {
	case *telego.ChatMemberOwner:
		return models.ChatMember{Status: models.StatusOwner, CanInviteUsers: true, CanRestrictMembers: true}
	case *telego.ChatMemberAdministrator:
		return models.ChatMember{
			Status:             models.StatusAdministrator,
			CanInviteUsers:     v.CanInviteUsers,
			CanRestrictMembers: v.CanRestrictMembers,
		}
	case *telego.ChatMemberMember:
		return models.ChatMember{Status: models.StatusMember}
	case *telego.ChatMemberRestricted:
		if v.IsMember {
			return models.ChatMember{Status: models.StatusRestrictedMember}
		}
		return models.ChatMember{Status: models.StatusRestrictedNonMember}
	case *telego.ChatMemberLeft:
		return models.ChatMember{Status: models.StatusLeft}
	case *telego.ChatMemberBanned:
		return models.ChatMember{Status: models.StatusKicked}
	}
	return models.ChatMember{Status: models.StatusLeft}
}

// ConvertMemberUpdate maps a chat_member update; ok is false for an empty one.
func ConvertMemberUpdate(u *telego.ChatMemberUpdated) (models.MemberUpdate, bool) {
	if u == nil || u.NewChatMember == nil {
		return models.MemberUpdate{}, false
	}
	user := u.NewChatMember.MemberUser()
	update := models.MemberUpdate{
		ChatID:    u.Chat.ID,
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		NewStatus: ConvertMember(u.NewChatMember).Status,
		OldStatus: models.StatusLeft,
	}
	if u.OldChatMember != nil {
		update.OldStatus = ConvertMember(u.OldChatMember).Status
	}
	return update, true
}
