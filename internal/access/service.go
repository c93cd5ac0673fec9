package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

const (
	DefaultLinkTTL        = 10 * time.Minute
	defaultPersistTimeout = 20 * time.Second
)

type SettingsReader interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

type Ledger interface {
	UpsertUser(ctx context.Context, userID int64) (*models.User, bool, error)
	MarkGranted(ctx context.Context, userID int64, free bool, at time.Time) error
}

// LinkIssuer mints invite links on the messaging platform.
type LinkIssuer interface {
	BotMember(ctx context.Context, channelID int64) (models.ChatMember, error)
	CreateInviteLink(ctx context.Context, channelID int64, expireAt time.Time) (string, error)
}

type Shortener interface {
	Shorten(ctx context.Context, domain, apiKey, longURL string) (string, bool)
}

// Delivery sends grant messages to the requesting user.
type Delivery interface {
	DeliverLink(ctx context.Context, userID int64, link string, free bool) error
	NotifyPreparing(ctx context.Context, userID int64) error
}

type Scheduler interface {
	Schedule(ctx context.Context, task models.RevocationTask) error
}

type Locker interface {
	Acquire(ctx context.Context, userID int64) (func(), bool, error)
}

type AdminAlerter interface {
	AlertAdmin(ctx context.Context, text string) error
}

type Deps struct {
	Settings  SettingsReader
	Ledger    Ledger
	Issuer    LinkIssuer
	Shortener Shortener
	Delivery  Delivery
	Scheduler Scheduler
	// Locker is optional; without it concurrent requests of one user are
	// not serialised.
	Locker Locker
	Alerts AdminAlerter
}

type Options struct {
	LinkTTL        time.Duration
	PersistTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

// Service runs the access grant workflow.
type Service struct {
	deps           Deps
	linkTTL        time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string
	log            zerolog.Logger
}

func NewService(deps Deps, opts Options, log zerolog.Logger) *Service {
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = DefaultLinkTTL
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		deps:           deps,
		linkTTL:        opts.LinkTTL,
		persistTimeout: opts.PersistTimeout,
		now:            opts.Now,
		newID:          opts.NewID,
		log:            log,
	}
}

// Grant issues a link for userID and schedules its revocation. On error no
// link was delivered, nothing was scheduled and the ledger entry (if it
// already existed) is unchanged.
func (s *Service) Grant(ctx context.Context, userID int64) (*Grant, error) {
	g := &Grant{ID: s.newID(), UserID: userID}
	g.advance(StateStart)
	log := s.log.With().Str("grant_id", g.ID).Int64("user_id", userID).Logger()

	if s.deps.Locker != nil {
		release, ok, err := s.deps.Locker.Acquire(ctx, userID)
		if err != nil {
			return nil, s.abort(g, apperr.Wrap(err, apperr.CodeInternal, "acquire grant lock"))
		}
		if !ok {
			return nil, s.abort(g, apperr.New(apperr.CodeConflict, "a request for this user is already running").
				WithReason(apperr.ReasonGrantInProgress))
		}
		defer release()
	}

	user, created, err := s.deps.Ledger.UpsertUser(ctx, userID)
	if err != nil {
		return nil, s.abort(g, apperr.Wrap(err, apperr.CodeInternal, "resolve ledger entry"))
	}
	if created {
		log.Info().Msg("New user added to ledger")
	}
	g.NewUser = created
	g.advance(StateLedgerResolved)

	settings, err := s.deps.Settings.GetSettings(ctx)
	if err != nil {
		return nil, s.abort(g, apperr.Wrap(err, apperr.CodeInternal, "load settings"))
	}
	if !settings.HasChannel() {
		return nil, s.abort(g, apperr.NewConfigurationMissing(apperr.ReasonNoChannelConfigured, "no channel configured"))
	}
	channelID := *settings.ChannelID
	g.ChannelID = channelID

	member, err := s.deps.Issuer.BotMember(ctx, channelID)
	if err != nil {
		return nil, s.abort(g, apperr.NewExternalFailure("check bot permissions", err).
			WithDetail("channel_id", channelID))
	}
	if !member.CanManageAccess() {
		return nil, s.abort(g, apperr.NewPermissionDenied(apperr.ReasonInsufficientPermissions,
			fmt.Sprintf("bot lacks admin invite/ban rights in channel %d", channelID)).
			WithDetail("channel_id", channelID).
			WithDetail("bot_status", string(member.Status)))
	}
	g.advance(StatePermissionsChecked)

	now := s.now()
	inviteLink, err := s.deps.Issuer.CreateInviteLink(ctx, channelID, now.Add(s.linkTTL))
	if err != nil {
		return nil, s.abort(g, apperr.NewExternalFailure("create invite link", err).
			WithDetail("channel_id", channelID))
	}
	g.advance(StateLinkIssued)

	link := inviteLink
	if !user.HasReceivedFreeLink {
		g.Free = true
		g.advance(StateFreeBranch)
	} else {
		g.advance(StateShortenedBranch)
		if !settings.ShortenerConfigured() {
			return nil, s.abort(g, apperr.NewConfigurationMissing(apperr.ReasonShortenerNotConfigured, "link shortener not configured"))
		}
		if err := s.deps.Delivery.NotifyPreparing(ctx, userID); err != nil {
			log.Warn().Err(err).Msg("Failed to send preparing notice")
		}
		short, ok := s.deps.Shortener.Shorten(ctx, *settings.ShortenerDomain, *settings.ShortenerAPIKey, inviteLink)
		if !ok {
			return nil, s.abort(g, apperr.New(apperr.CodeExternalServiceFailure, "link shortening failed").
				WithReason(apperr.ReasonLinkGenerationFailed))
		}
		link = short
	}

	if err := s.deps.Delivery.DeliverLink(ctx, userID, link, g.Free); err != nil {
		return nil, s.abort(g, apperr.NewExternalFailure("deliver link", err).
			WithReason(apperr.ReasonDeliveryFailed))
	}
	g.Link = link
	g.GrantedAt = now
	g.Duration = settings.InviteDuration()
	g.DueAt = now.Add(g.Duration)
	g.advance(StateDelivered)

	// The user holds a link now; finish even if the request is cancelled.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	task := models.RevocationTask{
		GrantID:     g.ID,
		UserID:      userID,
		ChannelID:   channelID,
		ScheduledAt: now,
		DueAt:       g.DueAt,
	}
	if err := s.deps.Scheduler.Schedule(persistCtx, task); err != nil {
		s.degraded(persistCtx, g, "schedule revocation", err)
	} else {
		g.Scheduled = true
		g.advance(StateScheduled)
	}

	if err := s.deps.Ledger.MarkGranted(persistCtx, userID, g.Free, now); err != nil {
		s.degraded(persistCtx, g, "update ledger", err)
	}
	g.advance(StateDone)

	log.Info().
		Int64("channel_id", channelID).
		Bool("free", g.Free).
		Dur("duration", g.Duration).
		Time("due_at", g.DueAt).
		Msg("Access granted")
	return g, nil
}

func (s *Service) abort(g *Grant, err *apperr.AppError) error {
	err.WithDetail("state", string(g.State))
	g.advance(StateAborted)

	ev := s.log.Warn()
	if err.Code == apperr.CodeInternal || err.Code == apperr.CodeExternalServiceFailure {
		ev = s.log.Error()
	}
	ev.Err(err).
		Str("grant_id", g.ID).
		Int64("user_id", g.UserID).
		Str("reason", string(err.Reason)).
		Msg("Access grant aborted")
	return err
}

// degraded handles failures after the link was delivered: the user keeps
// access, the admin is told so the removal can be done by hand.
func (s *Service) degraded(ctx context.Context, g *Grant, step string, err error) {
	s.log.Error().Err(err).
		Str("grant_id", g.ID).
		Int64("user_id", g.UserID).
		Int64("channel_id", g.ChannelID).
		Str("step", step).
		Msg("Grant delivered but follow-up failed")

	if s.deps.Alerts == nil {
		return
	}
	text := fmt.Sprintf("⚠️ Grant %s for user %d in channel %d: %s failed after the link was delivered: %v",
		g.ID, g.UserID, g.ChannelID, step, err)
	if alertErr := s.deps.Alerts.AlertAdmin(ctx, text); alertErr != nil {
		s.log.Error().Err(alertErr).Str("grant_id", g.ID).Msg("Failed to alert admin")
	}
}
