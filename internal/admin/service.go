package admin

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/database"
)

const (
	DefaultBroadcastDelay = 100 * time.Millisecond
	progressEvery         = 10
	maxDurationSeconds    = math.MaxInt64 / int64(time.Second)
)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type PendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

type Stats struct {
	Users              int64
	PendingRevocations int64
}

// BroadcastProgress is reported while a broadcast runs and returned at the end.
type BroadcastProgress struct {
	Total  int
	Done   int
	Sent   int
	Failed int
}

func (p BroadcastProgress) Finished() bool { return p.Done == p.Total }

// Service implements the admin commands over settings and the ledger.
type Service struct {
	settings  database.SettingsStore
	ledger    database.UserLedger
	pending   PendingCounter
	messenger Messenger
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func NewService(
	settings database.SettingsStore,
	ledger database.UserLedger,
	pending PendingCounter,
	messenger Messenger,
	broadcastDelay time.Duration,
	log zerolog.Logger,
) *Service {
	if broadcastDelay <= 0 {
		broadcastDelay = DefaultBroadcastDelay
	}
	return &Service{
		settings:  settings,
		ledger:    ledger,
		pending:   pending,
		messenger: messenger,
		limiter:   rate.NewLimiter(rate.Every(broadcastDelay), 1),
		log:       log,
	}
}

func ParseChannelID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.NewValidation("channel id", "must be a non-zero integer")
	}
	return id, nil
}

func (s *Service) SetChannel(ctx context.Context, raw string) (int64, error) {
	id, err := ParseChannelID(raw)
	if err != nil {
		return 0, err
	}
	if err := s.settings.SetChannel(ctx, id); err != nil {
		return 0, err
	}
	s.log.Info().Int64("channel_id", id).Msg("Channel updated")
	return id, nil
}

// Channel returns the configured channel id, or nil when none is set.
func (s *Service) Channel(ctx context.Context) (*int64, error) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settings.ChannelID, nil
}

// NormalizeDomain strips a scheme and trailing slashes from a domain.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(raw)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

func (s *Service) SetDomain(ctx context.Context, raw string) (string, error) {
	domain := NormalizeDomain(raw)
	if domain == "" || strings.ContainsAny(domain, " /?#") {
		return "", apperr.NewValidation("domain", "expected a bare host like short.example")
	}
	if err := s.settings.SetShortenerDomain(ctx, domain); err != nil {
		return "", err
	}
	s.log.Info().Str("domain", domain).Msg("Shortener domain updated")
	return domain, nil
}

func (s *Service) SetAPIKey(ctx context.Context, raw string) error {
	key := strings.TrimSpace(raw)
	if key == "" {
		return apperr.NewValidation("api key", "must not be empty")
	}
	if err := s.settings.SetShortenerAPIKey(ctx, key); err != nil {
		return err
	}
	s.log.Info().Msg("Shortener API key updated")
	return nil
}

// ParseDuration converts a positive value and a unit (s, m, h or d) to
// seconds.
func ParseDuration(value, unit string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return 0, apperr.NewValidation("duration", "value must be a positive integer")
	}
	mult, ok := unitSeconds[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, apperr.NewValidation("duration", "unit must be one of s, m, h, d")
	}
	if n > maxDurationSeconds/mult {
		return 0, apperr.NewValidation("duration", "value is too large")
	}
	return n * mult, nil
}

func (s *Service) SetDuration(ctx context.Context, value, unit string) (int64, error) {
	seconds, err := ParseDuration(value, unit)
	if err != nil {
		return 0, err
	}
	if err := s.settings.SetInviteDuration(ctx, seconds); err != nil {
		return 0, err
	}
	s.log.Info().Int64("seconds", seconds).Msg("Invite duration updated")
	return seconds, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.ledger.CountUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	pending, err := s.pending.Pending(ctx)
	if err != nil {
		return Stats{}, apperr.Wrap(err, apperr.CodeInternal, "count pending revocations")
	}
	return Stats{Users: users, PendingRevocations: pending}, nil
}

// Reset restores default settings. It reports false when there was nothing
// to reset.
func (s *Service) Reset(ctx context.Context) (bool, error) {
	existed, err := s.settings.ResetSettings(ctx)
	if err != nil {
		return false, err
	}
	s.log.Info().Bool("existed", existed).Msg("Settings reset")
	return existed, nil
}

// Broadcast sends text to every ledger user one at a time. Failed sends are
// counted and skipped. progress, if set, is called every ten recipients and
// once at the end.
func (s *Service) Broadcast(ctx context.Context, text string, progress func(BroadcastProgress)) (BroadcastProgress, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return BroadcastProgress{}, apperr.NewValidation("message", "must not be empty")
	}

	ids, err := s.ledger.UserIDs(ctx)
	if err != nil {
		return BroadcastProgress{}, err
	}

	p := BroadcastProgress{Total: len(ids)}
	s.log.Info().Int("recipients", p.Total).Msg("Broadcast started")

	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return p, apperr.Wrap(err, apperr.CodeInternal, "broadcast interrupted")
		}
		if err := s.messenger.SendText(ctx, id, text); err != nil {
			p.Failed++
			s.log.Warn().Err(err).Int64("user_id", id).Msg("Broadcast delivery failed")
		} else {
			p.Sent++
		}
		p.Done++

		if progress != nil && (p.Done%progressEvery == 0 || p.Finished()) {
			progress(p)
		}
	}

	s.log.Info().Int("sent", p.Sent).Int("failed", p.Failed).Msg("Broadcast finished")
	return p, nil
}
