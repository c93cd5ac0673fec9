package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

const accessExpiredText = "⌛ Your channel access time is over. Send /start to get a new link."

// Remover is the slice of the Telegram client the revoker needs.
type Remover interface {
	BanMember(ctx context.Context, channelID, userID int64) error
	UnbanMember(ctx context.Context, channelID, userID int64) error
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	// Timeout bounds a single task, including the user notice.
	Timeout time.Duration
}

// Revoker fires due revocation tasks: the user is banned and immediately
// unbanned, which removes them without a permanent block.
type Revoker struct {
	queue   *Queue
	remover Remover
	cfg     Config
	log     zerolog.Logger
}

func NewRevoker(queue *Queue, remover Remover, cfg Config, log zerolog.Logger) *Revoker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Revoker{
		queue:   queue,
		remover: remover,
		cfg:     cfg,
		log:     log,
	}
}

// Start polls the queue until ctx is cancelled. Tasks left in flight on
// shutdown are picked up again by the recovery sweep after restart.
func (r *Revoker) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", r.cfg.PollInterval).Msg("Revocation worker started")

	// Run once at start
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Revocation worker stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle requeues expired leases, then fires every due task once. It
// returns the number of tasks handled.
func (r *Revoker) RunCycle(ctx context.Context) int {
	if n, err := r.queue.Recover(ctx); err != nil {
		r.log.Error().Err(err).Msg("Error recovering stale revocations")
	} else if n > 0 {
		r.log.Warn().Int("count", n).Msg("Requeued revocations with expired lease")
	}

	claimed, err := r.queue.Claim(ctx, r.cfg.BatchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("Error claiming due revocations")
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, c := range claimed {
		g.Go(func() error {
			r.fire(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed)
}

func (r *Revoker) fire(ctx context.Context, c Claimed) {
	taskCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	task := c.Task
	log := r.log.With().
		Str("grant_id", task.GrantID).
		Int64("user_id", task.UserID).
		Int64("channel_id", task.ChannelID).
		Logger()

	if err := r.Revoke(taskCtx, task); err != nil {
		switch {
		case apperr.IsPermissionDenied(err):
			log.Error().Err(err).Msg("Bot lost rights to remove users, dropping revocation")
		default:
			log.Error().Err(err).Msg("Revocation failed, dropping task")
		}
	}

	// Tasks never requeue themselves; only an expired lease brings one back.
	if err := r.queue.Ack(ctx, c); err != nil {
		log.Error().Err(err).Msg("Failed to ack revocation")
	}
}

// Revoke removes the user from the channel and tells them about it. A
// BadRequest from the platform (e.g. the user already left) counts as done.
func (r *Revoker) Revoke(ctx context.Context, task models.RevocationTask) error {
	log := r.log.With().Int64("user_id", task.UserID).Int64("channel_id", task.ChannelID).Logger()
	log.Info().Msg("Access window elapsed, removing user")

	if err := r.remover.BanMember(ctx, task.ChannelID, task.UserID); err != nil {
		if !apperr.IsBadRequest(err) {
			return err
		}
		log.Warn().Err(err).Msg("Ban rejected, treating user as already removed")
	} else if err := r.remover.UnbanMember(ctx, task.ChannelID, task.UserID); err != nil {
		if !apperr.IsBadRequest(err) {
			return err
		}
		log.Warn().Err(err).Msg("Unban rejected, treating user as already removed")
	}

	log.Info().Msg("User removed from channel")

	if err := r.remover.SendText(ctx, task.UserID, accessExpiredText); err != nil {
		log.Warn().Err(err).Msg("Failed to send access-expired notice")
	}
	return nil
}
