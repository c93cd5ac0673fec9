package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

type fakeRemover struct {
	mu       sync.Mutex
	calls    []string
	banErr   error
	unbanErr error
	sendErr  error
}

func (f *fakeRemover) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRemover) BanMember(_ context.Context, channelID, userID int64) error {
	f.record(fmt.Sprintf("ban %d %d", channelID, userID))
	return f.banErr
}

func (f *fakeRemover) UnbanMember(_ context.Context, channelID, userID int64) error {
	f.record(fmt.Sprintf("unban %d %d", channelID, userID))
	return f.unbanErr
}

func (f *fakeRemover) SendText(_ context.Context, chatID int64, _ string) error {
	f.record(fmt.Sprintf("send %d", chatID))
	return f.sendErr
}

func (f *fakeRemover) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestRevoker(t *testing.T, remover *fakeRemover) (*Revoker, *Queue, *testClock) {
	t.Helper()
	q, clock := newTestQueue(t)
	r := NewRevoker(q, remover, Config{Timeout: time.Second}, zerolog.Nop())
	return r, q, clock
}

var testTask = models.RevocationTask{GrantID: "g1", UserID: 7, ChannelID: -100123}

func TestRevokeBansThenUnbans(t *testing.T) {
	remover := &fakeRemover{}
	r, _, _ := newTestRevoker(t, remover)

	require.NoError(t, r.Revoke(context.Background(), testTask))
	assert.Equal(t, []string{"ban -100123 7", "unban -100123 7", "send 7"}, remover.Calls())
}

func TestRevokeSwallowsNoticeFailure(t *testing.T) {
	remover := &fakeRemover{sendErr: errors.New("bot was blocked by the user")}
	r, _, _ := newTestRevoker(t, remover)

	assert.NoError(t, r.Revoke(context.Background(), testTask))
}

func TestRevokeBadRequestCountsAsRemoved(t *testing.T) {
	remover := &fakeRemover{
		banErr: apperr.New(apperr.CodeBadRequest, "user not found"),
	}
	r, _, _ := newTestRevoker(t, remover)

	require.NoError(t, r.Revoke(context.Background(), testTask))
	assert.Equal(t, []string{"ban -100123 7", "send 7"}, remover.Calls())
}

func TestRevokePermissionDenied(t *testing.T) {
	remover := &fakeRemover{
		banErr: apperr.New(apperr.CodePermissionDenied, "not enough rights"),
	}
	r, _, _ := newTestRevoker(t, remover)

	err := r.Revoke(context.Background(), testTask)
	assert.True(t, apperr.IsPermissionDenied(err))
	assert.Equal(t, []string{"ban -100123 7"}, remover.Calls(), "no notice after a failed removal")
}

func TestRunCycleFiresAndAcksEveryTask(t *testing.T) {
	remover := &fakeRemover{banErr: apperr.New(apperr.CodePermissionDenied, "not enough rights")}
	r, q, clock := newTestRevoker(t, remover)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, task("a", 1, clock.Now(), time.Minute)))
	require.NoError(t, q.Schedule(ctx, task("b", 2, clock.Now(), time.Minute)))
	require.NoError(t, q.Schedule(ctx, task("c", 3, clock.Now(), time.Hour)))

	assert.Zero(t, r.RunCycle(ctx))

	clock.Advance(time.Minute)
	assert.Equal(t, 2, r.RunCycle(ctx))

	// Failed tasks are dropped, not retried.
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Zero(t, r.RunCycle(ctx))
	assert.ElementsMatch(t, []string{"ban -100123 1", "ban -100123 2"}, remover.Calls())
}
