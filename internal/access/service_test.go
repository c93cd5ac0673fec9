package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-access-bot/internal/apperr"
	"channel-access-bot/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSettings struct {
	settings models.Settings
	err      error
}

func (f *fakeSettings) GetSettings(context.Context) (*models.Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.settings
	return &s, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	users   map[int64]*models.User
	markErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{users: make(map[int64]*models.User)}
}

func (f *fakeLedger) UpsertUser(_ context.Context, id int64) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := &models.User{UserID: id}
	f.users[id] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeLedger) MarkGranted(_ context.Context, id int64, free bool, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	u := f.users[id]
	if free {
		u.HasReceivedFreeLink = true
	}
	u.LastLinkAt = &at
	return nil
}

func (f *fakeLedger) user(id int64) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

type fakeIssuer struct {
	member    models.ChatMember
	memberErr error
	linkErr   error
	expireAt  []time.Time
}

func (f *fakeIssuer) BotMember(context.Context, int64) (models.ChatMember, error) {
	return f.member, f.memberErr
}

func (f *fakeIssuer) CreateInviteLink(_ context.Context, _ int64, expireAt time.Time) (string, error) {
	if f.linkErr != nil {
		return "", f.linkErr
	}
	f.expireAt = append(f.expireAt, expireAt)
	return "https://t.me/+invite", nil
}

type fakeShortener struct {
	ok    bool
	calls int
}

func (f *fakeShortener) Shorten(_ context.Context, _, _, longURL string) (string, bool) {
	f.calls++
	if !f.ok {
		return "", false
	}
	return "https://short.example/abc", true
}

type delivered struct {
	userID int64
	link   string
	free   bool
}

type fakeDelivery struct {
	err       error
	links     []delivered
	preparing int
}

func (f *fakeDelivery) DeliverLink(_ context.Context, userID int64, link string, free bool) error {
	if f.err != nil {
		return f.err
	}
	f.links = append(f.links, delivered{userID: userID, link: link, free: free})
	return nil
}

func (f *fakeDelivery) NotifyPreparing(context.Context, int64) error {
	f.preparing++
	return nil
}

type fakeScheduler struct {
	err   error
	tasks []models.RevocationTask
}

func (f *fakeScheduler) Schedule(_ context.Context, task models.RevocationTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeLocker struct {
	held bool
}

func (f *fakeLocker) Acquire(context.Context, int64) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.held = true
	return func() { f.held = false }, true, nil
}

type fakeAlerts struct {
	texts []string
}

func (f *fakeAlerts) AlertAdmin(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

type fixture struct {
	settings  *fakeSettings
	ledger    *fakeLedger
	issuer    *fakeIssuer
	shortener *fakeShortener
	delivery  *fakeDelivery
	scheduler *fakeScheduler
	locker    *fakeLocker
	alerts    *fakeAlerts
	svc       *Service
}

func ptr[T any](v T) *T { return &v }

func newFixture() *fixture {
	f := &fixture{
		settings: &fakeSettings{settings: models.Settings{
			ID:                    models.SettingsID,
			ChannelID:             ptr(int64(-100123)),
			ShortenerDomain:       ptr("short.example"),
			ShortenerAPIKey:       ptr("key"),
			InviteDurationSeconds: models.DefaultInviteDurationSeconds,
		}},
		ledger: newFakeLedger(),
		issuer: &fakeIssuer{member: models.ChatMember{
			Status:             models.StatusAdministrator,
			CanInviteUsers:     true,
			CanRestrictMembers: true,
		}},
		shortener: &fakeShortener{ok: true},
		delivery:  &fakeDelivery{},
		scheduler: &fakeScheduler{},
		locker:    &fakeLocker{},
		alerts:    &fakeAlerts{},
	}
	f.svc = NewService(Deps{
		Settings:  f.settings,
		Ledger:    f.ledger,
		Issuer:    f.issuer,
		Shortener: f.shortener,
		Delivery:  f.delivery,
		Scheduler: f.scheduler,
		Locker:    f.locker,
		Alerts:    f.alerts,
	}, Options{
		Now:   func() time.Time { return testNow },
		NewID: func() string { return "grant-1" },
	}, zerolog.Nop())
	return f
}

func TestFirstGrantIsFree(t *testing.T) {
	f := newFixture()

	g, err := f.svc.Grant(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, g.Free)
	assert.True(t, g.NewUser)
	assert.True(t, g.Scheduled)
	assert.Equal(t, StateDone, g.State)
	assert.Equal(t, "https://t.me/+invite", g.Link)
	assert.Zero(t, f.shortener.calls)
	assert.Equal(t, []delivered{{userID: 42, link: "https://t.me/+invite", free: true}}, f.delivery.links)

	require.Len(t, f.scheduler.tasks, 1)
	task := f.scheduler.tasks[0]
	assert.Equal(t, int64(42), task.UserID)
	assert.Equal(t, int64(-100123), task.ChannelID)
	assert.Equal(t, 24*time.Hour, task.Delay())

	user := f.ledger.user(42)
	assert.True(t, user.HasReceivedFreeLink)
	require.NotNil(t, user.LastLinkAt)
	assert.True(t, testNow.Equal(*user.LastLinkAt))

	require.Len(t, f.issuer.expireAt, 1)
	assert.Equal(t, testNow.Add(DefaultLinkTTL), f.issuer.expireAt[0])
	assert.False(t, f.locker.held, "lock is released")
}

func TestRepeatGrantIsShortened(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, 42)
	require.NoError(t, err)

	g, err := f.svc.Grant(ctx, 42)
	require.NoError(t, err)

	assert.False(t, g.Free)
	assert.Contains(t, g.History, StateShortenedBranch)
	assert.Equal(t, 1, f.shortener.calls)
	assert.Equal(t, 1, f.delivery.preparing)
	require.Len(t, f.delivery.links, 2)
	assert.Equal(t, "https://short.example/abc", f.delivery.links[1].link)
	assert.False(t, f.delivery.links[1].free)
	assert.Len(t, f.scheduler.tasks, 2)
	assert.True(t, f.ledger.user(42).HasReceivedFreeLink)
}

func TestRepeatGrantWithoutShortener(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, 42)
	require.NoError(t, err)
	before := f.ledger.user(42).LastLinkAt

	f.settings.settings.ShortenerAPIKey = nil
	_, err = f.svc.Grant(ctx, 42)
	require.Error(t, err)

	assert.Equal(t, apperr.CodeConfigurationMissing, apperr.CodeOf(err))
	assert.Equal(t, apperr.ReasonShortenerNotConfigured, apperr.ReasonOf(err))
	assert.Zero(t, f.shortener.calls)
	assert.Len(t, f.delivery.links, 1)
	assert.Len(t, f.scheduler.tasks, 1)
	assert.Equal(t, before, f.ledger.user(42).LastLinkAt)
}

func TestShortenerFailureAborts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, 42)
	require.NoError(t, err)

	f.shortener.ok = false
	_, err = f.svc.Grant(ctx, 42)
	require.Error(t, err)

	assert.Equal(t, apperr.CodeExternalServiceFailure, apperr.CodeOf(err))
	assert.Equal(t, apperr.ReasonLinkGenerationFailed, apperr.ReasonOf(err))
	state, _ := apperr.Detail(err, "state")
	assert.Equal(t, string(StateShortenedBranch), state)
	assert.Len(t, f.delivery.links, 1)
	assert.Len(t, f.scheduler.tasks, 1)
}

func TestNoChannelConfigured(t *testing.T) {
	f := newFixture()
	f.settings.settings.ChannelID = nil

	_, err := f.svc.Grant(context.Background(), 42)
	require.Error(t, err)

	assert.Equal(t, apperr.CodeConfigurationMissing, apperr.CodeOf(err))
	assert.Equal(t, apperr.ReasonNoChannelConfigured, apperr.ReasonOf(err))
	assert.Empty(t, f.delivery.links)
	assert.False(t, f.ledger.user(42).HasReceivedFreeLink)
}

func TestInsufficientBotPermissions(t *testing.T) {
	cases := map[string]models.ChatMember{
		"plain member":  {Status: models.StatusMember},
		"no invite":     {Status: models.StatusAdministrator, CanRestrictMembers: true},
		"no restrict":   {Status: models.StatusAdministrator, CanInviteUsers: true},
		"left the chat": {Status: models.StatusLeft},
	}
	for name, member := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.issuer.member = member

			_, err := f.svc.Grant(context.Background(), 42)
			require.Error(t, err)

			assert.True(t, apperr.IsPermissionDenied(err))
			assert.Equal(t, apperr.ReasonInsufficientPermissions, apperr.ReasonOf(err))
			channel, ok := apperr.Detail(err, "channel_id")
			require.True(t, ok)
			assert.Equal(t, int64(-100123), channel)
			assert.Empty(t, f.issuer.expireAt)
			assert.Empty(t, f.scheduler.tasks)
		})
	}
}

func TestPlatformFailures(t *testing.T) {
	t.Run("member lookup", func(t *testing.T) {
		f := newFixture()
		f.issuer.memberErr = errors.New("chat not found")

		_, err := f.svc.Grant(context.Background(), 42)
		assert.Equal(t, apperr.CodeExternalServiceFailure, apperr.CodeOf(err))
		_, ok := apperr.Detail(err, "channel_id")
		assert.True(t, ok)
	})

	t.Run("invite link", func(t *testing.T) {
		f := newFixture()
		f.issuer.linkErr = errors.New("timeout")

		_, err := f.svc.Grant(context.Background(), 42)
		assert.Equal(t, apperr.CodeExternalServiceFailure, apperr.CodeOf(err))
		assert.Empty(t, f.delivery.links)
		assert.Empty(t, f.scheduler.tasks)
	})
}

func TestDeliveryFailureLeavesNoTrace(t *testing.T) {
	f := newFixture()
	f.delivery.err = errors.New("bot was blocked by the user")

	_, err := f.svc.Grant(context.Background(), 42)
	require.Error(t, err)

	assert.Equal(t, apperr.ReasonDeliveryFailed, apperr.ReasonOf(err))
	assert.Empty(t, f.scheduler.tasks)
	user := f.ledger.user(42)
	assert.False(t, user.HasReceivedFreeLink)
	assert.Nil(t, user.LastLinkAt)
}

func TestDurationChangeAffectsOnlyNewGrants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, 1)
	require.NoError(t, err)

	f.settings.settings.InviteDurationSeconds = 7200
	_, err = f.svc.Grant(ctx, 2)
	require.NoError(t, err)

	require.Len(t, f.scheduler.tasks, 2)
	assert.Equal(t, 24*time.Hour, f.scheduler.tasks[0].Delay())
	assert.Equal(t, 2*time.Hour, f.scheduler.tasks[1].Delay())
}

func TestScheduleFailureAfterDeliveryAlertsAdmin(t *testing.T) {
	f := newFixture()
	f.scheduler.err = errors.New("redis down")

	g, err := f.svc.Grant(context.Background(), 42)
	require.NoError(t, err)

	assert.False(t, g.Scheduled)
	assert.NotContains(t, g.History, StateScheduled)
	require.Len(t, f.alerts.texts, 1)
	assert.Contains(t, f.alerts.texts[0], "schedule revocation")
	assert.True(t, f.ledger.user(42).HasReceivedFreeLink, "ledger still records the delivered grant")
}

func TestLedgerFailureAfterDeliveryAlertsAdmin(t *testing.T) {
	f := newFixture()
	f.ledger.markErr = errors.New("db down")

	g, err := f.svc.Grant(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, g.Scheduled)
	require.Len(t, f.alerts.texts, 1)
	assert.Contains(t, f.alerts.texts[0], "update ledger")
}

func TestConcurrentGrantIsRejected(t *testing.T) {
	f := newFixture()
	f.locker.held = true

	_, err := f.svc.Grant(context.Background(), 42)
	require.Error(t, err)

	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
	assert.Equal(t, apperr.ReasonGrantInProgress, apperr.ReasonOf(err))
	assert.Empty(t, f.delivery.links)
}
