package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-report-bot/internal/authz"
	"integration-report-bot/internal/config"
	apperrors "integration-report-bot/internal/errors"
	"integration-report-bot/internal/integration"
	"integration-report-bot/internal/jobs"
	"integration-report-bot/internal/logging"
	"integration-report-bot/internal/messenger"
	"integration-report-bot/internal/report"
	"integration-report-bot/internal/scheduler"
	"integration-report-bot/internal/settings"
	"integration-report-bot/internal/sqlitedb"
	"integration-report-bot/internal/subscribers"
)

const (
	adminID    int64 = 1
	userID     int64 = 100
	strangerID int64 = 200
	groupID    int64 = -1001

	maintenanceText  = "🔧 The bot is under maintenance."
	unauthorizedText = "🔒 You are not authorized. Use /requestaccess."
)

type sentMessage struct {
	chatID int64
	text   string
	mode   messenger.ParseMode
	doc    string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	blocked map[int64]bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{blocked: map[int64]bool{}}
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, mode messenger.ParseMode) messenger.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked[chatID] {
		return messenger.Blocked(errors.New("Forbidden: bot was blocked by the user"))
	}
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: text, mode: mode})
	return messenger.Delivery()
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, doc messenger.Document, caption string) messenger.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked[chatID] {
		return messenger.Blocked(errors.New("Forbidden: bot was blocked by the user"))
	}
	m.sent = append(m.sent, sentMessage{chatID: chatID, text: caption, doc: doc.Name})
	return messenger.Delivery()
}

func (m *fakeMessenger) to(chatID int64) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.sent {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (m *fakeMessenger) last(chatID int64) string {
	msgs := m.to(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].text
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type fakeProcedures struct {
	mu    sync.Mutex
	calls int
	docs  []integration.ProcedureDocument
	err   error
}

func (p *fakeProcedures) ProcedureDocuments(_ context.Context, _ string) ([]integration.ProcedureDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.docs, p.err
}

type fakeReportSource struct {
	calls  int
	report *integration.ErrorReport
	err    error
}

func (s *fakeReportSource) ErrorReport(_ context.Context, from time.Time) (*integration.ErrorReport, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	rep := *s.report
	rep.From = from
	return &rep, nil
}

type failingBotState struct{}

func (failingBotState) IsBotEnabled(context.Context) (bool, error) {
	return false, errors.New("database is locked")
}

type testEnv struct {
	t          *testing.T
	now        time.Time
	registry   *Registry
	access     *AccessControl
	authz      *authz.SQLiteStore
	settings   *settings.SQLiteStore
	subStore   *subscribers.SQLiteStore
	subs       *subscribers.Service
	scheduler  *scheduler.Scheduler
	jobRuns    map[string]int
	procedures *fakeProcedures
	reports    *fakeReportSource
	messenger  *fakeMessenger
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	authzStore, err := authz.NewSQLiteStore(db)
	require.NoError(t, err)
	settingsStore, err := settings.NewSQLiteStore(db)
	require.NoError(t, err)
	subStore, err := subscribers.NewSQLiteStore(db)
	require.NoError(t, err)

	subs := subscribers.NewService(subStore, logger)
	require.NoError(t, subs.Reload(ctx))

	env := &testEnv{
		t:          t,
		now:        time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
		registry:   NewRegistry(),
		access:     NewAccessControl([]int64{adminID}, authzStore, logger),
		authz:      authzStore,
		settings:   settingsStore,
		subStore:   subStore,
		subs:       subs,
		jobRuns:    map[string]int{},
		procedures: &fakeProcedures{},
		reports:    &fakeReportSource{report: &integration.ErrorReport{}},
		messenger:  newFakeMessenger(),
	}

	env.scheduler = scheduler.New(settingsStore, logger)
	for _, name := range jobs.Names {
		require.NoError(t, env.scheduler.Register(scheduler.Job{
			Name:     name,
			Schedule: "0 0 8 * * ?",
			Run: func(context.Context) error {
				env.jobRuns[name]++
				return nil
			},
		}))
	}

	renderer, err := report.NewRenderer(time.UTC)
	require.NoError(t, err)

	reportCfg := config.ReportConfig{Lookback: 24 * time.Hour, TempDir: t.TempDir()}
	handler := NewHandler(HandlerDeps{
		Access:        env.access,
		Authz:         authzStore,
		BotState:      settingsStore,
		Subscriptions: subs,
		Jobs:          env.scheduler,
		Reports:       jobs.NewReportBuilder(env.reports, renderer, reportCfg),
		Procedures:    env.procedures,
		Renderer:      renderer,
		Messenger:     env.messenger,
		TempDir:       t.TempDir(),
		Logger:        logger,
	})
	require.NoError(t, handler.RegisterAll(env.registry))

	env.dispatcher = env.newDispatcher(settingsStore)

	// userID is an approved, active user
	req, err := authzStore.CreateRequest(ctx, authz.AuthorizationRequest{UserID: userID, UserName: "alice", ChatID: userID})
	require.NoError(t, err)
	_, err = authzStore.Approve(ctx, req.ID, adminID)
	require.NoError(t, err)

	return env
}

func (e *testEnv) newDispatcher(state BotState) *Dispatcher {
	return e.newDispatcherWithLogger(state, logging.Discard())
}

func (e *testEnv) newDispatcherWithLogger(state BotState, logger *slog.Logger) *Dispatcher {
	d := NewDispatcher(e.registry, e.access, state, e.messenger, DispatcherConfig{
		MaintenanceMessage:  maintenanceText,
		UnauthorizedMessage: unauthorizedText,
		StaleAfter:          5 * time.Minute,
		BotUsername:         "reportbot",
	}, logger)
	d.now = func() time.Time { return e.now }
	return d
}

func (e *testEnv) message(senderID int64, text string) InboundMessage {
	return InboundMessage{
		ChatID:     senderID,
		SenderID:   senderID,
		SenderName: "user",
		Text:       text,
		Timestamp:  e.now,
	}
}

func (e *testEnv) send(senderID int64, text string) Result {
	return e.dispatcher.Dispatch(context.Background(), e.message(senderID, text))
}

// spy registers a command that records invocations
func (e *testEnv) spy(name string, tier Tier, fn func() error) *int {
	calls := new(int)
	require.NoError(e.t, e.registry.Register(Command{
		Name: name,
		Tier: tier,
		Handle: func(context.Context, *Request) error {
			*calls++
			if fn != nil {
				return fn()
			}
			return nil
		},
	}))
	return calls
}

func TestNonCommandTextIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, ResultIgnored, env.send(userID, "hello there"))
	assert.Equal(t, ResultIgnored, env.send(userID, ""))
	assert.Zero(t, env.messenger.count())
}

func TestStaleMessageHasNoEffect(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spy", TierPublic, nil)

	msg := env.message(userID, "/subscribe")
	msg.Timestamp = env.now.Add(-6 * time.Minute)
	assert.Equal(t, ResultStale, env.dispatcher.Dispatch(context.Background(), msg))

	spyMsg := env.message(strangerID, "/spy")
	spyMsg.Timestamp = env.now.Add(-time.Hour)
	assert.Equal(t, ResultStale, env.dispatcher.Dispatch(context.Background(), spyMsg))

	unknown := env.message(strangerID, "/nope")
	unknown.Timestamp = env.now.Add(-10 * time.Minute)
	assert.Equal(t, ResultStale, env.dispatcher.Dispatch(context.Background(), unknown))

	assert.Zero(t, *calls)
	assert.Zero(t, env.messenger.count())

	sub, err := env.subStore.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestMessageWithinStaleWindowIsHandled(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spy", TierPublic, nil)

	msg := env.message(strangerID, "/spy")
	msg.Timestamp = env.now.Add(-4 * time.Minute)
	assert.Equal(t, ResultHandled, env.dispatcher.Dispatch(context.Background(), msg))
	assert.Equal(t, 1, *calls)
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, ResultUnknown, env.send(strangerID, "/doesnotexist arg"))
	msgs := env.messenger.to(strangerID)
	require.Len(t, msgs, 1)
	assert.Equal(t, unknownCommandMessage, msgs[0].text)
}

func TestCommandLookupIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/Spy", TierPublic, nil)

	assert.Equal(t, ResultHandled, env.send(strangerID, "/SPY"))
	assert.Equal(t, ResultHandled, env.send(strangerID, "/spy"))
	assert.Equal(t, 2, *calls)
}

func TestBotMention(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spy", TierPublic, nil)

	assert.Equal(t, ResultHandled, env.send(strangerID, "/spy@ReportBot"))
	assert.Equal(t, ResultIgnored, env.send(strangerID, "/spy@otherbot"))
	assert.Equal(t, 1, *calls)
	assert.Zero(t, env.messenger.count())
}

func TestArgsArePassedToHandler(t *testing.T) {
	env := newTestEnv(t)

	var got *Request
	require.NoError(t, env.registry.Register(Command{
		Name: "/echo",
		Tier: TierPublic,
		Handle: func(_ context.Context, req *Request) error {
			got = req
			return nil
		},
	}))

	assert.Equal(t, ResultHandled, env.send(adminID, "/echo  one   two"))
	require.NotNil(t, got)
	assert.Equal(t, "/echo", got.Command)
	assert.Equal(t, []string{"one", "two"}, got.Args)
	assert.True(t, got.IsAdmin)
}

func TestAdminCommandsDeniedForNonAdmins(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spyadmin", TierAdmin, nil)

	var admin []*Command
	for _, cmd := range env.registry.Commands() {
		if cmd.Tier == TierAdmin {
			admin = append(admin, cmd)
		}
	}
	require.NotEmpty(t, admin)

	for _, sender := range []int64{userID, strangerID} {
		for _, cmd := range admin {
			env.messenger.reset()

			assert.Equal(t, ResultDenied, env.send(sender, cmd.Name+" 1"), cmd.Name)

			msgs := env.messenger.to(sender)
			require.Len(t, msgs, 1, cmd.Name)
			assert.Equal(t, permissionDeniedMessage, msgs[0].text, cmd.Name)
			assert.Equal(t, 1, env.messenger.count(), cmd.Name)
		}
	}

	assert.Zero(t, *calls)

	enabled, err := env.settings.IsBotEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled, "/disable must not run for non-admins")
}

func TestAuthorizedCommandRequiresAuthorization(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spyauth", TierAuthorized, nil)

	assert.Equal(t, ResultUnauthorized, env.send(strangerID, "/spyauth"))
	assert.Equal(t, unauthorizedText, env.messenger.last(strangerID))
	assert.Zero(t, *calls)

	assert.Equal(t, ResultHandled, env.send(userID, "/spyauth"))
	assert.Equal(t, ResultHandled, env.send(adminID, "/spyauth"))
	assert.Equal(t, 2, *calls)
}

func TestUnauthorizedSubscribeCreatesNoSubscriber(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, ResultUnauthorized, env.send(strangerID, "/subscribe"))

	msgs := env.messenger.to(strangerID)
	require.Len(t, msgs, 1)
	assert.Equal(t, unauthorizedText, msgs[0].text)

	sub, err := env.subStore.Get(context.Background(), strangerID)
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.False(t, env.subs.IsSubscribed(strangerID))
}

func TestRevokedUserLosesAccess(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spyauth", TierAuthorized, nil)

	_, err := env.authz.Revoke(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, ResultUnauthorized, env.send(userID, "/spyauth"))
	assert.Zero(t, *calls)
}

func TestMaintenanceModeBlocksNonAdmins(t *testing.T) {
	env := newTestEnv(t)
	public := env.spy("/spypublic", TierPublic, nil)
	authorized := env.spy("/spyauth", TierAuthorized, nil)

	require.NoError(t, env.settings.SetBotEnabled(context.Background(), false))

	for _, sender := range []int64{userID, strangerID} {
		for _, text := range []string{"/spypublic", "/spyauth", "/help", "/subscribe"} {
			env.messenger.reset()
			assert.Equal(t, ResultMaintenance, env.send(sender, text), text)

			msgs := env.messenger.to(sender)
			require.Len(t, msgs, 1, text)
			assert.Equal(t, maintenanceText, msgs[0].text, text)
		}
	}
	assert.Zero(t, *public)
	assert.Zero(t, *authorized)
	assert.False(t, env.subs.IsSubscribed(userID))

	assert.Equal(t, ResultHandled, env.send(adminID, "/spypublic"))
	assert.Equal(t, ResultHandled, env.send(adminID, "/spyauth"))
	assert.Equal(t, 1, *public)
	assert.Equal(t, 1, *authorized)

	assert.Equal(t, ResultHandled, env.send(adminID, "/subscribe"))
	assert.True(t, env.subs.IsSubscribed(adminID))
}

func TestMaintenanceCheckedBeforePrivilege(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.settings.SetBotEnabled(context.Background(), false))

	env.messenger.reset()
	assert.Equal(t, ResultMaintenance, env.send(strangerID, "/approve 1"))
	msgs := env.messenger.to(strangerID)
	require.Len(t, msgs, 1)
	assert.Equal(t, maintenanceText, msgs[0].text)
}

func TestBotStateFailureRepliesGeneric(t *testing.T) {
	env := newTestEnv(t)
	calls := env.spy("/spy", TierPublic, nil)
	d := env.newDispatcher(failingBotState{})

	assert.Equal(t, ResultFailed, d.Dispatch(context.Background(), env.message(userID, "/spy")))
	assert.Equal(t, apperrors.GenericUserMessage, env.messenger.last(userID))
	assert.Zero(t, *calls)

	// admins never read the flag
	assert.Equal(t, ResultHandled, d.Dispatch(context.Background(), env.message(adminID, "/spy")))
	assert.Equal(t, 1, *calls)
}

func TestHandlerErrorUsesUserMessage(t *testing.T) {
	env := newTestEnv(t)
	env.spy("/usererr", TierPublic, func() error {
		return apperrors.ErrRequestNotFound
	})
	env.spy("/plainerr", TierPublic, func() error {
		return errors.New("connection reset by peer")
	})

	assert.Equal(t, ResultFailed, env.send(strangerID, "/usererr"))
	assert.Equal(t, apperrors.ErrRequestNotFound.UserMsg, env.messenger.last(strangerID))

	assert.Equal(t, ResultFailed, env.send(strangerID, "/plainerr"))
	assert.Equal(t, apperrors.GenericUserMessage, env.messenger.last(strangerID))
}

func TestHandlerErrorLogLevelFollowsRetryability(t *testing.T) {
	env := newTestEnv(t)
	env.spy("/rejected", TierPublic, func() error {
		return apperrors.ErrRequestNotFound
	})
	env.spy("/unavailable", TierPublic, func() error {
		return fmt.Errorf("query report: %w", apperrors.ErrDataSourceUnavailable)
	})
	env.spy("/broken", TierPublic, func() error {
		return errors.New("connection reset by peer")
	})

	var buf bytes.Buffer
	d := env.newDispatcherWithLogger(env.settings, slog.New(slog.NewJSONHandler(&buf, nil)))

	tests := []struct {
		command string
		want    string
	}{
		{"/rejected", `"level":"WARN","msg":"command rejected"`},
		{"/unavailable", `"level":"WARN","msg":"command failed, retryable"`},
		{"/broken", `"level":"ERROR","msg":"command failed"`},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			buf.Reset()
			assert.Equal(t, ResultFailed, d.Dispatch(context.Background(), env.message(strangerID, tt.command)))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
	assert.Equal(t, apperrors.GenericUserMessage, env.messenger.last(strangerID))
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	env.spy("/boom", TierPublic, func() error {
		panic("nil map")
	})

	assert.NotPanics(t, func() {
		assert.Equal(t, ResultFailed, env.send(strangerID, "/boom"))
	})
	assert.Equal(t, apperrors.GenericUserMessage, env.messenger.last(strangerID))
}

func TestRegistryRejectsBadCommands(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Request) error { return nil }

	require.NoError(t, r.Register(Command{Name: "/ok", Handle: noop}))
	assert.Error(t, r.Register(Command{Name: "/OK", Handle: noop}))
	assert.Error(t, r.Register(Command{Name: "missing", Handle: noop}))
	assert.Error(t, r.Register(Command{Name: "/", Handle: noop}))
	assert.Error(t, r.Register(Command{Name: "/nil"}))

	cmd, ok := r.Lookup("/Ok")
	require.True(t, ok)
	assert.Equal(t, "/ok", cmd.Name)
}
