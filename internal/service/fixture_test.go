package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/dedupe"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/repository/memory"
	"github.com/spec-kit/chatdesk/internal/schedule"
)

var monday10 = time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type sentMessage struct {
	Contact    string
	Intent     channel.MessageIntent
	ProviderID string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
	n    int
}

func (s *fakeSender) Send(_ context.Context, contact string, intent channel.MessageIntent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", fmt.Errorf("provider unavailable")
	}
	s.n++
	id := fmt.Sprintf("out-%d", s.n)
	s.sent = append(s.sent, sentMessage{Contact: contact, Intent: intent, ProviderID: id})
	return id, nil
}

func (s *fakeSender) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *fakeSender) last() sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentMessage{}
	}
	return s.sent[len(s.sent)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeSink struct {
	mu  sync.Mutex
	got []channel.FeedbackSubmission
}

func (s *fakeSink) SubmitFeedback(_ context.Context, sub channel.FeedbackSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, sub)
	return nil
}

type fixtureOptions struct {
	botEnabled  bool
	autoArchive bool
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	clock      *fakeClock
	queue      *schedule.TimerQueue
	sender     *fakeSender
	sink       *fakeSink
	dispatcher events.Dispatcher
	script     *BotScript

	assign   *AssignmentService
	registry *Registry
	sla      *SLAService
	chat     *ChatService
	bot      *BotService
	intake   *IntakeService
	history  *HistoryService

	alice   *domain.StaffMember
	bob     *domain.StaffMember
	charlie *domain.StaffMember
	admin   *domain.StaffMember
}

const (
	supportTeam = "team-support"
	salesTeam   = "team-sales"
	botTeam     = "team-bot"
	botStaff    = "staff-bot"
)

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		ctx:        ctx,
		store:      memory.New(),
		clock:      &fakeClock{t: monday10},
		queue:      schedule.NewTimerQueue(zap.NewNop()),
		sender:     &fakeSender{},
		sink:       &fakeSink{},
		dispatcher: events.NewInMemoryDispatcher(),
	}
	repos := f.store.Repos()
	calendar := domain.ServiceHoursCalendar{ResponseTime: domain.ResponseTime{Minutes: 15}, DangerFraction: 0.8}
	for _, team := range []domain.Team{
		{ID: supportTeam, Name: "Support", IsActive: true, Calendar: calendar},
		{ID: salesTeam, Name: "Sales", IsActive: true, Calendar: calendar},
		{ID: botTeam, Name: "Bot", IsActive: true},
	} {
		team := team
		require.NoError(t, repos.Teams.Create(ctx, &team))
	}
	f.alice = f.addStaff(t, "agent-alice", domain.StaffRoleAgent, supportTeam)
	f.bob = f.addStaff(t, "agent-bob", domain.StaffRoleAgent, supportTeam)
	f.charlie = f.addStaff(t, "agent-charlie", domain.StaffRoleAgent, salesTeam)
	f.admin = f.addStaff(t, "admin-ada", domain.StaffRoleAdmin)
	f.addStaff(t, botStaff, domain.StaffRoleBot, botTeam)

	script, err := LoadBotScript("")
	require.NoError(t, err)
	f.script = script

	botCfg := config.BotConfig{Enabled: opts.botEnabled, StaffID: botStaff, TeamID: botTeam, IdleTimeout: 10 * time.Minute}
	clock := f.clock.Now

	f.sla = NewSLAService(SLADependencies{
		Store:        f.store,
		Scheduler:    f.queue,
		Sender:       f.sender,
		FeedbackSink: f.sink,
		Dispatcher:   f.dispatcher,
		Config:       config.SLAConfig{AutoArchive: opts.autoArchive, DefaultResponseMinutes: 15, DefaultDangerFraction: 0.8},
		BotIdle:      botCfg.IdleTimeout,
		ReminderText: script.Texts.Reminder,
		MaxAttempts:  3,
		Clock:        clock,
	})
	f.assign = NewAssignmentService(AssignmentDependencies{Store: f.store, SLA: f.sla, Dispatcher: f.dispatcher, MaxAttempts: 3, Clock: clock})
	f.registry = NewRegistry(RegistryDependencies{
		Store:      f.store,
		Assignment: f.assign,
		Routing:    config.RoutingConfig{DefaultTeamID: supportTeam},
		Bot:        botCfg,
		Clock:      clock,
	})
	f.chat = NewChatService(ChatDependencies{
		Store:      f.store,
		Registry:   f.registry,
		SLA:        f.sla,
		Sender:     f.sender,
		Dispatcher: f.dispatcher,
		Bot:        botCfg,
		Clock:      clock,
	})
	f.bot = NewBotService(BotDependencies{
		Store:        f.store,
		Registry:     f.registry,
		Assignment:   f.assign,
		SLA:          f.sla,
		Sender:       f.sender,
		FeedbackSink: f.sink,
		Dispatcher:   f.dispatcher,
		Script:       script,
		Config:       botCfg,
		MaxAttempts:  3,
		Clock:        clock,
	})
	f.bot.RegisterHandlers(f.dispatcher)
	f.intake = NewIntakeService(IntakeDependencies{
		Guard: dedupe.NewCache(time.Hour, 100),
		Chat:  f.chat,
		Bot:   f.bot,
	})
	f.history = NewHistoryService(f.store)
	return f
}

func (f *fixture) addStaff(t *testing.T, id string, role domain.StaffRole, teams ...string) *domain.StaffMember {
	t.Helper()
	m := &domain.StaffMember{
		ID:       id,
		Name:     id,
		Email:    id + "@example.com",
		Role:     role,
		TeamIDs:  teams,
		Presence: domain.PresenceOnline,
		Active:   true,
	}
	require.NoError(t, f.store.Repos().Staff.Create(f.ctx, m))
	return m
}

func (f *fixture) repos() repository.Repos {
	return f.store.Repos()
}

// receive records an inbound text at the current clock through the intake path.
func (f *fixture) receive(t *testing.T, contact, providerID, body string) *InboundResult {
	t.Helper()
	res, err := f.intake.Handle(f.ctx, InboundMessage{
		ContactIdentity:   contact,
		ProviderMessageID: providerID,
		Body:              body,
		ServerTimestamp:   f.clock.Now(),
	})
	require.NoError(t, err)
	return res
}

// choose replies to the last bot prompt with a menu selection.
func (f *fixture) choose(t *testing.T, contact, providerID, selection string) *InboundResult {
	t.Helper()
	res, err := f.intake.Handle(f.ctx, InboundMessage{
		ContactIdentity:   contact,
		ProviderMessageID: providerID,
		Kind:              domain.MessageKindInteractive,
		ReplyToProviderID: f.sender.last().ProviderID,
		SelectionID:       selection,
	})
	require.NoError(t, err)
	return res
}

// fireAt moves the clock to at and runs every task due by then.
func (f *fixture) fireAt(at time.Time) int {
	f.clock.Set(at)
	return f.queue.FireDue(f.ctx, at, f.sla.HandleTask)
}

func (f *fixture) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := f.repos().Sessions.GetByID(f.ctx, id)
	require.NoError(t, err)
	return s
}

func (f *fixture) conversation(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	c, err := f.repos().Conversations.GetByID(f.ctx, id)
	require.NoError(t, err)
	return c
}

func (f *fixture) current(t *testing.T, convID string) *domain.Session {
	t.Helper()
	conv := f.conversation(t, convID)
	require.NotNil(t, conv.CurrentSessionID)
	return f.session(t, *conv.CurrentSessionID)
}
