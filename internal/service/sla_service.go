package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/schedule"
	"github.com/spec-kit/chatdesk/internal/servicehours"
)

// deadlinePrecision keeps deadlines exactly representable in every store and in
// task payloads so the staleness comparison is exact.
const deadlinePrecision = time.Second

const defaultReminderText = "Are you still there? Reply to continue the conversation."

// SLAService arms response deadlines and applies the danger and too-late
// transitions when their tasks fire.
type SLAService struct {
	store     repository.Store
	tx        txRunner
	scheduler schedule.Scheduler
	out       outbound
	feedback  channel.FeedbackSink
	events    publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       config.SLAConfig
	loc       *time.Location
	botIdle   time.Duration
	reminder  string
	now       Clock
}

// SLADependencies bundles collaborators.
type SLADependencies struct {
	Store        repository.Store
	Scheduler    schedule.Scheduler
	Sender       channel.Sender
	FeedbackSink channel.FeedbackSink
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Config       config.SLAConfig
	BotIdle      time.Duration
	ReminderText string
	MaxAttempts  int
	Clock        Clock
}

// NewSLAService builds the service.
func NewSLAService(deps SLADependencies) *SLAService {
	now := clockOrDefault(deps.Clock)
	logger := loggerOrNop(deps.Logger)
	reminder := deps.ReminderText
	if reminder == "" {
		reminder = defaultReminderText
	}
	idle := deps.BotIdle
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &SLAService{
		store:     deps.Store,
		tx:        txRunner{store: deps.Store, attempts: deps.MaxAttempts, metrics: deps.Metrics, logger: logger, now: now},
		scheduler: deps.Scheduler,
		out:       outbound{sender: deps.Sender, metrics: deps.Metrics, logger: logger, now: now},
		feedback:  deps.FeedbackSink,
		events:    publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       deps.Config,
		loc:       deps.Config.Location(),
		botIdle:   idle,
		reminder:  reminder,
		now:       now,
	}
}

// deadlinePlan is a computed response deadline with the budget it was measured
// against.
type deadlinePlan struct {
	Deadline time.Time
	Budget   time.Duration
	Fraction float64
}

func (p deadlinePlan) dangerAt(now time.Time) time.Time {
	return servicehours.DangerAt(p.Deadline, p.Budget, p.Fraction, now)
}

// calendar returns the team calendar with configured defaults filled in.
func (s *SLAService) calendar(ctx context.Context, repos repository.Repos, teamID string) domain.ServiceHoursCalendar {
	var cal domain.ServiceHoursCalendar
	if teamID != "" {
		team, err := repos.Teams.GetByID(ctx, teamID)
		if err == nil {
			cal = team.Calendar
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("team calendar unavailable, using defaults", zap.String("team_id", teamID), zap.Error(err))
		}
	}
	if cal.ResponseTime.Duration() <= 0 {
		cal.ResponseTime = domain.ResponseTime{Minutes: s.cfg.DefaultResponseMinutes}
	}
	if cal.DangerFraction <= 0 || cal.DangerFraction >= 1 {
		cal.DangerFraction = s.cfg.DefaultDangerFraction
	}
	return cal
}

// plan computes the response deadline for an inbound message received at now by
// a session of teamID.
func (s *SLAService) plan(ctx context.Context, repos repository.Repos, teamID string, now time.Time) deadlinePlan {
	cal := s.calendar(ctx, repos, teamID)
	return deadlinePlan{
		Deadline: servicehours.Deadline(cal, now, s.loc).Truncate(deadlinePrecision),
		Budget:   cal.ResponseTime.Duration(),
		Fraction: cal.DangerFraction,
	}
}

// armSession sets the session deadline unless one is already tracked and
// returns the tasks to schedule after commit.
func (s *SLAService) armSession(sess *domain.Session, plan deadlinePlan, now time.Time) []schedule.Task {
	if sess.UnderSLA() || sess.IsFinished() {
		return nil
	}
	d := plan.Deadline
	sess.ResponseDeadline = &d
	sess.Status = domain.SessionStatusOnTime
	return sessionTasks(sess.ID, d, plan.dangerAt(now))
}

// armBot restarts the idle deadline after a bot prompt. A new prompt always
// supersedes the previous deadline.
func (s *SLAService) armBot(sess *domain.Session, now time.Time) []schedule.Task {
	if sess.IsFinished() {
		return nil
	}
	d := now.Add(s.botIdle).Truncate(deadlinePrecision)
	sess.BotDeadline = &d
	sess.Status = domain.SessionStatusOnTime
	sess.PendingReminder = true
	return sessionTasks(sess.ID, d, servicehours.DangerAt(d, s.botIdle, s.cfg.DefaultDangerFraction, now))
}

// messageTasks arms the per-message performance timers.
func (s *SLAService) messageTasks(sess *domain.Session, msg *domain.Message, plan deadlinePlan, now time.Time) []schedule.Task {
	d := plan.Deadline
	msg.ResponseDeadline = &d
	return []schedule.Task{
		{Type: schedule.TaskMessageDanger, SessionID: sess.ID, MessageID: msg.ID, Deadline: d, FireAt: plan.dangerAt(now)},
		{Type: schedule.TaskMessageTooLate, SessionID: sess.ID, MessageID: msg.ID, Deadline: d, FireAt: d},
	}
}

func sessionTasks(sessionID string, deadline, dangerAt time.Time) []schedule.Task {
	return []schedule.Task{
		{Type: schedule.TaskSessionDanger, SessionID: sessionID, Deadline: deadline, FireAt: dangerAt},
		{Type: schedule.TaskSessionTooLate, SessionID: sessionID, Deadline: deadline, FireAt: deadline},
	}
}

// Schedule hands tasks to the scheduler. Failures are logged; the boot re-arm
// recovers session timers.
func (s *SLAService) Schedule(ctx context.Context, tasks ...schedule.Task) {
	if len(tasks) == 0 || s.scheduler == nil {
		return
	}
	if err := s.scheduler.Schedule(ctx, tasks...); err != nil {
		s.logger.Error("scheduling SLA tasks failed", zap.Int("tasks", len(tasks)), zap.Error(err))
	}
}

// HandleTask applies a fired task. Superseded tasks are no-ops.
func (s *SLAService) HandleTask(ctx context.Context, task schedule.Task) error {
	var err error
	switch task.Type {
	case schedule.TaskSessionDanger:
		err = s.handleSessionDanger(ctx, task)
	case schedule.TaskSessionTooLate:
		err = s.handleSessionTooLate(ctx, task)
	case schedule.TaskMessageDanger, schedule.TaskMessageTooLate:
		err = s.handlePerformance(ctx, task)
	default:
		return fmt.Errorf("unknown task type %q", task.Type)
	}
	if errors.Is(err, errStaleTask) {
		s.logger.Debug("stale SLA task ignored",
			zap.String("type", string(task.Type)),
			zap.String("session_id", task.SessionID),
			zap.String("message_id", task.MessageID))
		return nil
	}
	return err
}

// tracked loads the session a session task was armed for, failing with
// errStaleTask when the deadline has since moved.
func tracked(ctx context.Context, repos repository.Repos, task schedule.Task) (*domain.Session, error) {
	sess, err := repos.Sessions.GetByID(ctx, task.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errStaleTask
	}
	if err != nil {
		return nil, err
	}
	d := sess.TrackedDeadline()
	if sess.IsFinished() || d == nil || !d.Equal(task.Deadline) {
		return nil, errStaleTask
	}
	return sess, nil
}

func (s *SLAService) handleSessionDanger(ctx context.Context, task schedule.Task) error {
	var (
		sess   *domain.Session
		conv   *domain.Conversation
		remind bool
	)
	op := operation{Action: "sla_danger"}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		cur, err := tracked(ctx, repos, task)
		if err != nil {
			return err
		}
		if cur.Status != domain.SessionStatusOnTime {
			return errStaleTask
		}
		cur.Status = domain.SessionStatusDanger
		remind = cur.PendingReminder
		cur.PendingReminder = false
		if err := repos.Sessions.Update(ctx, cur); err != nil {
			return err
		}
		if conv, err = repos.Conversations.GetByID(ctx, cur.ConversationID); err != nil {
			return err
		}
		sess = cur
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSLATransition(string(sess.Kind), "danger")
	s.logger.Info("session in danger",
		zap.String("conversation_id", sess.ConversationID),
		zap.String("session_id", sess.ID),
		zap.Time("deadline", task.Deadline))
	s.statusChanged(ctx, sess, domain.SessionStatusOnTime, task.Deadline)
	if remind {
		s.sendReminder(ctx, conv, sess)
	}
	return nil
}

func (s *SLAService) sendReminder(ctx context.Context, conv *domain.Conversation, sess *domain.Session) {
	msg := s.out.deliver(ctx, conv, sess.ID, author{Type: domain.AuthorTypeSystem}, channel.MessageIntent{
		Kind: domain.MessageKindText,
		Text: s.reminder,
	})
	if err := s.store.Repos().Messages.Create(ctx, msg); err != nil {
		s.logger.Error("recording reminder failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// tooLateOutcome is what a too-late transition did.
type tooLateOutcome struct {
	sess       *domain.Session
	old        domain.SessionStatus
	archived   bool
	submission *channel.FeedbackSubmission
}

func (s *SLAService) handleSessionTooLate(ctx context.Context, task schedule.Task) error {
	var out tooLateOutcome
	op := operation{Action: "sla_too_late"}
	err := s.tx.run(ctx, op, func(repos repository.Repos) error {
		out = tooLateOutcome{}
		cur, err := tracked(ctx, repos, task)
		if err != nil {
			return err
		}
		if cur.Status == domain.SessionStatusTooLate {
			return errStaleTask
		}
		out.old = cur.Status
		now := s.now()
		if !s.cfg.AutoArchive && cur.Kind == domain.SessionKindNormal {
			cur.Status = domain.SessionStatusTooLate
			out.sess = cur
			return repos.Sessions.Update(ctx, cur)
		}
		conv, err := repos.Conversations.GetByID(ctx, cur.ConversationID)
		if err != nil {
			return err
		}
		if conv.CurrentSessionID == nil || *conv.CurrentSessionID != cur.ID {
			return errStaleTask
		}
		answers := cur.FeedbackAnswers
		if err := archiveSession(ctx, repos, conv, cur, nil, "auto", now); err != nil {
			return err
		}
		if cur.Kind == domain.SessionKindFeedback && len(answers) > 0 {
			out.submission = &channel.FeedbackSubmission{
				ConversationID:  conv.ID,
				SessionID:       cur.ID,
				ContactIdentity: conv.ContactIdentity,
				RatedStaffID:    ratedStaff(ctx, repos, conv.ID),
				Answers:         answers,
				Complete:        false,
				SubmittedAt:     now,
			}
		}
		out.sess = cur
		out.archived = true
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordSLATransition(string(out.sess.Kind), "too_late")
	s.logger.Info("session too late",
		zap.String("conversation_id", out.sess.ConversationID),
		zap.String("session_id", out.sess.ID),
		zap.Bool("archived", out.archived))
	if !out.archived {
		s.statusChanged(ctx, out.sess, out.old, task.Deadline)
		return nil
	}
	s.events.publish(ctx, events.Event{
		Type:           events.EventConversationArchived,
		ConversationID: out.sess.ConversationID,
		SessionID:      out.sess.ID,
		Recipients:     recipients(nil, out.sess.OwnerStaffID),
		Payload:        events.ArchivePayload{Reason: "auto", FromStaffID: &out.sess.OwnerStaffID},
	})
	if out.submission != nil && s.feedback != nil {
		if err := s.feedback.SubmitFeedback(ctx, *out.submission); err != nil {
			s.logger.Error("flushing partial feedback failed",
				zap.String("conversation_id", out.submission.ConversationID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *SLAService) statusChanged(ctx context.Context, sess *domain.Session, old domain.SessionStatus, deadline time.Time) {
	d := deadline
	s.events.publish(ctx, events.Event{
		Type:           events.EventSessionStatusChanged,
		ConversationID: sess.ConversationID,
		SessionID:      sess.ID,
		Recipients:     recipients(nil, sess.OwnerStaffID),
		Payload:        events.SessionStatusPayload{OldStatus: old, NewStatus: sess.Status, Deadline: &d},
	})
}

// handlePerformance moves one inbound message between the performance counters.
// It only counts when the agent has not replied since the message arrived.
func (s *SLAService) handlePerformance(ctx context.Context, task schedule.Task) error {
	op := operation{Action: "sla_performance"}
	return s.tx.run(ctx, op, func(repos repository.Repos) error {
		msg, err := repos.Messages.GetByID(ctx, task.MessageID)
		if errors.Is(err, repository.ErrNotFound) {
			return errStaleTask
		}
		if err != nil {
			return err
		}
		if msg.ResponseDeadline == nil || !msg.ResponseDeadline.Equal(task.Deadline) {
			return errStaleTask
		}
		sess, err := repos.Sessions.GetByID(ctx, task.SessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return errStaleTask
		}
		if err != nil {
			return err
		}
		if sess.IsFinished() {
			return errStaleTask
		}
		if sess.LastAgentReplyAt != nil && !sess.LastAgentReplyAt.Before(msg.CreatedAt) {
			return errStaleTask
		}
		applyPerformance(&sess.Performance, task.Type)
		return repos.Sessions.Update(ctx, sess)
	})
}

func applyPerformance(p *domain.PerformanceCounters, t schedule.TaskType) {
	switch t {
	case schedule.TaskMessageDanger:
		if p.OnTime > 0 {
			p.OnTime--
		}
		p.Danger++
	case schedule.TaskMessageTooLate:
		if p.Danger > 0 {
			p.Danger--
		} else if p.OnTime > 0 {
			p.OnTime--
		}
		p.TooLate++
	}
}

// Rearm schedules the session timers of every tracked session. It runs at boot
// because the in-process queue does not survive restarts.
func (s *SLAService) Rearm(ctx context.Context) (int, error) {
	repos := s.store.Repos()
	sessions, err := repos.Sessions.ListTracked(ctx)
	if err != nil {
		return 0, translate(err)
	}
	now := s.now()
	var tasks []schedule.Task
	for i := range sessions {
		sess := &sessions[i]
		d := sess.TrackedDeadline()
		if d == nil {
			continue
		}
		var dangerAt time.Time
		if sess.IsAutomated() {
			dangerAt = servicehours.DangerAt(*d, s.botIdle, s.cfg.DefaultDangerFraction, now)
		} else {
			cal := s.calendar(ctx, repos, sess.OwnerTeamID)
			dangerAt = servicehours.DangerAt(*d, cal.ResponseTime.Duration(), cal.DangerFraction, now)
		}
		tasks = append(tasks, sessionTasks(sess.ID, *d, dangerAt)...)
	}
	if s.scheduler != nil && len(tasks) > 0 {
		if err := s.scheduler.Schedule(ctx, tasks...); err != nil {
			return 0, err
		}
	}
	s.logger.Info("SLA timers re-armed", zap.Int("sessions", len(tasks)/2))
	return len(tasks) / 2, nil
}
