package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spec-kit/chatdesk/internal/channel"
	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	"github.com/spec-kit/chatdesk/internal/observability"
	"github.com/spec-kit/chatdesk/internal/repository"
	"github.com/spec-kit/chatdesk/internal/schedule"
)

//go:embed bot_script.yaml
var defaultBotScript []byte

// Bot option actions.
const (
	BotActionHandoff = "handoff"
	BotActionClose   = "close"
)

// BotScript is the scripted intake dialog and the feedback survey.
type BotScript struct {
	Start    string             `yaml:"start"`
	Nodes    map[string]BotNode `yaml:"nodes"`
	Texts    BotTexts           `yaml:"texts"`
	Feedback FeedbackScript     `yaml:"feedback"`
}

// BotNode is one prompt of the dialog.
type BotNode struct {
	Text      string         `yaml:"text"`
	Options   []BotOption    `yaml:"options"`
	Reference *ReferenceStep `yaml:"reference"`
}

// BotOption is a menu entry. It either leads to another node or ends the bot
// period through an action.
type BotOption struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Next   string `yaml:"next"`
	Action string `yaml:"action"`
	TeamID string `yaml:"team_id"`
}

// ReferenceStep asks for a reference number and continues at Next when it validates.
type ReferenceStep struct {
	Next string `yaml:"next"`
}

// BotTexts are the fixed replies of the bot.
type BotTexts struct {
	Error          string `yaml:"error"`
	ReferenceError string `yaml:"reference_error"`
	Reminder       string `yaml:"reminder"`
	Closing        string `yaml:"closing"`
	Handoff        string `yaml:"handoff"`
	Unavailable    string `yaml:"unavailable"`
}

// FeedbackScript is the rating survey run after an archive with feedback.
type FeedbackScript struct {
	Intro     string             `yaml:"intro"`
	Thanks    string             `yaml:"thanks"`
	Questions []FeedbackQuestion `yaml:"questions"`
}

// FeedbackQuestion is one rating question.
type FeedbackQuestion struct {
	ID      string              `yaml:"id"`
	Text    string              `yaml:"text"`
	Options []domain.MenuOption `yaml:"options"`
}

// LoadBotScript reads the script at path, or the built-in one when path is empty.
func LoadBotScript(path string) (*BotScript, error) {
	data := defaultBotScript
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read bot script: %w", err)
		}
		data = raw
	}
	return ParseBotScript(data)
}

// ParseBotScript decodes and validates a YAML script.
func ParseBotScript(data []byte) (*BotScript, error) {
	var script BotScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode bot script: %w", err)
	}
	if err := script.validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

func (s *BotScript) validate() error {
	if _, ok := s.Nodes[s.Start]; !ok {
		return fmt.Errorf("bot script: start node %q not defined", s.Start)
	}
	for id, node := range s.Nodes {
		if node.Reference != nil {
			if _, ok := s.Nodes[node.Reference.Next]; !ok {
				return fmt.Errorf("bot script: node %q references unknown node %q", id, node.Reference.Next)
			}
			continue
		}
		if len(node.Options) == 0 {
			return fmt.Errorf("bot script: node %q has no options", id)
		}
		for _, opt := range node.Options {
			switch opt.Action {
			case BotActionHandoff, BotActionClose:
			case "":
				if _, ok := s.Nodes[opt.Next]; !ok {
					return fmt.Errorf("bot script: option %q of node %q leads to unknown node %q", opt.ID, id, opt.Next)
				}
			default:
				return fmt.Errorf("bot script: option %q has unknown action %q", opt.ID, opt.Action)
			}
		}
	}
	for _, q := range s.Feedback.Questions {
		if len(q.Options) == 0 {
			return fmt.Errorf("bot script: feedback question %q has no options", q.ID)
		}
	}
	return nil
}

func (n BotNode) option(id string) (BotOption, bool) {
	for _, opt := range n.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return BotOption{}, false
}

func menuIntent(prefix, text string, options []domain.MenuOption) channel.MessageIntent {
	if prefix != "" {
		text = prefix + "\n\n" + text
	}
	if len(options) == 0 {
		return channel.MessageIntent{Kind: domain.MessageKindText, Text: text}
	}
	return channel.MessageIntent{Kind: domain.MessageKindMenu, Text: text, Options: options}
}

func optionIDs(options []domain.MenuOption) []string {
	ids := make([]string, 0, len(options))
	for _, o := range options {
		ids = append(ids, o.ID)
	}
	return ids
}

func (n BotNode) menu() []domain.MenuOption {
	out := make([]domain.MenuOption, 0, len(n.Options))
	for _, o := range n.Options {
		out = append(out, domain.MenuOption{ID: o.ID, Title: o.Title})
	}
	return out
}

// BotService drives bot and feedback sessions.
type BotService struct {
	store    repository.Store
	tx       txRunner
	registry *Registry
	assign   *AssignmentService
	sla      *SLAService
	out      outbound
	lookup   channel.ReferenceLookup
	feedback channel.FeedbackSink
	events   publisher
	script   *BotScript
	cfg      config.BotConfig
	logger   *zap.Logger
	now      Clock
}

// BotDependencies bundles collaborators.
type BotDependencies struct {
	Store        repository.Store
	Registry     *Registry
	Assignment   *AssignmentService
	SLA          *SLAService
	Sender       channel.Sender
	Lookup       channel.ReferenceLookup
	FeedbackSink channel.FeedbackSink
	Dispatcher   events.Dispatcher
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Script       *BotScript
	Config       config.BotConfig
	MaxAttempts  int
	Clock        Clock
}

// NewBotService builds the service.
func NewBotService(deps BotDependencies) *BotService {
	now := clockOrDefault(deps.Clock)
	logger := loggerOrNop(deps.Logger)
	lookup := deps.Lookup
	if lookup == nil {
		lookup = channel.DisabledLookup{}
	}
	return &BotService{
		store:    deps.Store,
		tx:       txRunner{store: deps.Store, attempts: deps.MaxAttempts, metrics: deps.Metrics, logger: logger, now: now},
		registry: deps.Registry,
		assign:   deps.Assignment,
		sla:      deps.SLA,
		out:      outbound{sender: deps.Sender, metrics: deps.Metrics, logger: logger, now: now},
		lookup:   lookup,
		feedback: deps.FeedbackSink,
		events:   publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		script:   deps.Script,
		cfg:      deps.Config,
		logger:   logger,
		now:      now,
	}
}

// RegisterHandlers starts the survey whenever a feedback session is created.
func (b *BotService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventFeedbackRequested, func(ctx context.Context, event events.Event) error {
		return b.StartFeedback(ctx, event.SessionID)
	})
}

// HandleInbound answers an inbound message recorded in a bot or feedback session.
func (b *BotService) HandleInbound(ctx context.Context, res *InboundResult) error {
	if res == nil || res.Duplicate || res.Session == nil || !res.Session.IsAutomated() {
		return nil
	}
	return b.drive(ctx, res.Session.ID, res.Message)
}

// StartFeedback sends the first survey question of a feedback session.
func (b *BotService) StartFeedback(ctx context.Context, sessionID string) error {
	return b.drive(ctx, sessionID, nil)
}

type finishKind int

const (
	finishNone finishKind = iota
	finishClose
	finishHandoff
	finishFeedback
)

// botStep is the bot's decision for one inbound message.
type botStep struct {
	intents           []channel.MessageIntent
	prompt            *domain.BotPrompt
	state             domain.BotDialogState
	referenceRequired bool
	referenceValue    *string
	answer            *domain.FeedbackAnswer
	finish            finishKind
	handoffTeam       string
}

func (b *BotService) drive(ctx context.Context, sessionID string, msg *domain.Message) error {
	sess, conv, prev, err := b.enter(ctx, sessionID)
	if errors.Is(err, errBotBusy) || errors.Is(err, errStaleTask) {
		b.logger.Debug("bot skipped delivery", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if msg == nil && prev != domain.BotDialogNone {
		b.release(ctx, sessionID, domain.BotDialogProceeding)
		return nil
	}
	step := b.decide(ctx, conv, sess, prev, msg)
	if err := b.complete(ctx, conv, sess, step); err != nil {
		b.release(ctx, sessionID, domain.BotDialogProceeding)
		return err
	}
	if step.state == domain.BotDialogError && step.finish == finishNone {
		b.release(ctx, sessionID, domain.BotDialogError)
	}
	return nil
}

// enter moves the session into PROCEEDING. A session already proceeding, or a
// concurrent writer winning the version check, means another delivery owns the
// dialog.
func (b *BotService) enter(ctx context.Context, sessionID string) (*domain.Session, *domain.Conversation, domain.BotDialogState, error) {
	var (
		sess *domain.Session
		conv *domain.Conversation
		prev domain.BotDialogState
	)
	err := b.store.WithinTx(ctx, func(repos repository.Repos) error {
		cur, err := repos.Sessions.GetByID(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return errStaleTask
		}
		if err != nil {
			return err
		}
		if cur.IsFinished() || !cur.IsAutomated() {
			return errStaleTask
		}
		if cur.BotDialogState == domain.BotDialogProceeding {
			return errBotBusy
		}
		c, err := repos.Conversations.GetByID(ctx, cur.ConversationID)
		if err != nil {
			return err
		}
		if c.CurrentSessionID == nil || *c.CurrentSessionID != cur.ID {
			return errStaleTask
		}
		prev = cur.BotDialogState
		cur.BotDialogState = domain.BotDialogProceeding
		if err := repos.Sessions.Update(ctx, cur); err != nil {
			return err
		}
		sess, conv = cur, c
		return nil
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil, nil, "", errBotBusy
	}
	if err != nil && !isControlFlow(err) {
		return nil, nil, "", translate(err)
	}
	return sess, conv, prev, err
}

// release returns the dialog to NORMAL when it is still in state from: a
// PROCEEDING flag left by a failed response, or ERROR once its prompt is out.
func (b *BotService) release(ctx context.Context, sessionID string, from domain.BotDialogState) {
	ctx = context.WithoutCancel(ctx)
	err := b.store.WithinTx(ctx, func(repos repository.Repos) error {
		cur, err := repos.Sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if cur.IsFinished() || cur.BotDialogState != from {
			return nil
		}
		cur.BotDialogState = domain.BotDialogNormal
		return repos.Sessions.Update(ctx, cur)
	})
	if err != nil {
		b.logger.Warn("releasing bot dialog failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (b *BotService) decide(ctx context.Context, conv *domain.Conversation, sess *domain.Session, prev domain.BotDialogState, msg *domain.Message) botStep {
	if sess.Kind == domain.SessionKindFeedback {
		return b.decideFeedback(sess, prev, msg)
	}
	if prev == domain.BotDialogNone {
		step := b.nodeStep(b.script.Start, "")
		step.state = domain.BotDialogWelcome
		return step
	}
	if sess.ReferenceRequired {
		return b.decideReference(ctx, conv, sess, msg)
	}

	nodeID := b.script.Start
	if sess.Prompt != nil && sess.Prompt.Kind == domain.BotPromptMenu {
		nodeID = sess.Prompt.NodeID
	}
	selection := derefString(msg.SelectionID)
	if !sess.Prompt.Accepts(derefString(msg.ReplyToProviderID), selection) {
		step := b.nodeStep(nodeID, b.script.Texts.Error)
		step.state = domain.BotDialogError
		return step
	}
	opt, _ := b.script.Nodes[nodeID].option(selection)
	switch opt.Action {
	case BotActionClose:
		return botStep{intents: []channel.MessageIntent{menuIntent("", b.script.Texts.Closing, nil)}, finish: finishClose}
	case BotActionHandoff:
		team, err := b.handoffTeam(ctx, opt)
		if err != nil {
			b.logger.Warn("bot handoff unavailable", zap.String("conversation_id", conv.ID), zap.Error(err))
			return b.nodeStep(b.script.Start, b.script.Texts.Unavailable)
		}
		return botStep{
			intents:     []channel.MessageIntent{menuIntent("", b.script.Texts.Handoff, nil)},
			finish:      finishHandoff,
			handoffTeam: team,
		}
	}
	return b.nodeStep(opt.Next, "")
}

// handoffTeam resolves the team of a handoff and checks it has an eligible agent.
func (b *BotService) handoffTeam(ctx context.Context, opt BotOption) (string, error) {
	repos := b.store.Repos()
	team := opt.TeamID
	if team == "" {
		var err error
		if team, err = b.registry.routingTeam(ctx, repos); err != nil {
			return "", err
		}
	}
	if _, err := b.assign.SelectLeastLoaded(ctx, repos, team); err != nil {
		return "", err
	}
	return team, nil
}

func (b *BotService) decideReference(ctx context.Context, conv *domain.Conversation, sess *domain.Session, msg *domain.Message) botStep {
	ref := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, msg.Body)

	valid := false
	if ref != "" {
		result, err := b.lookup.ValidateReference(ctx, conv.ContactIdentity, ref)
		switch {
		case errors.Is(err, channel.ErrLookupDisabled):
			valid = true
		case err != nil:
			b.logger.Warn("reference lookup failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		default:
			valid = result.Valid
		}
	}
	if !valid {
		step := b.nodeStep(b.script.Start, b.script.Texts.ReferenceError)
		step.referenceRequired = false
		step.state = domain.BotDialogError
		return step
	}
	next := b.script.Start
	if sess.Prompt != nil {
		if node, ok := b.script.Nodes[sess.Prompt.NodeID]; ok && node.Reference != nil {
			next = node.Reference.Next
		}
	}
	step := b.nodeStep(next, "")
	step.referenceValue = &ref
	return step
}

// nodeStep presents node id, prefixed with an optional notice.
func (b *BotService) nodeStep(id, prefix string) botStep {
	node := b.script.Nodes[id]
	if node.Reference != nil {
		return botStep{
			intents:           []channel.MessageIntent{menuIntent(prefix, node.Text, nil)},
			prompt:            &domain.BotPrompt{Kind: domain.BotPromptReference, NodeID: id},
			state:             domain.BotDialogNormal,
			referenceRequired: true,
		}
	}
	options := node.menu()
	return botStep{
		intents: []channel.MessageIntent{menuIntent(prefix, node.Text, options)},
		prompt:  &domain.BotPrompt{Kind: domain.BotPromptMenu, NodeID: id, ValidReplyIDs: optionIDs(options)},
		state:   domain.BotDialogNormal,
	}
}

func (b *BotService) decideFeedback(sess *domain.Session, prev domain.BotDialogState, msg *domain.Message) botStep {
	questions := b.script.Feedback.Questions
	asked := len(sess.FeedbackAnswers)
	if len(questions) == 0 {
		return botStep{intents: []channel.MessageIntent{menuIntent("", b.script.Feedback.Thanks, nil)}, finish: finishFeedback}
	}
	if prev == domain.BotDialogNone || msg == nil {
		step := b.questionStep(0, b.script.Feedback.Intro)
		step.state = domain.BotDialogWelcome
		return step
	}
	selection := derefString(msg.SelectionID)
	if asked >= len(questions) || !sess.Prompt.Accepts(derefString(msg.ReplyToProviderID), selection) {
		step := b.questionStep(min(asked, len(questions)-1), b.script.Texts.Error)
		step.state = domain.BotDialogError
		return step
	}
	answer := &domain.FeedbackAnswer{QuestionID: sess.Prompt.NodeID, Answer: selection, AnsweredAt: b.now()}
	if asked+1 < len(questions) {
		step := b.questionStep(asked+1, "")
		step.answer = answer
		return step
	}
	return botStep{
		intents: []channel.MessageIntent{menuIntent("", b.script.Feedback.Thanks, nil)},
		answer:  answer,
		finish:  finishFeedback,
	}
}

func (b *BotService) questionStep(i int, prefix string) botStep {
	q := b.script.Feedback.Questions[i]
	return botStep{
		intents: []channel.MessageIntent{menuIntent(prefix, q.Text, q.Options)},
		prompt:  &domain.BotPrompt{Kind: domain.BotPromptFeedback, NodeID: q.ID, ValidReplyIDs: optionIDs(q.Options)},
		state:   domain.BotDialogNormal,
	}
}

// botOutcome is the committed effect of a step.
type botOutcome struct {
	tasks      []schedule.Task
	next       *domain.Session
	ended      *domain.Session
	submission *channel.FeedbackSubmission
	reason     string
}

// complete sends the step's messages while the dialog is PROCEEDING, then
// commits the new dialog state, prompt and deadline, or ends the bot period.
func (b *BotService) complete(ctx context.Context, conv *domain.Conversation, sess *domain.Session, step botStep) error {
	botID := b.cfg.StaffID
	by := author{Type: domain.AuthorTypeBot, ID: &botID}
	msgs := make([]*domain.Message, 0, len(step.intents))
	for _, intent := range step.intents {
		msgs = append(msgs, b.out.deliver(ctx, conv, sess.ID, by, intent))
	}

	var out botOutcome
	op := operation{Action: "bot_reply", ConversationID: conv.ID, ActorStaffID: &botID}
	err := b.tx.run(ctx, op, func(repos repository.Repos) error {
		out = botOutcome{}
		for _, m := range msgs {
			if err := repos.Messages.Create(ctx, m); err != nil {
				return err
			}
		}
		c, err := repos.Conversations.GetByID(ctx, conv.ID)
		if err != nil {
			return err
		}
		cur, err := repos.Sessions.GetByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1].ID
			c.LastMessageID = &last
			cur.LastOutboundMessageID = &last
		}
		if cur.IsFinished() || c.CurrentSessionID == nil || *c.CurrentSessionID != cur.ID {
			return repos.Conversations.Update(ctx, c)
		}
		now := b.now()
		cur.ReferenceRequired = step.referenceRequired
		if step.referenceValue != nil {
			cur.ReferenceValue = step.referenceValue
		}
		if step.answer != nil {
			cur.FeedbackAnswers = append(cur.FeedbackAnswers, *step.answer)
		}
		cur.BotDialogState = domain.BotDialogNormal

		switch step.finish {
		case finishNone:
			if step.state != "" {
				cur.BotDialogState = step.state
			}
			cur.Prompt = nil
			if step.prompt != nil {
				p := *step.prompt
				p.SentAt = now
				if n := len(msgs); n > 0 && msgs[n-1].ProviderMessageID != nil {
					p.ProviderMessageID = *msgs[n-1].ProviderMessageID
				}
				cur.Prompt = &p
			}
			out.tasks = b.sla.armBot(cur, now)
			if err := repos.Sessions.Update(ctx, cur); err != nil {
				return err
			}
			return repos.Conversations.Update(ctx, c)
		case finishClose, finishFeedback:
			reason := "bot_closed"
			if step.finish == finishFeedback {
				reason = "feedback_complete"
				out.submission = &channel.FeedbackSubmission{
					ConversationID:  c.ID,
					SessionID:       cur.ID,
					ContactIdentity: c.ContactIdentity,
					RatedStaffID:    ratedStaff(ctx, repos, c.ID),
					Answers:         append([]domain.FeedbackAnswer(nil), cur.FeedbackAnswers...),
					Complete:        true,
					SubmittedAt:     now,
				}
			}
			out.ended, out.reason = cur, reason
			return archiveSession(ctx, repos, c, cur, &botID, reason, now)
		case finishHandoff:
			if err := repos.Sessions.Update(ctx, cur); err != nil {
				return err
			}
			target, err := b.assign.SelectLeastLoaded(ctx, repos, step.handoffTeam)
			if err != nil {
				return err
			}
			prev, next, tasks, err := reassign(ctx, repos, c, handoff{
				Action:   domain.HistoryActionTransfer,
				Actor:    &botID,
				To:       sessionTarget{StaffID: target.ID, TeamID: step.handoffTeam, Kind: domain.SessionKindNormal},
				SLA:      b.sla,
				Awaiting: true,
			}, now)
			if err != nil {
				return err
			}
			out.ended, out.next, out.tasks = prev, next, tasks
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.sla.Schedule(ctx, out.tasks...)
	switch {
	case out.next != nil:
		b.logger.Info("bot handed conversation to agent",
			zap.String("conversation_id", conv.ID),
			zap.String("staff_id", out.next.OwnerStaffID),
			zap.String("team_id", out.next.OwnerTeamID))
		b.events.publish(ctx, events.Event{
			Type:           events.EventConversationAssigned,
			ConversationID: conv.ID,
			SessionID:      out.next.ID,
			Actor:          events.Actor{StaffID: &botID},
			Recipients:     recipients(&botID, out.next.OwnerStaffID),
			Payload: events.AssignmentPayload{
				Action:      domain.HistoryActionTransfer,
				Kind:        out.next.Kind,
				FromStaffID: &botID,
				ToStaffID:   out.next.OwnerStaffID,
				ToTeamID:    out.next.OwnerTeamID,
			},
		})
	case out.ended != nil:
		b.logger.Info("bot closed conversation", zap.String("conversation_id", conv.ID), zap.String("reason", out.reason))
		b.events.publish(ctx, events.Event{
			Type:           events.EventConversationArchived,
			ConversationID: conv.ID,
			SessionID:      out.ended.ID,
			Actor:          events.Actor{StaffID: &botID},
			Payload:        events.ArchivePayload{Reason: out.reason, FromStaffID: &botID},
		})
	}
	if out.submission != nil && b.feedback != nil {
		if err := b.feedback.SubmitFeedback(ctx, *out.submission); err != nil {
			b.logger.Error("submitting feedback failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return nil
}
