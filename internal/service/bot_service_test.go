package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/domain"
)

func TestDefaultBotScriptIsValid(t *testing.T) {
	script, err := LoadBotScript("")
	require.NoError(t, err)
	assert.Equal(t, "main", script.Start)
	assert.Len(t, script.Feedback.Questions, 2)
}

func TestParseBotScriptRejectsDanglingNodes(t *testing.T) {
	_, err := ParseBotScript([]byte(`
start: main
nodes:
  main:
    text: pick
    options:
      - id: a
        title: A
        next: nowhere
`))
	require.Error(t, err)

	_, err = ParseBotScript([]byte("start: missing\nnodes: {}\n"))
	require.Error(t, err)
}

func TestBotWelcomesAndHandsOff(t *testing.T) {
	f := newFixture(t, fixtureOptions{botEnabled: true})
	res := f.receive(t, "+15550001", "in-1", "hi")
	require.Equal(t, domain.SessionKindBot, res.Session.Kind)

	welcome := f.sender.last()
	assert.Equal(t, domain.MessageKindMenu, welcome.Intent.Kind)
	assert.Len(t, welcome.Intent.Options, 4)

	sess := f.session(t, res.Session.ID)
	assert.Equal(t, domain.BotDialogWelcome, sess.BotDialogState)
	require.NotNil(t, sess.Prompt)
	assert.Equal(t, welcome.ProviderID, sess.Prompt.ProviderMessageID)
	require.NotNil(t, sess.BotDeadline)
	assert.True(t, sess.BotDeadline.Equal(monday10.Add(10*time.Minute)))

	f.choose(t, "+15550001", "in-2", "agent")

	assert.Equal(t, f.script.Texts.Handoff, f.sender.last().Intent.Text)
	assert.True(t, f.session(t, res.Session.ID).IsFinished())
	cur := f.current(t, res.Conversation.ID)
	assert.Equal(t, domain.SessionKindNormal, cur.Kind)
	assert.Equal(t, f.alice.ID, cur.OwnerStaffID)
	assert.Equal(t, supportTeam, cur.OwnerTeamID)
}

func TestBotRepeatsMenuOnUnknownReply(t *testing.T) {
	f := newFixture(t, fixtureOptions{botEnabled: true})
	res := f.receive(t, "+15550001", "in-1", "hi")

	f.receive(t, "+15550001", "in-2", "what?")
	last := f.sender.last()
	assert.True(t, strings.HasPrefix(last.Intent.Text, f.script.Texts.Error))
	assert.Len(t, last.Intent.Options, 4)

	sess := f.session(t, res.Session.ID)
	assert.Equal(t, domain.BotDialogNormal, sess.BotDialogState)
	assert.Equal(t, last.ProviderID, sess.Prompt.ProviderMessageID)

	f.choose(t, "+15550001", "in-3", "done")
	conv := f.conversation(t, res.Conversation.ID)
	assert.True(t, conv.IsArchived())
	assert.Equal(t, f.script.Texts.Closing, f.sender.last().Intent.Text)

	history, err := f.repos().History.ListByConversation(f.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "bot_closed", history[len(history)-1].Payload["reason"])
}

func TestBotReferenceStep(t *testing.T) {
	f := newFixture(t, fixtureOptions{botEnabled: true})
	res := f.receive(t, "+15550001", "in-1", "hi")

	f.choose(t, "+15550001", "in-2", "order_status")
	sess := f.session(t, res.Session.ID)
	assert.True(t, sess.ReferenceRequired)
	assert.Equal(t, domain.BotPromptReference, sess.Prompt.Kind)

	f.receive(t, "+15550001", "in-3", "no idea")
	sess = f.session(t, res.Session.ID)
	assert.False(t, sess.ReferenceRequired)
	assert.Equal(t, domain.BotDialogNormal, sess.BotDialogState)
	assert.Equal(t, "main", sess.Prompt.NodeID)
	assert.True(t, strings.HasPrefix(f.sender.last().Intent.Text, f.script.Texts.ReferenceError))

	f.choose(t, "+15550001", "in-4", "order_status")
	f.receive(t, "+15550001", "in-5", "it is ABC-123")
	sess = f.session(t, res.Session.ID)
	assert.False(t, sess.ReferenceRequired)
	require.NotNil(t, sess.ReferenceValue)
	assert.Equal(t, "123", *sess.ReferenceValue)
	assert.Equal(t, "order_found", sess.Prompt.NodeID)
}

func TestBotIdleRemindsThenCloses(t *testing.T) {
	f := newFixture(t, fixtureOptions{botEnabled: true})
	res := f.receive(t, "+15550001", "in-1", "hi")
	sent := f.sender.count()

	f.fireAt(monday10.Add(8 * time.Minute))
	assert.Equal(t, domain.SessionStatusDanger, f.session(t, res.Session.ID).Status)
	assert.Equal(t, sent+1, f.sender.count())
	assert.Equal(t, f.script.Texts.Reminder, f.sender.last().Intent.Text)

	f.fireAt(monday10.Add(10 * time.Minute))
	assert.True(t, f.session(t, res.Session.ID).IsFinished())
	assert.True(t, f.conversation(t, res.Conversation.ID).IsArchived())
}

func TestBotSkipsWhileProceeding(t *testing.T) {
	f := newFixture(t, fixtureOptions{botEnabled: true})
	res := f.receive(t, "+15550001", "in-1", "hi")

	sess := f.session(t, res.Session.ID)
	sess.BotDialogState = domain.BotDialogProceeding
	require.NoError(t, f.repos().Sessions.Update(f.ctx, sess))
	sent := f.sender.count()

	f.receive(t, "+15550001", "in-2", "hello?")
	assert.Equal(t, sent, f.sender.count())
	assert.Equal(t, domain.BotDialogProceeding, f.session(t, res.Session.ID).BotDialogState)
}

func TestFeedbackSurveyCompletes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hi")

	_, err := f.chat.Archive(f.ctx, f.alice, res.Conversation.ID, true)
	require.NoError(t, err)

	fb := f.current(t, res.Conversation.ID)
	assert.Equal(t, domain.SessionKindFeedback, fb.Kind)
	assert.Equal(t, botStaff, fb.OwnerStaffID)
	first := f.sender.last()
	assert.True(t, strings.HasPrefix(first.Intent.Text, f.script.Feedback.Intro))
	assert.Equal(t, "satisfaction", fb.Prompt.NodeID)

	assert.Equal(t, domain.BotDialogWelcome, fb.BotDialogState)

	f.choose(t, "+15550001", "in-2", "5")
	assert.Equal(t, "resolved", f.session(t, fb.ID).Prompt.NodeID)
	assert.Equal(t, domain.BotDialogNormal, f.session(t, fb.ID).BotDialogState)
	f.choose(t, "+15550001", "in-3", "yes")

	assert.True(t, f.conversation(t, res.Conversation.ID).IsArchived())
	assert.Equal(t, f.script.Feedback.Thanks, f.sender.last().Intent.Text)
	require.Len(t, f.sink.got, 1)
	sub := f.sink.got[0]
	assert.True(t, sub.Complete)
	require.NotNil(t, sub.RatedStaffID)
	assert.Equal(t, f.alice.ID, *sub.RatedStaffID)
	require.Len(t, sub.Answers, 2)
	assert.Equal(t, "satisfaction", sub.Answers[0].QuestionID)
	assert.Equal(t, "5", sub.Answers[0].Answer)
	assert.Equal(t, "yes", sub.Answers[1].Answer)
}

func TestFeedbackTimeoutFlushesPartialAnswers(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hi")
	_, err := f.chat.Archive(f.ctx, f.alice, res.Conversation.ID, true)
	require.NoError(t, err)
	f.choose(t, "+15550001", "in-2", "3")

	f.fireAt(monday10.Add(10 * time.Minute))

	assert.True(t, f.conversation(t, res.Conversation.ID).IsArchived())
	require.Len(t, f.sink.got, 1)
	assert.False(t, f.sink.got[0].Complete)
	assert.Len(t, f.sink.got[0].Answers, 1)
}
