package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/config"
	"github.com/spec-kit/chatdesk/internal/domain"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

func TestReceiveInboundCreatesConversationAndSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	assert.True(t, res.ConversationCreated)
	assert.True(t, res.SessionCreated)
	conv := f.conversation(t, res.Conversation.ID)
	assert.Equal(t, domain.ConversationStatusOpen, conv.Status)
	assert.True(t, conv.HasUnread)
	assert.True(t, conv.OwnedBy(f.alice.ID))
	require.NoError(t, conv.Validate())

	again := f.receive(t, "+15550001", "in-2", "anyone?")
	assert.False(t, again.ConversationCreated)
	assert.False(t, again.SessionCreated)
	assert.Equal(t, res.Session.ID, again.Session.ID)

	history, err := f.repos().History.ListByConversation(f.ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.HistoryActionReceive, history[0].Action)
}

func TestDuplicateInboundIsIgnored(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	first := f.receive(t, "+15550001", "in-1", "hello")

	replay := f.receive(t, "+15550001", "in-1", "hello")
	assert.True(t, replay.Duplicate)

	// bypass the guard, the store still rejects the replay
	direct, err := f.chat.ReceiveInbound(f.ctx, InboundMessage{ContactIdentity: "+15550001", ProviderMessageID: "in-1", Body: "hello"})
	require.NoError(t, err)
	assert.True(t, direct.Duplicate)

	msgs, err := f.repos().Messages.ListByConversation(f.ctx, first.Conversation.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Equal(t, domain.PerformanceCounters{All: 1, OnTime: 1}, f.session(t, first.Session.ID).Performance)
}

func TestRejectedInboundIsAcceptedOnRedelivery(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	_, err := f.intake.Handle(f.ctx, InboundMessage{ProviderMessageID: "in-1", Body: "hello"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	res, err := f.intake.Handle(f.ctx, InboundMessage{ContactIdentity: "+15550001", ProviderMessageID: "in-1", Body: "hello"})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Message)

	replay, err := f.intake.Handle(f.ctx, InboundMessage{ContactIdentity: "+15550001", ProviderMessageID: "in-1", Body: "hello"})
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
}

func TestConcurrentInboundCreatesOneSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	const n = 12

	var wg sync.WaitGroup
	results := make([]*InboundResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.chat.ReceiveInbound(f.ctx, InboundMessage{
				ContactIdentity:   "+15550009",
				ProviderMessageID: fmt.Sprintf("in-%d", i),
				Body:              "ping",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	convID := results[0].Conversation.ID
	sessionID := results[0].Session.ID
	created := 0
	for _, r := range results {
		assert.Equal(t, convID, r.Conversation.ID)
		assert.Equal(t, sessionID, r.Session.ID)
		if r.SessionCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	sessions, err := f.repos().Sessions.ListByConversation(f.ctx, convID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, n, f.session(t, sessionID).Performance.All)
}

func TestArchivePermissions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	_, err := f.chat.Archive(f.ctx, f.bob, res.Conversation.ID, false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	conv, err := f.chat.Archive(f.ctx, f.alice, res.Conversation.ID, false)
	require.NoError(t, err)
	assert.True(t, conv.IsArchived())
	assert.False(t, conv.HasOwner())

	_, err = f.chat.Archive(f.ctx, f.admin, res.Conversation.ID, false)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	other := f.receive(t, "+15550002", "in-2", "hello")
	_, err = f.chat.Archive(f.ctx, f.admin, other.Conversation.ID, false)
	require.NoError(t, err)
}

func TestInboundAfterArchiveStartsNewSession(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")
	_, err := f.chat.Archive(f.ctx, f.alice, res.Conversation.ID, false)
	require.NoError(t, err)

	next := f.receive(t, "+15550001", "in-2", "me again")
	assert.Equal(t, res.Conversation.ID, next.Conversation.ID)
	assert.True(t, next.SessionCreated)
	assert.NotEqual(t, res.Session.ID, next.Session.ID)
	assert.False(t, f.conversation(t, res.Conversation.ID).IsArchived())
}

func TestReplyRequiresOwnership(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	_, err := f.chat.SendOutboundReply(f.ctx, f.bob, res.Conversation.ID, "hi")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.chat.SendOutboundReply(f.ctx, f.alice, res.Conversation.ID, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.chat.SendOutboundReply(f.ctx, f.admin, res.Conversation.ID, "hi from admin")
	require.NoError(t, err)
	assert.False(t, f.conversation(t, res.Conversation.ID).HasUnread)
}

func TestViewAccess(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	_, _, err := f.chat.GetConversation(f.ctx, f.bob, res.Conversation.ID)
	require.NoError(t, err)
	_, err = f.chat.ListMessages(f.ctx, f.charlie, res.Conversation.ID, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	open, err := f.chat.ListOpen(f.ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.Conversation.ID, open[0].ID)
}

func TestTimelineCollapsesRepeatedActions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")
	_, err := f.assign.TransferToUser(f.ctx, f.alice, res.Conversation.ID, f.bob.ID)
	require.NoError(t, err)
	_, err = f.assign.TransferToUser(f.ctx, f.bob, res.Conversation.ID, f.alice.ID)
	require.NoError(t, err)

	timeline, err := f.history.Timeline(f.ctx, f.alice, res.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, domain.HistoryActionReceive, timeline[0].Action)
	assert.Equal(t, domain.HistoryActionTransfer, timeline[1].Action)
	assert.Equal(t, 2, timeline[1].Repeats)
}

func TestMessagingWindowRunsFromProviderTimestamp(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	chat := NewChatService(ChatDependencies{
		Store:      f.store,
		Registry:   f.registry,
		SLA:        f.sla,
		Sender:     f.sender,
		Dispatcher: f.dispatcher,
		Outbound:   config.OutboundConfig{WindowHours: 24},
		Clock:      f.clock.Now,
	})

	sentAt := monday10.Add(-2 * time.Hour)
	res, err := chat.ReceiveInbound(f.ctx, InboundMessage{
		ContactIdentity:   "+15550001",
		ProviderMessageID: "in-1",
		Body:              "queued at the provider",
		ServerTimestamp:   sentAt,
	})
	require.NoError(t, err)
	conv := f.conversation(t, res.Conversation.ID)
	require.NotNil(t, conv.LastInboundAt)
	assert.True(t, conv.LastInboundAt.Equal(sentAt))

	f.clock.Set(monday10.Add(23 * time.Hour))
	_, err = chat.SendOutboundReply(f.ctx, f.alice, conv.ID, "sorry for the wait")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = chat.ReceiveInbound(f.ctx, InboundMessage{
		ContactIdentity:   "+15550001",
		ProviderMessageID: "in-2",
		Body:              "clock skew",
		ServerTimestamp:   monday10.Add(30 * time.Hour),
	})
	require.NoError(t, err)
	conv = f.conversation(t, conv.ID)
	assert.True(t, conv.LastInboundAt.Equal(monday10.Add(23*time.Hour)))
	_, err = chat.SendOutboundReply(f.ctx, f.alice, conv.ID, "hello again")
	require.NoError(t, err)
}
