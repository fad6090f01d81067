package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationAttachDetachKeepsOwnershipTriple(t *testing.T) {
	conv := &Conversation{ID: "c1", Status: ConversationStatusArchived}
	require.NoError(t, conv.Validate())

	conv.Attach(&Session{ID: "s1", OwnerStaffID: "a1", OwnerTeamID: "t1"})
	require.NoError(t, conv.Validate())
	assert.True(t, conv.HasOwner())
	assert.True(t, conv.OwnedBy("a1"))
	assert.Equal(t, ConversationStatusOpen, conv.Status)

	conv.Detach()
	require.NoError(t, conv.Validate())
	assert.False(t, conv.HasOwner())
	assert.True(t, conv.IsArchived())
}

func TestConversationValidateRejectsPartialOwnership(t *testing.T) {
	team := "t1"
	conv := &Conversation{ID: "c1", OwnerTeamID: &team}
	assert.ErrorIs(t, conv.Validate(), ErrOwnershipMismatch)
}

func TestBotPromptAccepts(t *testing.T) {
	p := &BotPrompt{ProviderMessageID: "wamid.1", ValidReplyIDs: []string{"1", "2"}}
	assert.True(t, p.Accepts("wamid.1", "2"))
	assert.False(t, p.Accepts("wamid.0", "2"), "reply to a superseded prompt")
	assert.False(t, p.Accepts("wamid.1", "9"))

	var nilPrompt *BotPrompt
	assert.False(t, nilPrompt.Accepts("wamid.1", "1"))
}

func TestSessionTrackedDeadline(t *testing.T) {
	resp := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)
	bot := resp.Add(time.Hour)
	s := &Session{Kind: SessionKindNormal, ResponseDeadline: &resp, BotDeadline: &bot}
	assert.Equal(t, resp, *s.TrackedDeadline())

	s.Kind = SessionKindFeedback
	assert.Equal(t, bot, *s.TrackedDeadline())
}

func TestSessionFinishClearsDeadlines(t *testing.T) {
	deadline := time.Now()
	s := &Session{Status: SessionStatusDanger, ResponseDeadline: &deadline, PendingReminder: true}
	now := deadline.Add(time.Minute)
	s.Finish(now)

	assert.True(t, s.IsFinished())
	assert.Nil(t, s.ResponseDeadline)
	assert.False(t, s.PendingReminder)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, now, *s.EndedAt)

	s.ClearDeadline()
	assert.Equal(t, SessionStatusFinished, s.Status, "finished periods never reopen")
}

func TestPresenceRank(t *testing.T) {
	assert.Less(t, PresenceOnline.Rank(), PresenceServiceHours.Rank())
	assert.Less(t, PresenceServiceHours.Rank(), PresenceOffline.Rank())
	assert.Less(t, PresenceOffline.Rank(), PresenceAway.Rank())
	assert.False(t, Presence("BUSY").Valid())
}
