package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	store := New()
	repos := store.Repos()
	require.NoError(t, repos.Staff.Create(ctx, &domain.StaffMember{ID: "a1", Email: "a1@example.com", Active: true}))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Repos) error {
		conv := &domain.Conversation{ID: "c1", ContactIdentity: "+100", Status: domain.ConversationStatusOpen}
		require.NoError(t, tx.Conversations.Create(ctx, conv))
		require.NoError(t, tx.Sessions.Create(ctx, &domain.Session{ID: "s1", ConversationID: "c1", Status: domain.SessionStatusOpen}))
		pid := "wamid.1"
		require.NoError(t, tx.Messages.Create(ctx, &domain.Message{ID: "m1", ConversationID: "c1", ProviderMessageID: &pid}))
		require.NoError(t, tx.History.Append(ctx, &domain.HistoryEntry{ID: "h1", ConversationID: "c1"}))
		require.NoError(t, tx.Staff.AddOpenConversation(ctx, "a1", "c1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repos.Conversations.GetByContact(ctx, "+100")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repos.Sessions.GetByID(ctx, "s1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	exists, err := repos.Messages.ExistsByProviderID(ctx, "wamid.1")
	require.NoError(t, err)
	assert.False(t, exists)
	history, err := repos.History.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, history)
	open, err := repos.Staff.ListOpenConversations(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestConversationUpdateDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	conv := &domain.Conversation{ID: "c1", ContactIdentity: "+100", Status: domain.ConversationStatusArchived}
	require.NoError(t, repos.Conversations.Create(ctx, conv))

	first, err := repos.Conversations.GetByID(ctx, "c1")
	require.NoError(t, err)
	second, err := repos.Conversations.GetByID(ctx, "c1")
	require.NoError(t, err)

	first.HasUnread = true
	require.NoError(t, repos.Conversations.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.HasUnread = false
	assert.ErrorIs(t, repos.Conversations.Update(ctx, second), repository.ErrConflict)
}

func TestUniqueKeys(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	require.NoError(t, repos.Conversations.Create(ctx, &domain.Conversation{ID: "c1", ContactIdentity: "+100"}))
	assert.ErrorIs(t, repos.Conversations.Create(ctx, &domain.Conversation{ID: "c2", ContactIdentity: "+100"}), repository.ErrDuplicate)

	pid := "wamid.1"
	require.NoError(t, repos.Messages.Create(ctx, &domain.Message{ID: "m1", ConversationID: "c1", ProviderMessageID: &pid}))
	assert.ErrorIs(t, repos.Messages.Create(ctx, &domain.Message{ID: "m2", ConversationID: "c1", ProviderMessageID: &pid}), repository.ErrDuplicate)

	require.NoError(t, repos.Sessions.Create(ctx, &domain.Session{ID: "s1", ConversationID: "c1", Status: domain.SessionStatusOpen}))
	assert.ErrorIs(t, repos.Sessions.Create(ctx, &domain.Session{ID: "s2", ConversationID: "c1", Status: domain.SessionStatusOpen}), repository.ErrDuplicate,
		"only one unfinished session per conversation")
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	require.NoError(t, repos.Sessions.Create(ctx, &domain.Session{
		ID:              "s1",
		ConversationID:  "c1",
		FeedbackAnswers: []domain.FeedbackAnswer{{QuestionID: "q1", Answer: "5"}},
	}))

	got, err := repos.Sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	got.FeedbackAnswers[0].Answer = "1"

	again, err := repos.Sessions.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "5", again.FeedbackAnswers[0].Answer)
}

func TestOpenConversationCounts(t *testing.T) {
	ctx := context.Background()
	repos := New().Repos()
	require.NoError(t, repos.Staff.AddOpenConversation(ctx, "a1", "c1"))
	require.NoError(t, repos.Staff.AddOpenConversation(ctx, "a1", "c2"))
	require.NoError(t, repos.Staff.AddOpenConversation(ctx, "a1", "c2"))
	require.NoError(t, repos.Staff.AddOpenConversation(ctx, "a2", "c3"))
	require.NoError(t, repos.Staff.RemoveOpenConversation(ctx, "a2", "c3"))

	counts, err := repos.Staff.CountOpenConversations(ctx, []string{"a1", "a2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a1": 2}, counts)
}
