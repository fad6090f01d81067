package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/events"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

func TestSelectLeastLoaded(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	repos := f.repos()
	require.NoError(t, repos.Staff.AddOpenConversation(f.ctx, f.alice.ID, "conv-x"))

	chosen, err := f.assign.SelectLeastLoaded(f.ctx, repos, supportTeam)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, chosen.ID)

	bob, err := repos.Staff.GetByID(f.ctx, f.bob.ID)
	require.NoError(t, err)
	bob.Presence = domain.PresenceAway
	require.NoError(t, repos.Staff.Update(f.ctx, bob))

	chosen, err = f.assign.SelectLeastLoaded(f.ctx, repos, supportTeam)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, chosen.ID, "presence outranks load")

	chosen, err = f.assign.SelectLeastLoaded(f.ctx, repos, supportTeam, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, chosen.ID)

	_, err = f.assign.SelectLeastLoaded(f.ctx, repos, botTeam)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestSelectPrefersOnlineOverLessLoadedOffline(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	repos := f.repos()
	require.NoError(t, repos.Staff.AddOpenConversation(f.ctx, f.alice.ID, "conv-x"))
	require.NoError(t, repos.Staff.AddOpenConversation(f.ctx, f.alice.ID, "conv-y"))

	bob, err := repos.Staff.GetByID(f.ctx, f.bob.ID)
	require.NoError(t, err)
	bob.Presence = domain.PresenceOffline
	require.NoError(t, repos.Staff.Update(f.ctx, bob))

	chosen, err := f.assign.SelectLeastLoaded(f.ctx, repos, supportTeam)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, chosen.ID)

	chosen, err = f.assign.SelectLeastLoaded(f.ctx, repos, supportTeam, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, chosen.ID, "offline members still take work when no one else can")
}

func TestTakeOwnership(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	var notified []events.Event
	f.dispatcher.Subscribe(events.EventConversationAssigned, func(_ context.Context, e events.Event) error {
		notified = append(notified, e)
		return nil
	})

	_, err := f.assign.TakeOwnership(f.ctx, f.charlie, res.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	conv, err := f.assign.TakeOwnership(f.ctx, f.bob, res.Conversation.ID)
	require.NoError(t, err)
	assert.True(t, conv.OwnedBy(f.bob.ID))
	assert.Equal(t, supportTeam, *conv.OwnerTeamID)
	assert.True(t, f.session(t, res.Session.ID).IsFinished())

	aliceOpen, err := f.repos().Staff.ListOpenConversations(f.ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, aliceOpen)
	bobOpen, err := f.repos().Staff.ListOpenConversations(f.ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{conv.ID}, bobOpen)

	require.Len(t, notified, 1)
	assert.Equal(t, []string{f.alice.ID}, notified[0].Recipients)

	_, err = f.assign.TakeOwnership(f.ctx, f.bob, res.Conversation.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	conv, err = f.assign.TakeOwnership(f.ctx, f.admin, res.Conversation.ID)
	require.NoError(t, err)
	assert.True(t, conv.OwnedBy(f.admin.ID))
}

func TestTakeOwnershipReopensArchived(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")
	_, err := f.chat.Archive(f.ctx, f.alice, res.Conversation.ID, false)
	require.NoError(t, err)

	conv, err := f.assign.TakeOwnership(f.ctx, f.charlie, res.Conversation.ID)
	require.NoError(t, err)
	assert.True(t, conv.OwnedBy(f.charlie.ID))
	assert.Equal(t, salesTeam, *conv.OwnerTeamID)
	assert.False(t, conv.IsArchived())
}

func TestTransferToTeamSelectsOtherMember(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	conv, err := f.assign.TransferToTeam(f.ctx, f.alice, res.Conversation.ID, supportTeam, nil)
	require.NoError(t, err)
	assert.True(t, conv.OwnedBy(f.bob.ID))

	conv, err = f.assign.TransferToTeam(f.ctx, f.bob, res.Conversation.ID, salesTeam, nil)
	require.NoError(t, err)
	assert.True(t, conv.OwnedBy(f.charlie.ID))
	assert.Equal(t, salesTeam, *conv.OwnerTeamID)

	history, err := f.repos().History.ListByConversation(f.ctx, conv.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.HistoryActionTransfer, last.Action)
	assert.Equal(t, f.bob.ID, last.Payload["from_staff_id"])
	assert.Equal(t, f.charlie.ID, last.Payload["to_staff_id"])
}

func TestTransferToUserValidatesTarget(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	res := f.receive(t, "+15550001", "in-1", "hello")

	_, err := f.assign.TransferToUser(f.ctx, f.alice, res.Conversation.ID, f.charlie.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.assign.TransferToUser(f.ctx, f.alice, res.Conversation.ID, botStaff)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = f.assign.TransferToUser(f.ctx, f.charlie, res.Conversation.ID, f.bob.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.assign.TransferToUser(f.ctx, f.alice, res.Conversation.ID, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
