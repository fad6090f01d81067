package service

import (
	"context"
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

// TimelineEntry is a history entry as rendered for staff. Repeats counts the
// consecutive entries of the same action folded into it.
type TimelineEntry struct {
	ID           string
	Action       domain.HistoryAction
	ActorStaffID *string
	SessionID    *string
	Payload      map[string]any
	CreatedAt    time.Time
	Repeats      int
}

// HistoryService renders conversation timelines.
type HistoryService struct {
	store repository.Store
}

// NewHistoryService builds the service.
func NewHistoryService(store repository.Store) *HistoryService {
	return &HistoryService{store: store}
}

// Timeline returns the conversation history, oldest first, with runs of the
// same action collapsed into their first entry.
func (s *HistoryService) Timeline(ctx context.Context, actor *domain.StaffMember, conversationID string) ([]TimelineEntry, error) {
	repos := s.store.Repos()
	conv, err := loadConversation(ctx, repos, conversationID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, conv); err != nil {
		return nil, err
	}
	entries, err := repos.History.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, translate(err)
	}
	return collapse(entries), nil
}

func collapse(entries []domain.HistoryEntry) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(entries))
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Action == e.Action {
			out[n-1].Repeats++
			continue
		}
		out = append(out, TimelineEntry{
			ID:           e.ID,
			Action:       e.Action,
			ActorStaffID: e.ActorStaffID,
			SessionID:    e.SessionID,
			Payload:      e.Payload,
			CreatedAt:    e.CreatedAt,
			Repeats:      1,
		})
	}
	return out
}
