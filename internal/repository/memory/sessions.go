package memory

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

type sessionRepo struct{ view }

func (r sessionRepo) Create(ctx context.Context, s *domain.Session) error {
	return r.do(ctx, func() error {
		st := r.s
		if _, ok := st.sessions[s.ID]; ok {
			return repository.ErrDuplicate
		}
		if !s.IsFinished() {
			for _, other := range st.sessions {
				if other.ConversationID == s.ConversationID && !other.IsFinished() {
					return repository.ErrDuplicate
				}
			}
		}
		stamp(&s.StartedAt)
		s.UpdatedAt = s.StartedAt
		s.Version = 1
		st.sessions[s.ID] = cloneSession(*s)
		st.sessionOrder = append(st.sessionOrder, s.ID)
		id := s.ID
		r.onRollback(func() {
			delete(st.sessions, id)
			st.sessionOrder = st.sessionOrder[:len(st.sessionOrder)-1]
		})
		return nil
	})
}

func (r sessionRepo) Update(ctx context.Context, s *domain.Session) error {
	return r.do(ctx, func() error {
		st := r.s
		prev, ok := st.sessions[s.ID]
		if !ok || prev.Version != s.Version {
			return repository.ErrConflict
		}
		if prev.IsFinished() && !s.IsFinished() {
			return repository.ErrConflict
		}
		s.Version++
		s.UpdatedAt = now()
		st.sessions[s.ID] = cloneSession(*s)
		r.onRollback(func() { st.sessions[prev.ID] = prev })
		return nil
	})
}

func (r sessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var out *domain.Session
	err := r.do(ctx, func() error {
		s, ok := r.s.sessions[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneSession(s)
		out = &cp
		return nil
	})
	return out, err
}

func (r sessionRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Session, error) {
	return r.filter(ctx, func(s domain.Session) bool { return s.ConversationID == conversationID })
}

func (r sessionRepo) ListTracked(ctx context.Context) ([]domain.Session, error) {
	return r.filter(ctx, func(s domain.Session) bool {
		return !s.IsFinished() && (s.ResponseDeadline != nil || s.BotDeadline != nil)
	})
}

func (r sessionRepo) filter(ctx context.Context, keep func(domain.Session) bool) ([]domain.Session, error) {
	var out []domain.Session
	err := r.do(ctx, func() error {
		for _, id := range r.s.sessionOrder {
			if s := r.s.sessions[id]; keep(s) {
				out = append(out, cloneSession(s))
			}
		}
		return nil
	})
	return out, err
}
