package memory

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

type messageRepo struct{ view }

func (r messageRepo) Create(ctx context.Context, m *domain.Message) error {
	return r.do(ctx, func() error {
		st := r.s
		if _, ok := st.messages[m.ID]; ok {
			return repository.ErrDuplicate
		}
		if m.ProviderMessageID != nil {
			if _, ok := st.byProvider[*m.ProviderMessageID]; ok {
				return repository.ErrDuplicate
			}
		}
		stamp(&m.CreatedAt)
		m.UpdatedAt = m.CreatedAt
		st.messages[m.ID] = cloneMessage(*m)
		st.messageOrder = append(st.messageOrder, m.ID)
		if m.ProviderMessageID != nil {
			st.byProvider[*m.ProviderMessageID] = m.ID
		}
		id, pid := m.ID, clonePtr(m.ProviderMessageID)
		r.onRollback(func() {
			delete(st.messages, id)
			st.messageOrder = st.messageOrder[:len(st.messageOrder)-1]
			if pid != nil {
				delete(st.byProvider, *pid)
			}
		})
		return nil
	})
}

func (r messageRepo) Update(ctx context.Context, m *domain.Message) error {
	return r.do(ctx, func() error {
		st := r.s
		prev, ok := st.messages[m.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if m.ProviderMessageID != nil {
			if owner, ok := st.byProvider[*m.ProviderMessageID]; ok && owner != m.ID {
				return repository.ErrDuplicate
			}
		}
		next := prev
		next.ProviderMessageID = clonePtr(m.ProviderMessageID)
		next.Status = m.Status
		next.ResponseDeadline = clonePtr(m.ResponseDeadline)
		next.UpdatedAt = now()
		m.UpdatedAt = next.UpdatedAt
		st.messages[m.ID] = next
		if prev.ProviderMessageID != nil {
			delete(st.byProvider, *prev.ProviderMessageID)
		}
		if next.ProviderMessageID != nil {
			st.byProvider[*next.ProviderMessageID] = m.ID
		}
		r.onRollback(func() {
			if next.ProviderMessageID != nil {
				delete(st.byProvider, *next.ProviderMessageID)
			}
			if prev.ProviderMessageID != nil {
				st.byProvider[*prev.ProviderMessageID] = prev.ID
			}
			st.messages[prev.ID] = prev
		})
		return nil
	})
}

func (r messageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var out *domain.Message
	err := r.do(ctx, func() error {
		m, ok := r.s.messages[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneMessage(m)
		out = &cp
		return nil
	})
	return out, err
}

func (r messageRepo) ExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error) {
	var exists bool
	err := r.do(ctx, func() error {
		_, exists = r.s.byProvider[providerMessageID]
		return nil
	})
	return exists, err
}

func (r messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Message
	err := r.do(ctx, func() error {
		for _, id := range r.s.messageOrder {
			if m := r.s.messages[id]; m.ConversationID == conversationID {
				out = append(out, cloneMessage(m))
			}
		}
		return nil
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}
