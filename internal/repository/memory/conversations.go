package memory

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

type conversationRepo struct{ view }

func (r conversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	return r.do(ctx, func() error {
		st := r.s
		if _, ok := st.conversations[conv.ID]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := st.byContact[conv.ContactIdentity]; ok {
			return repository.ErrDuplicate
		}
		stamp(&conv.CreatedAt)
		conv.UpdatedAt = conv.CreatedAt
		conv.Version = 1
		st.conversations[conv.ID] = cloneConversation(*conv)
		st.byContact[conv.ContactIdentity] = conv.ID
		id, contact := conv.ID, conv.ContactIdentity
		r.onRollback(func() {
			delete(st.conversations, id)
			delete(st.byContact, contact)
		})
		return nil
	})
}

func (r conversationRepo) Update(ctx context.Context, conv *domain.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	return r.do(ctx, func() error {
		st := r.s
		prev, ok := st.conversations[conv.ID]
		if !ok || prev.Version != conv.Version {
			return repository.ErrConflict
		}
		conv.Version++
		conv.UpdatedAt = now()
		st.conversations[conv.ID] = cloneConversation(*conv)
		r.onRollback(func() { st.conversations[prev.ID] = prev })
		return nil
	})
}

func (r conversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := r.do(ctx, func() error {
		c, ok := r.s.conversations[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneConversation(c)
		out = &cp
		return nil
	})
	return out, err
}

func (r conversationRepo) GetByContact(ctx context.Context, contactIdentity string) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := r.do(ctx, func() error {
		id, ok := r.s.byContact[contactIdentity]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneConversation(r.s.conversations[id])
		out = &cp
		return nil
	})
	return out, err
}
