package memory

import (
	"context"

	"github.com/spec-kit/chatdesk/internal/domain"
)

type historyRepo struct{ view }

func (r historyRepo) Append(ctx context.Context, entry *domain.HistoryEntry) error {
	return r.do(ctx, func() error {
		st := r.s
		stamp(&entry.CreatedAt)
		if entry.Payload == nil {
			entry.Payload = map[string]any{}
		}
		cp := *entry
		cp.Payload = cloneMap(entry.Payload)
		st.history = append(st.history, cp)
		r.onRollback(func() { st.history = st.history[:len(st.history)-1] })
		return nil
	})
}

func (r historyRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := r.do(ctx, func() error {
		for _, e := range r.s.history {
			if e.ConversationID == conversationID {
				e.Payload = cloneMap(e.Payload)
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

type auditRepo struct{ view }

func (r auditRepo) Append(ctx context.Context, log *domain.AuditLog) error {
	return r.do(ctx, func() error {
		st := r.s
		stamp(&log.CreatedAt)
		cp := *log
		cp.Detail = cloneMap(log.Detail)
		st.audit = append(st.audit, cp)
		r.onRollback(func() { st.audit = st.audit[:len(st.audit)-1] })
		return nil
	})
}

func (r auditRepo) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.AuditLog
	err := r.do(ctx, func() error {
		for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, r.s.audit[i])
		}
		return nil
	})
	return out, err
}
