// Package memory is an in-process repository.Store used when no database is
// configured and in tests. Transactions are serialized by one mutex and rolled
// back through an undo log; updates still carry optimistic version checks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

// Store keeps every aggregate in maps guarded by mu.
type Store struct {
	mu sync.Mutex

	conversations map[string]domain.Conversation
	byContact     map[string]string
	sessions      map[string]domain.Session
	sessionOrder  []string
	messages      map[string]domain.Message
	messageOrder  []string
	byProvider    map[string]string
	history       []domain.HistoryEntry
	staff         map[string]domain.StaffMember
	byEmail       map[string]string
	teams         map[string]domain.Team
	open          map[string]map[string]time.Time
	audit         []domain.AuditLog
}

// New returns an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]domain.Conversation),
		byContact:     make(map[string]string),
		sessions:      make(map[string]domain.Session),
		messages:      make(map[string]domain.Message),
		byProvider:    make(map[string]string),
		staff:         make(map[string]domain.StaffMember),
		byEmail:       make(map[string]string),
		teams:         make(map[string]domain.Team),
		open:          make(map[string]map[string]time.Time),
	}
}

var _ repository.Store = (*Store)(nil)

// Repos returns auto-committing repositories.
func (s *Store) Repos() repository.Repos {
	return s.bind(nil)
}

// WithinTx runs fn while holding the store lock. Repos obtained from Store.Repos
// must not be used inside fn.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &txn{}
	if err := fn(s.bind(t)); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) bind(t *txn) repository.Repos {
	v := view{s: s, tx: t}
	return repository.Repos{
		Conversations: conversationRepo{v},
		Sessions:      sessionRepo{v},
		Messages:      messageRepo{v},
		History:       historyRepo{v},
		Staff:         staffRepo{v},
		Teams:         teamRepo{v},
		AuditLogs:     auditRepo{v},
	}
}

type txn struct {
	undo []func()
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type view struct {
	s  *Store
	tx *txn
}

// do runs fn under the store lock unless a transaction already holds it.
func (v view) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.tx != nil {
		return fn()
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn()
}

func (v view) onRollback(undo func()) {
	if v.tx != nil {
		v.tx.undo = append(v.tx.undo, undo)
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = now()
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConversation(c domain.Conversation) domain.Conversation {
	c.OwnerStaffID = clonePtr(c.OwnerStaffID)
	c.OwnerTeamID = clonePtr(c.OwnerTeamID)
	c.CurrentSessionID = clonePtr(c.CurrentSessionID)
	c.LastMessageID = clonePtr(c.LastMessageID)
	c.LastInboundAt = clonePtr(c.LastInboundAt)
	return c
}

func cloneSession(s domain.Session) domain.Session {
	s.EndedAt = clonePtr(s.EndedAt)
	s.ResponseDeadline = clonePtr(s.ResponseDeadline)
	s.BotDeadline = clonePtr(s.BotDeadline)
	s.ReferenceValue = clonePtr(s.ReferenceValue)
	s.LastAgentReplyAt = clonePtr(s.LastAgentReplyAt)
	s.LastInboundMessageID = clonePtr(s.LastInboundMessageID)
	s.LastOutboundMessageID = clonePtr(s.LastOutboundMessageID)
	s.FeedbackAnswers = append([]domain.FeedbackAnswer(nil), s.FeedbackAnswers...)
	if s.Prompt != nil {
		p := *s.Prompt
		p.ValidReplyIDs = append([]string(nil), p.ValidReplyIDs...)
		s.Prompt = &p
	}
	return s
}

func cloneMessage(m domain.Message) domain.Message {
	m.ProviderMessageID = clonePtr(m.ProviderMessageID)
	m.AuthorID = clonePtr(m.AuthorID)
	m.ReplyToProviderID = clonePtr(m.ReplyToProviderID)
	m.SelectionID = clonePtr(m.SelectionID)
	m.ResponseDeadline = clonePtr(m.ResponseDeadline)
	m.Options = append([]domain.MenuOption(nil), m.Options...)
	return m
}

func cloneStaff(s domain.StaffMember) domain.StaffMember {
	s.TeamIDs = append([]string(nil), s.TeamIDs...)
	return s
}

func cloneTeam(t domain.Team) domain.Team {
	t.Calendar.Windows = append([]domain.HoursWindow(nil), t.Calendar.Windows...)
	return t
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
