package memory

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
	"github.com/spec-kit/chatdesk/internal/repository"
)

type staffRepo struct{ view }

func (r staffRepo) Create(ctx context.Context, staff *domain.StaffMember) error {
	return r.do(ctx, func() error {
		st := r.s
		if _, ok := st.staff[staff.ID]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := st.byEmail[staff.Email]; ok {
			return repository.ErrDuplicate
		}
		stamp(&staff.CreatedAt)
		staff.UpdatedAt = staff.CreatedAt
		st.staff[staff.ID] = cloneStaff(*staff)
		st.byEmail[staff.Email] = staff.ID
		id, email := staff.ID, staff.Email
		r.onRollback(func() {
			delete(st.staff, id)
			delete(st.byEmail, email)
		})
		return nil
	})
}

func (r staffRepo) Update(ctx context.Context, staff *domain.StaffMember) error {
	return r.do(ctx, func() error {
		st := r.s
		prev, ok := st.staff[staff.ID]
		if !ok {
			return repository.ErrNotFound
		}
		if owner, ok := st.byEmail[staff.Email]; ok && owner != staff.ID {
			return repository.ErrDuplicate
		}
		staff.UpdatedAt = now()
		st.staff[staff.ID] = cloneStaff(*staff)
		delete(st.byEmail, prev.Email)
		st.byEmail[staff.Email] = staff.ID
		newEmail := staff.Email
		r.onRollback(func() {
			delete(st.byEmail, newEmail)
			st.byEmail[prev.Email] = prev.ID
			st.staff[prev.ID] = prev
		})
		return nil
	})
}

func (r staffRepo) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	var out *domain.StaffMember
	err := r.do(ctx, func() error {
		s, ok := r.s.staff[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneStaff(s)
		out = &cp
		return nil
	})
	return out, err
}

func (r staffRepo) GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error) {
	var out *domain.StaffMember
	err := r.do(ctx, func() error {
		id, ok := r.s.byEmail[email]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneStaff(r.s.staff[id])
		out = &cp
		return nil
	})
	return out, err
}

func (r staffRepo) List(ctx context.Context, filter repository.StaffFilter) ([]domain.StaffMember, error) {
	var out []domain.StaffMember
	err := r.do(ctx, func() error {
		for _, id := range sortedKeys(r.s.staff) {
			s := r.s.staff[id]
			if filter.Role != nil && s.Role != *filter.Role {
				continue
			}
			if filter.TeamID != nil && !s.InTeam(*filter.TeamID) {
				continue
			}
			if filter.Active != nil && s.Active != *filter.Active {
				continue
			}
			out = append(out, cloneStaff(s))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r staffRepo) AddOpenConversation(ctx context.Context, staffID, conversationID string) error {
	return r.do(ctx, func() error {
		st := r.s
		set, ok := st.open[staffID]
		if !ok {
			set = make(map[string]time.Time)
			st.open[staffID] = set
		}
		if _, exists := set[conversationID]; exists {
			return nil
		}
		set[conversationID] = now()
		r.onRollback(func() { delete(set, conversationID) })
		return nil
	})
}

func (r staffRepo) RemoveOpenConversation(ctx context.Context, staffID, conversationID string) error {
	return r.do(ctx, func() error {
		set := r.s.open[staffID]
		added, exists := set[conversationID]
		if !exists {
			return nil
		}
		delete(set, conversationID)
		r.onRollback(func() { set[conversationID] = added })
		return nil
	})
}

func (r staffRepo) ListOpenConversations(ctx context.Context, staffID string) ([]string, error) {
	var ids []string
	err := r.do(ctx, func() error {
		set := r.s.open[staffID]
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if set[ids[i]].Equal(set[ids[j]]) {
				return ids[i] < ids[j]
			}
			return set[ids[i]].Before(set[ids[j]])
		})
		return nil
	})
	return ids, err
}

func (r staffRepo) CountOpenConversations(ctx context.Context, staffIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(staffIDs))
	err := r.do(ctx, func() error {
		for _, id := range staffIDs {
			if n := len(r.s.open[id]); n > 0 {
				counts[id] = n
			}
		}
		return nil
	})
	return counts, err
}

type teamRepo struct{ view }

func (r teamRepo) Create(ctx context.Context, team *domain.Team) error {
	return r.do(ctx, func() error {
		st := r.s
		if _, ok := st.teams[team.ID]; ok {
			return repository.ErrDuplicate
		}
		stamp(&team.CreatedAt)
		team.UpdatedAt = team.CreatedAt
		st.teams[team.ID] = cloneTeam(*team)
		id := team.ID
		r.onRollback(func() { delete(st.teams, id) })
		return nil
	})
}

func (r teamRepo) Update(ctx context.Context, team *domain.Team) error {
	return r.do(ctx, func() error {
		st := r.s
		prev, ok := st.teams[team.ID]
		if !ok {
			return repository.ErrNotFound
		}
		team.UpdatedAt = now()
		st.teams[team.ID] = cloneTeam(*team)
		r.onRollback(func() { st.teams[prev.ID] = prev })
		return nil
	})
}

func (r teamRepo) GetByID(ctx context.Context, id string) (*domain.Team, error) {
	var out *domain.Team
	err := r.do(ctx, func() error {
		t, ok := r.s.teams[id]
		if !ok {
			return repository.ErrNotFound
		}
		cp := cloneTeam(t)
		out = &cp
		return nil
	})
	return out, err
}

func (r teamRepo) List(ctx context.Context) ([]domain.Team, error) {
	var out []domain.Team
	err := r.do(ctx, func() error {
		for _, id := range sortedKeys(r.s.teams) {
			out = append(out, cloneTeam(r.s.teams[id]))
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}
