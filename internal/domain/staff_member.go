package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleAgent    StaffRole = "AGENT"
	StaffRoleTeamLead StaffRole = "TEAM_LEAD"
	StaffRoleAdmin    StaffRole = "ADMIN"
	StaffRoleBot      StaffRole = "BOT"
)

// Presence is the availability an agent advertises.
type Presence string

const (
	PresenceOnline       Presence = "ONLINE"
	PresenceServiceHours Presence = "SERVICE_HOURS"
	PresenceOffline      Presence = "OFFLINE"
	PresenceAway         Presence = "AWAY"
)

// Rank orders presences for assignment, lower is preferred.
func (p Presence) Rank() int {
	switch p {
	case PresenceOnline:
		return 0
	case PresenceServiceHours:
		return 1
	case PresenceOffline:
		return 2
	case PresenceAway:
		return 3
	}
	return 4
}

// Valid reports whether p is a known presence.
func (p Presence) Valid() bool {
	return p.Rank() < 4
}

// StaffMember models a support agent, administrator or the bot account.
type StaffMember struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         StaffRole
	TeamIDs      []string
	Presence     Presence
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the member has the admin role.
func (s *StaffMember) IsAdmin() bool {
	return s != nil && s.Role == StaffRoleAdmin
}

// InTeam reports whether the member belongs to teamID.
func (s *StaffMember) InTeam(teamID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}
