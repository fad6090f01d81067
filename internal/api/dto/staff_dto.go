package dto

import (
	"time"

	"github.com/spec-kit/chatdesk/internal/domain"
)

// StaffLoginRequest payload.
type StaffLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordChangeRequest payload.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AuthResponse carries an issued access token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresenceRequest payload for PUT /staff/me/presence.
type PresenceRequest struct {
	Presence domain.Presence `json:"presence"`
}

// StaffCreateRequest payload.
type StaffCreateRequest struct {
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Role     domain.StaffRole `json:"role"`
	TeamIDs  []string         `json:"team_ids"`
}

// StaffResponse is the public view of a staff member.
type StaffResponse struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Email    string           `json:"email"`
	Role     domain.StaffRole `json:"role"`
	TeamIDs  []string         `json:"team_ids"`
	Presence domain.Presence  `json:"presence"`
	Active   bool             `json:"active"`
}

// TeamRequest payload for team creation.
type TeamRequest struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description"`
	Calendar    domain.ServiceHoursCalendar `json:"calendar"`
}

// CalendarRequest replaces a team's service-hours calendar.
type CalendarRequest struct {
	Calendar domain.ServiceHoursCalendar `json:"calendar"`
}

// TeamResponse payload.
type TeamResponse struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Description string                      `json:"description"`
	IsActive    bool                        `json:"is_active"`
	Calendar    domain.ServiceHoursCalendar `json:"calendar"`
}
