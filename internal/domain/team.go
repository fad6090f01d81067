package domain

import "time"

// Team groups agents that share a service-hours calendar.
type Team struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	Calendar    ServiceHoursCalendar
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HoursWindow is one weekday opening window, in minutes since midnight.
type HoursWindow struct {
	Weekday time.Weekday `json:"weekday"`
	From    int          `json:"from"`
	To      int          `json:"to"`
}

// ResponseTime is the SLA budget for answering an inbound message.
type ResponseTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Duration converts the budget to a time.Duration.
func (r ResponseTime) Duration() time.Duration {
	return time.Duration(r.Hours)*time.Hour + time.Duration(r.Minutes)*time.Minute
}

// ServiceHoursCalendar is a team's weekly business hours and SLA settings.
type ServiceHoursCalendar struct {
	Windows        []HoursWindow `json:"windows"`
	ResponseTime   ResponseTime  `json:"response_time"`
	DangerFraction float64       `json:"danger_fraction"`
	Timezone       string        `json:"timezone,omitempty"`
}

// Location resolves the calendar timezone, falling back to fallback.
func (c ServiceHoursCalendar) Location(fallback *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}
