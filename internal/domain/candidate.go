package domain

import "time"

// Candidate is a worker who can be offered cases. Candidates are owned by an
// external personnel directory and are read-only here.
type Candidate struct {
	ID              string         `json:"id" mapstructure:"id"`
	Name            string         `json:"name" mapstructure:"name"`
	ExperienceLevel int            `json:"experience_level" mapstructure:"experience_level"`
	ActiveDays      []time.Weekday `json:"active_days" mapstructure:"active_days"`
	Active          bool           `json:"active" mapstructure:"active"`
	Contact         string         `json:"contact,omitempty" mapstructure:"contact"`
}

// WorksOn reports whether d is one of the candidate's scheduled days.
func (c *Candidate) WorksOn(d time.Weekday) bool {
	for _, day := range c.ActiveDays {
		if day == d {
			return true
		}
	}
	return false
}

// Eligible reports whether the candidate may be queued for an item that
// requires minLevel experience.
func (c *Candidate) Eligible(minLevel int) bool {
	return c.Active && c.ExperienceLevel >= minLevel
}

// WorkloadSample is the number of hours a candidate worked on one date.
type WorkloadSample struct {
	CandidateID string    `json:"candidate_id" mapstructure:"candidate_id"`
	Date        time.Time `json:"date" mapstructure:"date"`
	Hours       float64   `json:"hours" mapstructure:"hours"`
}
