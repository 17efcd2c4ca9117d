package models

import (
	"strings"
	"time"
)

// Member is the read-only view of a congregation member used for lookups and
// date-driven notifications.
type Member struct {
	ID              int64      `json:"id" db:"id"`
	FirstName       string     `json:"first_name" db:"first_name" validate:"required,max=100"`
	LastName        string     `json:"last_name" db:"last_name" validate:"max=100"`
	Email           string     `json:"email,omitempty" db:"email" validate:"omitempty,email"`
	Phone           string     `json:"phone,omitempty" db:"phone"`
	Birthday        *time.Time `json:"birthday,omitempty" db:"birthday"`
	AnniversaryDate *time.Time `json:"anniversary_date,omitempty" db:"anniversary_date"` // Wedding anniversary
	JoinDate        *time.Time `json:"join_date,omitempty" db:"join_date"`               // Membership start
	FirstVisitDate  *time.Time `json:"first_visit_date,omitempty" db:"first_visit_date"` // Drives follow-ups
	BranchID        *int64     `json:"branch_id,omitempty" db:"branch_id"`
}

func (m Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

func (m Member) Recipient() Recipient {
	return Recipient{Name: m.FullName(), Phone: m.Phone, Email: m.Email}
}

// Event is a dated church event whose attendees receive reminders.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name" validate:"required,max=200"`
	Date      time.Time `json:"date" db:"event_date" validate:"required"`
	Location  string    `json:"location,omitempty" db:"location"`
	Attendees []int64   `json:"attendees,omitempty"` // Member IDs expected to attend
}
