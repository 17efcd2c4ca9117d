package models

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	BirthdayNotification            NotificationType = "BIRTHDAY"
	AnniversaryNotification         NotificationType = "ANNIVERSARY"
	MembershipMilestoneNotification NotificationType = "MEMBERSHIP_MILESTONE"
	EventReminderNotification       NotificationType = "EVENT_REMINDER"
	FollowUpNotification            NotificationType = "FOLLOW_UP"
)

func (t NotificationType) Valid() bool {
	switch t {
	case BirthdayNotification, AnniversaryNotification, MembershipMilestoneNotification,
		EventReminderNotification, FollowUpNotification:
		return true
	}
	return false
}

type Channel string

const (
	SMSChannel   Channel = "SMS"
	EmailChannel Channel = "EMAIL"
)

func (c Channel) Valid() bool {
	return c == SMSChannel || c == EmailChannel
}

type Frequency string

const (
	NoRecurrence     Frequency = ""
	DailyFrequency   Frequency = "daily"
	WeeklyFrequency  Frequency = "weekly"
	MonthlyFrequency Frequency = "monthly"
	YearlyFrequency  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case NoRecurrence, DailyFrequency, WeeklyFrequency, MonthlyFrequency, YearlyFrequency:
		return true
	}
	return false
}

// Next returns t advanced by one cycle of f. Monthly and yearly steps clamp to the
// last day of the target month, so Jan 31 is followed by Feb 28/29.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case DailyFrequency:
		return t.AddDate(0, 0, 1)
	case WeeklyFrequency:
		return t.AddDate(0, 0, 7)
	case MonthlyFrequency:
		return addMonthsClamped(t, 1)
	case YearlyFrequency:
		return addMonthsClamped(t, 12)
	}
	return t
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// DefaultMilestones are the membership anniversaries (in whole years) celebrated
// when a milestone rule does not list its own.
var DefaultMilestones = []int{1, 5, 10, 15, 20, 25}

// NotificationRule maps a date-based trigger to delivery parameters.
type NotificationRule struct {
	ID         string           `json:"id" db:"id" toml:"id"`
	Name       string           `json:"name" db:"name" toml:"name" validate:"required,max=100"`
	Type       NotificationType `json:"type" db:"type" toml:"type" validate:"required"`
	Enabled    bool             `json:"enabled" db:"enabled" toml:"enabled"`
	OffsetDays []int            `json:"offset_days" toml:"offset_days" validate:"dive,gte=0"`        // Days in advance; one reminder per entry
	Milestones []int            `json:"milestones,omitempty" toml:"milestones" validate:"dive,gt=0"` // MEMBERSHIP_MILESTONE only
	TimeOfDay  string           `json:"time_of_day" db:"time_of_day" toml:"time_of_day" validate:"omitempty,datetime=15:04"`
	Channels   []Channel        `json:"channels" toml:"channels" validate:"required,min=1"`
	TemplateID *string          `json:"template_id,omitempty" db:"template_id" toml:"template_id"`
	Recurrence Frequency        `json:"recurrence,omitempty" db:"recurrence" toml:"recurrence"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at" toml:"-"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at" toml:"-"`
}

// Offsets returns the rule's reminder offsets, defaulting to the day itself.
func (r NotificationRule) Offsets() []int {
	if len(r.OffsetDays) == 0 {
		return []int{0}
	}
	return r.OffsetDays
}

// MilestoneYears returns the configured milestones or DefaultMilestones.
func (r NotificationRule) MilestoneYears() []int {
	if len(r.Milestones) == 0 {
		return DefaultMilestones
	}
	return r.Milestones
}

// ClockTime parses TimeOfDay ("HH:MM"). An empty value means 09:00.
func (r NotificationRule) ClockTime() (hour, minute int, err error) {
	if r.TimeOfDay == "" {
		return 9, 0, nil
	}
	t, err := time.Parse("15:04", r.TimeOfDay)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", r.TimeOfDay, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NotificationTemplate is a parameterized message body with {variable} placeholders.
type NotificationTemplate struct {
	ID        string           `json:"id" db:"id" toml:"id"`
	Name      string           `json:"name" db:"name" toml:"name" validate:"required,max=100"`
	Type      NotificationType `json:"type" db:"type" toml:"type" validate:"required"`
	Subject   string           `json:"subject,omitempty" db:"subject" toml:"subject"` // Email only
	Body      string           `json:"body" db:"body" toml:"body" validate:"required"`
	Channels  []Channel        `json:"channels" toml:"channels" validate:"required,min=1"`
	Active    bool             `json:"active" db:"active" toml:"active"`
	CreatedAt time.Time        `json:"created_at" db:"created_at" toml:"-"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at" toml:"-"`
}

type NotificationStatus string

const (
	ScheduledNotificationStatus NotificationStatus = "SCHEDULED"
	SentNotificationStatus      NotificationStatus = "SENT"
	FailedNotificationStatus    NotificationStatus = "FAILED"
	CancelledNotificationStatus NotificationStatus = "CANCELLED"
)

// Recipient holds the contact details a notification is delivered to.
type Recipient struct {
	Name  string `json:"name" db:"recipient_name"`
	Phone string `json:"phone,omitempty" db:"recipient_phone"`
	Email string `json:"email,omitempty" db:"recipient_email"`
}

// Contact returns the address used for the given channel.
func (r Recipient) Contact(c Channel) string {
	if c == SMSChannel {
		return r.Phone
	}
	return r.Email
}

// ScheduledNotification is one concrete message derived from a rule, a recipient and a trigger date.
type ScheduledNotification struct {
	ID          string             `json:"id" db:"id"`                     // UUID
	RuleID      string             `json:"rule_id" db:"rule_id"`           // Rule that produced it
	RuleType    NotificationType   `json:"rule_type" db:"rule_type"`       // Copied from the rule
	EntityID    string             `json:"entity_id" db:"entity_id"`       // e.g. "member:12", "event:3:member:12"
	TriggerDate time.Time          `json:"trigger_date" db:"trigger_date"` // Calendar day the rule fired for
	DedupKey    string             `json:"dedup_key" db:"dedup_key"`       // Unique per rule, entity and trigger date
	Title       string             `json:"title" db:"title"`
	Recipient   Recipient          `json:"recipient" db:"-"`
	ScheduledAt time.Time          `json:"scheduled_at" db:"scheduled_at"`
	Channels    []Channel          `json:"channels" db:"-"`
	Status      NotificationStatus `json:"status" db:"status"`
	Subject     string             `json:"subject,omitempty" db:"subject"`
	Message     string             `json:"message" db:"message"` // Rendered template
	Recurrence  Frequency          `json:"recurrence,omitempty" db:"recurrence"`
	Delivered   []Channel          `json:"delivered,omitempty" db:"-"`    // Channels already delivered on; a resend skips them
	Error       string             `json:"error,omitempty" db:"error_msg"` // Last delivery failure
	SentAt      *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}

// DedupKey builds the composite key that makes scheduling idempotent.
func DedupKey(ruleID, entityID string, triggerDate time.Time) string {
	return fmt.Sprintf("%s|%s|%s", ruleID, entityID, DateOnly(triggerDate).Format(time.DateOnly))
}
