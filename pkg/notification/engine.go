package notification

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/steward/pkg/models"
	"github.com/pkg/errors"
)

// Entities are the records rules are evaluated against.
type Entities struct {
	Members []models.Member
	Events  []models.Event
}

type config struct {
	templates []models.NotificationTemplate
	vars      map[string]string
	loc       *time.Location
	newID     func() string
	now       func() time.Time
}

// Option configures DueNotifications.
type Option func(*config)

// WithTemplates supplies the templates messages are rendered from.
func WithTemplates(templates []models.NotificationTemplate) Option {
	return func(c *config) { c.templates = templates }
}

// WithVariables adds variables available to every template (e.g. church_name).
func WithVariables(vars map[string]string) Option {
	return func(c *config) { c.vars = vars }
}

// WithLocation sets the time zone ScheduledAt is expressed in. Defaults to asOf's location.
func WithLocation(loc *time.Location) Option {
	return func(c *config) { c.loc = loc }
}

// WithIDGenerator replaces uuid.NewString for notification IDs.
func WithIDGenerator(fn func() string) Option {
	return func(c *config) { c.newID = fn }
}

// WithClock replaces time.Now for CreatedAt.
func WithClock(fn func() time.Time) Option {
	return func(c *config) { c.now = fn }
}

// match is one rule firing for one recipient.
type match struct {
	entityID  string
	recipient models.Recipient
	title     string
	vars      map[string]string
}

// DueNotifications evaluates every enabled rule against the entities and
// returns one ScheduledNotification per (rule, entity) whose trigger date is
// asOf. Results never contain two notifications with the same dedup key.
// Recipients without a contact for any of the rule's channels are skipped.
func DueNotifications(rules []models.NotificationRule, entities Entities, asOf time.Time, opts ...Option) ([]models.ScheduledNotification, error) {
	cfg := config{loc: asOf.Location(), newID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	day := models.DateOnly(asOf)

	var out []models.ScheduledNotification
	seen := make(map[string]struct{})
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		hour, minute, err := rule.ClockTime()
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", rule.ID)
		}
		tmpl := selectTemplate(rule, cfg.templates)
		for _, m := range matches(rule, entities, day) {
			if !reachable(m.recipient, rule.Channels) {
				continue
			}
			key := models.DedupKey(rule.ID, m.entityID, day)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			vars := mergeVars(cfg.vars, m.vars)
			n := models.ScheduledNotification{
				ID:          cfg.newID(),
				RuleID:      rule.ID,
				RuleType:    rule.Type,
				EntityID:    m.entityID,
				TriggerDate: day,
				DedupKey:    key,
				Title:       m.title,
				Recipient:   m.recipient,
				ScheduledAt: time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, cfg.loc),
				Channels:    slices.Clone(rule.Channels),
				Status:      models.ScheduledNotificationStatus,
				Message:     Render(tmpl.Body, vars),
				Recurrence:  rule.Recurrence,
				CreatedAt:   cfg.now(),
			}
			if slices.Contains(rule.Channels, models.EmailChannel) {
				n.Subject = Render(tmpl.Subject, vars)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func matches(rule models.NotificationRule, entities Entities, day time.Time) []match {
	var out []match
	switch rule.Type {
	case models.BirthdayNotification, models.AnniversaryNotification:
		for _, member := range entities.Members {
			anchor := member.Birthday
			if rule.Type == models.AnniversaryNotification {
				anchor = member.AnniversaryDate
			}
			if anchor == nil {
				continue
			}
			for _, offset := range rule.Offsets() {
				occurrence := day.AddDate(0, 0, offset)
				if !sameMonthDay(*anchor, occurrence) {
					continue
				}
				out = append(out, memberMatch(rule.Type, member, occurrence, offset, occurrence.Year()-anchor.Year()))
				break
			}
		}
	case models.MembershipMilestoneNotification:
		for _, member := range entities.Members {
			if member.JoinDate == nil || !sameMonthDay(*member.JoinDate, day) {
				continue
			}
			years := day.Year() - member.JoinDate.Year()
			if !slices.Contains(rule.MilestoneYears(), years) {
				continue
			}
			out = append(out, memberMatch(rule.Type, member, day, 0, years))
		}
	case models.FollowUpNotification:
		for _, member := range entities.Members {
			if member.FirstVisitDate == nil {
				continue
			}
			visit := models.DateOnly(*member.FirstVisitDate)
			for _, offset := range rule.Offsets() {
				if visit.AddDate(0, 0, offset).Equal(day) {
					out = append(out, memberMatch(rule.Type, member, visit, offset, 0))
					break
				}
			}
		}
	case models.EventReminderNotification:
		byID := make(map[int64]models.Member, len(entities.Members))
		for _, member := range entities.Members {
			byID[member.ID] = member
		}
		for _, event := range entities.Events {
			date := models.DateOnly(event.Date)
			for _, offset := range rule.Offsets() {
				if !date.AddDate(0, 0, -offset).Equal(day) {
					continue
				}
				for _, member := range attendees(event, entities.Members, byID) {
					out = append(out, eventMatch(event, member, offset))
				}
				break
			}
		}
	}
	return out
}

// Refresh renders n again from the current rule, templates and entities, so
// an instance stored in an earlier cycle goes out with this cycle's variables
// (e.g. {years}) and the latest template text. It reports false, returning n
// unchanged, when n's entity no longer exists or the rule changed type.
func Refresh(n models.ScheduledNotification, rule models.NotificationRule, entities Entities, opts ...Option) (models.ScheduledNotification, bool) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if rule.Type != n.RuleType {
		return n, false
	}
	m, ok := instanceMatch(rule, entities, n.EntityID, models.DateOnly(n.TriggerDate))
	if !ok {
		return n, false
	}
	tmpl := selectTemplate(rule, cfg.templates)
	vars := mergeVars(cfg.vars, m.vars)
	n.Title = m.title
	n.Recipient = m.recipient
	n.Message = Render(tmpl.Body, vars)
	n.Subject = ""
	if slices.Contains(n.Channels, models.EmailChannel) {
		n.Subject = Render(tmpl.Subject, vars)
	}
	return n, true
}

// instanceMatch rebuilds the match for one entity on day. Unlike matches it
// does not require day to be a trigger day, since recurring instances move
// away from the entity's own date.
func instanceMatch(rule models.NotificationRule, entities Entities, entityID string, day time.Time) (match, bool) {
	var eventID, memberID int64
	if _, err := fmt.Sscanf(entityID, "event:%d:member:%d", &eventID, &memberID); err == nil {
		if rule.Type != models.EventReminderNotification {
			return match{}, false
		}
		event, ok := findEvent(entities.Events, eventID)
		if !ok {
			return match{}, false
		}
		member, ok := findMember(entities.Members, memberID)
		if !ok {
			return match{}, false
		}
		return eventMatch(event, member, daysBetween(day, models.DateOnly(event.Date))), true
	}
	if _, err := fmt.Sscanf(entityID, "member:%d", &memberID); err != nil {
		return match{}, false
	}
	member, ok := findMember(entities.Members, memberID)
	if !ok {
		return match{}, false
	}
	switch rule.Type {
	case models.BirthdayNotification, models.AnniversaryNotification:
		anchor := member.Birthday
		if rule.Type == models.AnniversaryNotification {
			anchor = member.AnniversaryDate
		}
		if anchor == nil {
			return match{}, false
		}
		occurrence := anniversaryIn(*anchor, day.Year())
		for _, offset := range rule.Offsets() {
			if d := day.AddDate(0, 0, offset); sameMonthDay(*anchor, d) {
				occurrence = d
				break
			}
		}
		return memberMatch(rule.Type, member, occurrence, daysBetween(day, occurrence), occurrence.Year()-anchor.Year()), true
	case models.MembershipMilestoneNotification:
		if member.JoinDate == nil {
			return match{}, false
		}
		return memberMatch(rule.Type, member, day, 0, day.Year()-member.JoinDate.Year()), true
	case models.FollowUpNotification:
		if member.FirstVisitDate == nil {
			return match{}, false
		}
		visit := models.DateOnly(*member.FirstVisitDate)
		return memberMatch(rule.Type, member, visit, daysBetween(visit, day), 0), true
	}
	return match{}, false
}

func findMember(members []models.Member, id int64) (models.Member, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return models.Member{}, false
}

func findEvent(events []models.Event, id int64) (models.Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e, true
		}
	}
	return models.Event{}, false
}

// anniversaryIn returns anchor's month and day in year; Feb 29 falls on Feb 28
// in non-leap years.
func anniversaryIn(anchor time.Time, year int) time.Time {
	_, m, d := anchor.Date()
	if m == time.February && d == 29 && !isLeap(year) {
		d = 28
	}
	return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(models.DateOnly(to).Sub(models.DateOnly(from)) / (24 * time.Hour))
}

func mergeVars(base, overrides map[string]string) map[string]string {
	vars := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

func attendees(event models.Event, all []models.Member, byID map[int64]models.Member) []models.Member {
	if len(event.Attendees) == 0 {
		return all
	}
	var out []models.Member
	for _, id := range event.Attendees {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

func memberMatch(t models.NotificationType, member models.Member, date time.Time, offset, years int) match {
	name := member.FullName()
	var title string
	switch t {
	case models.BirthdayNotification:
		title = "Birthday: " + name
	case models.AnniversaryNotification:
		title = "Wedding Anniversary: " + name
	case models.MembershipMilestoneNotification:
		title = fmt.Sprintf("%d-Year Membership Anniversary: %s", years, name)
	case models.FollowUpNotification:
		title = "Follow-up: " + name
	}
	return match{
		entityID:  fmt.Sprintf("member:%d", member.ID),
		recipient: member.Recipient(),
		title:     title,
		vars: map[string]string{
			"member_name": name,
			"first_name":  member.FirstName,
			"last_name":   member.LastName,
			"date":        date.Format("January 2"),
			"days":        strconv.Itoa(offset),
			"years":       strconv.Itoa(years),
		},
	}
}

func eventMatch(event models.Event, member models.Member, offset int) match {
	return match{
		entityID:  fmt.Sprintf("event:%d:member:%d", event.ID, member.ID),
		recipient: member.Recipient(),
		title:     "Event Reminder: " + event.Name,
		vars: map[string]string{
			"member_name":    member.FullName(),
			"first_name":     member.FirstName,
			"last_name":      member.LastName,
			"event_name":     event.Name,
			"event_location": event.Location,
			"event_date":     event.Date.Format("Monday, January 2"),
			"date":           event.Date.Format("January 2"),
			"days":           strconv.Itoa(offset),
		},
	}
}

// sameMonthDay reports whether day falls on anchor's month and day. A Feb 29
// anchor matches Feb 28 in non-leap years.
func sameMonthDay(anchor, day time.Time) bool {
	_, am, ad := anchor.Date()
	_, dm, dd := day.Date()
	if am == time.February && ad == 29 && !isLeap(day.Year()) {
		return dm == time.February && dd == 28
	}
	return am == dm && ad == dd
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func reachable(r models.Recipient, channels []models.Channel) bool {
	for _, c := range channels {
		if r.Contact(c) != "" {
			return true
		}
	}
	return false
}

// selectTemplate picks the rule's own template when it is active, otherwise
// the first active template of the rule's type, otherwise a built-in default.
func selectTemplate(rule models.NotificationRule, templates []models.NotificationTemplate) models.NotificationTemplate {
	if rule.TemplateID != nil {
		for _, t := range templates {
			if t.ID == *rule.TemplateID && t.Active {
				return t
			}
		}
	}
	for _, t := range templates {
		if t.Type == rule.Type && t.Active {
			return t
		}
	}
	return DefaultTemplate(rule.Type)
}

// DefaultTemplate returns the built-in message for a notification type.
func DefaultTemplate(t models.NotificationType) models.NotificationTemplate {
	tmpl := models.NotificationTemplate{
		ID:       "default-" + string(t),
		Type:     t,
		Channels: []models.Channel{models.SMSChannel, models.EmailChannel},
		Active:   true,
	}
	switch t {
	case models.BirthdayNotification:
		tmpl.Name = "Birthday Wishes"
		tmpl.Subject = "Happy Birthday, {first_name}!"
		tmpl.Body = "Happy Birthday, {member_name}! Your {church_name} family is celebrating with you."
	case models.AnniversaryNotification:
		tmpl.Name = "Anniversary Wishes"
		tmpl.Subject = "Happy Anniversary, {first_name}!"
		tmpl.Body = "Happy Anniversary, {member_name}! Congratulations on {years} years together."
	case models.MembershipMilestoneNotification:
		tmpl.Name = "Membership Milestone"
		tmpl.Subject = "{years} years with {church_name}"
		tmpl.Body = "Dear {member_name}, thank you for {years} years of faithful membership at {church_name}."
	case models.EventReminderNotification:
		tmpl.Name = "Event Reminder"
		tmpl.Subject = "Reminder: {event_name}"
		tmpl.Body = "Hi {first_name}, this is a reminder that {event_name} takes place on {event_date} at {event_location}."
	case models.FollowUpNotification:
		tmpl.Name = "Visitor Follow-up"
		tmpl.Subject = "Thank you for visiting {church_name}"
		tmpl.Body = "Hi {first_name}, thank you for visiting {church_name}. We would love to see you again!"
	}
	return tmpl
}
