package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/notification"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
)

// NotificationService manages rules and templates, materializes scheduled
// notifications for a day and hands them to the delivery service.
// It never runs on its own; a job runner calls Schedule and DispatchDue.
type NotificationService struct {
	store  storage.Store
	sender delivery.Sender
	logger Logger
	opts   options
}

func NewNotificationService(store storage.Store, sender delivery.Sender, logger Logger, opts ...Option) *NotificationService {
	o := buildOptions(opts)
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return &NotificationService{store: store, sender: sender, logger: logger, opts: o}
}

// DispatchReport summarizes one DispatchDue run.
type DispatchReport struct {
	Sent      []models.ScheduledNotification `json:"sent"`
	Failed    []models.ScheduledNotification `json:"failed"`
	Spawned   []models.ScheduledNotification `json:"spawned"`   // Next instances of recurring notifications
	Cancelled []models.ScheduledNotification `json:"cancelled"` // Their rule was disabled or deleted
}

// CreateRule validates and stores a rule, assigning an ID when it has none.
func (ns *NotificationService) CreateRule(ctx context.Context, rule models.NotificationRule) (models.NotificationRule, error) {
	if rule.ID == "" {
		rule.ID = ns.opts.newID()
	}
	if err := validateRule(rule); err != nil {
		return models.NotificationRule{}, err
	}
	now := ns.opts.now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		if rule.TemplateID != nil {
			if _, err := tx.GetTemplate(*rule.TemplateID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return newValidationError("template_id", "template %s does not exist", *rule.TemplateID)
				}
				return err
			}
		}
		return tx.SaveRule(rule)
	})
	if err != nil {
		ns.logger.Errorf("Failed to create rule '%s': %v", rule.Name, err)
		return models.NotificationRule{}, err
	}
	ns.logger.Infof("Created %s rule '%s' (%s)", rule.Type, rule.Name, rule.ID)
	return rule, nil
}

// UpdateRule replaces an existing rule.
func (ns *NotificationService) UpdateRule(ctx context.Context, rule models.NotificationRule) (models.NotificationRule, error) {
	if err := validateRule(rule); err != nil {
		return models.NotificationRule{}, err
	}
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		existing, err := tx.GetRule(rule.ID)
		if err != nil {
			return errors.Wrapf(err, "get rule %s", rule.ID)
		}
		rule.CreatedAt = existing.CreatedAt
		rule.UpdatedAt = ns.opts.now()
		return tx.UpdateRule(rule)
	})
	if err != nil {
		return models.NotificationRule{}, err
	}
	return rule, nil
}

// SetRuleEnabled switches a rule on or off. Disabling a rule cancels its
// notifications that are still waiting to be sent.
func (ns *NotificationService) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		rule, err := tx.GetRule(id)
		if err != nil {
			return errors.Wrapf(err, "get rule %s", id)
		}
		rule.Enabled = enabled
		rule.UpdatedAt = ns.opts.now()
		if err := tx.UpdateRule(rule); err != nil {
			return err
		}
		if enabled {
			return nil
		}
		return ns.cancelPending(tx, id)
	})
}

// DeleteRule removes a rule and cancels its pending notifications.
func (ns *NotificationService) DeleteRule(ctx context.Context, id string) error {
	return inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		if err := tx.DeleteRule(id); err != nil {
			return err
		}
		return ns.cancelPending(tx, id)
	})
}

func (ns *NotificationService) cancelPending(tx storage.Store, ruleID string) error {
	pending, err := tx.ListNotifications(storage.NotificationFilter{
		Status: models.ScheduledNotificationStatus,
		RuleID: ruleID,
	})
	if err != nil {
		return errors.Wrapf(err, "list pending notifications of rule %s", ruleID)
	}
	for _, n := range pending {
		n.Status = models.CancelledNotificationStatus
		if err := tx.UpdateNotification(n); err != nil {
			return errors.Wrapf(err, "cancel notification %s", n.ID)
		}
	}
	if len(pending) > 0 {
		ns.logger.Infof("Cancelled %d pending notification(s) of rule %s", len(pending), ruleID)
	}
	return nil
}

func (ns *NotificationService) ListRules() ([]models.NotificationRule, error) {
	return ns.store.ListRules()
}

// CreateTemplate validates and stores a template, assigning an ID when it has none.
func (ns *NotificationService) CreateTemplate(ctx context.Context, tmpl models.NotificationTemplate) (models.NotificationTemplate, error) {
	if tmpl.ID == "" {
		tmpl.ID = ns.opts.newID()
	}
	if err := validateTemplate(tmpl); err != nil {
		return models.NotificationTemplate{}, err
	}
	now := ns.opts.now()
	tmpl.CreatedAt, tmpl.UpdatedAt = now, now
	if err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		return tx.SaveTemplate(tmpl)
	}); err != nil {
		ns.logger.Errorf("Failed to create template '%s': %v", tmpl.Name, err)
		return models.NotificationTemplate{}, err
	}
	ns.logger.Infof("Created template '%s' (%s)", tmpl.Name, tmpl.ID)
	return tmpl, nil
}

// UpdateTemplate replaces an existing template.
func (ns *NotificationService) UpdateTemplate(ctx context.Context, tmpl models.NotificationTemplate) (models.NotificationTemplate, error) {
	if err := validateTemplate(tmpl); err != nil {
		return models.NotificationTemplate{}, err
	}
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		existing, err := tx.GetTemplate(tmpl.ID)
		if err != nil {
			return errors.Wrapf(err, "get template %s", tmpl.ID)
		}
		tmpl.CreatedAt = existing.CreatedAt
		tmpl.UpdatedAt = ns.opts.now()
		return tx.UpdateTemplate(tmpl)
	})
	if err != nil {
		return models.NotificationTemplate{}, err
	}
	return tmpl, nil
}

func (ns *NotificationService) DeleteTemplate(ctx context.Context, id string) error {
	return inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		return tx.DeleteTemplate(id)
	})
}

func (ns *NotificationService) ListTemplates() ([]models.NotificationTemplate, error) {
	return ns.store.ListTemplates()
}

// Preview renders body with vars merged over the service-wide variables and
// lists the placeholders still unresolved.
func (ns *NotificationService) Preview(body string, vars map[string]string) (string, []string, error) {
	if err := notification.Validate(body); err != nil {
		return "", nil, &ValidationError{Field: "body", Reason: err.Error()}
	}
	merged := make(map[string]string, len(ns.opts.vars)+len(vars))
	for k, v := range ns.opts.vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return notification.Render(body, merged), notification.Unresolved(body, merged), nil
}

// Schedule evaluates all rules for asOf and stores the resulting
// notifications. Notifications already stored for the same rule, entity and
// day are skipped, so calling Schedule again for the same day adds nothing.
func (ns *NotificationService) Schedule(ctx context.Context, asOf time.Time) ([]models.ScheduledNotification, error) {
	var created []models.ScheduledNotification
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		rules, err := tx.ListRules()
		if err != nil {
			return errors.Wrap(err, "list rules")
		}
		templates, err := tx.ListTemplates()
		if err != nil {
			return errors.Wrap(err, "list templates")
		}
		members, err := tx.ListMembers()
		if err != nil {
			return errors.Wrap(err, "list members")
		}
		events, err := tx.ListEvents()
		if err != nil {
			return errors.Wrap(err, "list events")
		}
		due, err := notification.DueNotifications(rules, notification.Entities{Members: members, Events: events}, asOf,
			notification.WithTemplates(templates),
			notification.WithVariables(ns.opts.vars),
			notification.WithLocation(ns.opts.loc),
			notification.WithIDGenerator(ns.opts.newID),
			notification.WithClock(ns.opts.now),
		)
		if err != nil {
			return err
		}
		for _, n := range due {
			if err := tx.SaveNotification(n); err != nil {
				if errors.Is(err, storage.ErrAlreadyExists) {
					continue
				}
				return errors.Wrapf(err, "save notification %s", n.DedupKey)
			}
			created = append(created, n)
		}
		return nil
	})
	if err != nil {
		ns.logger.Errorf("Failed to schedule notifications for %s: %v", asOf.Format(time.DateOnly), err)
		return nil, err
	}
	ns.logger.Infof("Scheduled %d notification(s) for %s", len(created), asOf.Format(time.DateOnly))
	return created, nil
}

// ListNotifications returns stored notifications matching filter.
func (ns *NotificationService) ListNotifications(filter storage.NotificationFilter) ([]models.ScheduledNotification, error) {
	return ns.store.ListNotifications(filter)
}

// DispatchDue sends every SCHEDULED notification due at or before now.
// Delivery failures are recorded on the notifications, not returned.
func (ns *NotificationService) DispatchDue(ctx context.Context, now time.Time) (DispatchReport, error) {
	var report DispatchReport
	due, err := ns.store.ListNotifications(storage.NotificationFilter{
		Status:    models.ScheduledNotificationStatus,
		DueBefore: &now,
	})
	if err != nil {
		return report, errors.Wrap(err, "list due notifications")
	}
	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, next, err := ns.send(ctx, n.ID, models.ScheduledNotificationStatus)
		if err != nil {
			if errors.Is(err, ErrTransition) {
				// Sent or cancelled by someone else since it was listed.
				continue
			}
			return report, err
		}
		switch result.Status {
		case models.SentNotificationStatus:
			report.Sent = append(report.Sent, result)
		case models.CancelledNotificationStatus:
			report.Cancelled = append(report.Cancelled, result)
		default:
			report.Failed = append(report.Failed, result)
		}
		if next != nil {
			report.Spawned = append(report.Spawned, *next)
		}
	}
	ns.logger.Infof("Dispatched %d notification(s): %d sent, %d failed", len(report.Sent)+len(report.Failed), len(report.Sent), len(report.Failed))
	return report, nil
}

// SendNow delivers a SCHEDULED or FAILED notification immediately. The
// returned notification is SENT or FAILED, or CANCELLED when its rule has been
// disabled or deleted; a delivery failure is not an error. Channels a previous
// attempt already delivered on are not sent again.
func (ns *NotificationService) SendNow(ctx context.Context, id string) (models.ScheduledNotification, error) {
	n, _, err := ns.send(ctx, id, models.ScheduledNotificationStatus, models.FailedNotificationStatus)
	return n, err
}

// Cancel stops a SCHEDULED notification from being sent.
func (ns *NotificationService) Cancel(ctx context.Context, id string) (models.ScheduledNotification, error) {
	var n models.ScheduledNotification
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) (err error) {
		n, err = tx.GetNotification(id)
		if err != nil {
			return errors.Wrapf(err, "get notification %s", id)
		}
		if n.Status != models.ScheduledNotificationStatus {
			return &TransitionError{
				Entity: "notification",
				From:   string(n.Status),
				To:     string(models.CancelledNotificationStatus),
				Reason: "only scheduled notifications can be cancelled",
			}
		}
		n.Status = models.CancelledNotificationStatus
		return tx.UpdateNotification(n)
	})
	if err != nil {
		return models.ScheduledNotification{}, err
	}
	ns.logger.Infof("Cancelled notification %s", id)
	return n, nil
}

// send delivers notification id if its status is one of from, records the
// outcome and, for recurring notifications, stores the next instance. The
// message is rendered again from the current rule and template first; a
// notification whose rule is gone or disabled is cancelled instead.
func (ns *NotificationService) send(ctx context.Context, id string, from ...models.NotificationStatus) (models.ScheduledNotification, *models.ScheduledNotification, error) {
	n, err := ns.store.GetNotification(id)
	if err != nil {
		return models.ScheduledNotification{}, nil, errors.Wrapf(err, "get notification %s", id)
	}
	if !slices.Contains(from, n.Status) {
		return models.ScheduledNotification{}, nil, &TransitionError{
			Entity: "notification",
			From:   string(n.Status),
			To:     string(models.SentNotificationStatus),
			Reason: "notification is not awaiting delivery",
		}
	}

	rule, err := ns.store.GetRule(n.RuleID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ns.retire(ctx, n, "its rule no longer exists")
	case err != nil:
		return models.ScheduledNotification{}, nil, errors.Wrapf(err, "get rule %s", n.RuleID)
	case !rule.Enabled:
		return ns.retire(ctx, n, "its rule is disabled")
	}
	if n, err = ns.refresh(n, rule); err != nil {
		return models.ScheduledNotification{}, nil, err
	}

	delivered, deliveryErrs := ns.deliver(ctx, n)

	var next *models.ScheduledNotification
	err = inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		current, err := tx.GetNotification(id)
		if err != nil {
			return err
		}
		if current.Status != n.Status {
			return &TransitionError{
				Entity: "notification",
				From:   string(current.Status),
				To:     string(models.SentNotificationStatus),
				Reason: "notification changed while it was being delivered",
			}
		}
		now := ns.opts.now()
		n.Delivered = delivered
		if len(deliveryErrs) == 0 {
			n.Status = models.SentNotificationStatus
			n.Error = ""
			n.SentAt = &now
		} else {
			n.Status = models.FailedNotificationStatus
			n.Error = joinErrors(deliveryErrs)
		}
		if err := tx.UpdateNotification(n); err != nil {
			return err
		}
		// The rule can be disabled while the message is in flight.
		latest, err := tx.GetRule(n.RuleID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "get rule %s", n.RuleID)
		}
		if !latest.Enabled {
			return nil
		}
		if following, ok := notification.NextInstance(n, ns.opts.newID(), now); ok {
			switch err := tx.SaveNotification(following); {
			case err == nil:
				next = &following
			case errors.Is(err, storage.ErrAlreadyExists):
				// Spawned by an earlier attempt.
			default:
				return errors.Wrap(err, "save next occurrence")
			}
		}
		return nil
	})
	if err != nil {
		ns.logger.Errorf("Failed to record delivery of notification %s: %v", id, err)
		return models.ScheduledNotification{}, nil, err
	}
	if n.Status == models.SentNotificationStatus {
		ns.logger.Infof("Sent notification %s (%s) to %s", n.ID, n.Title, n.Recipient.Name)
	} else {
		ns.logger.Errorf("Notification %s (%s) failed: %s", n.ID, n.Title, n.Error)
	}
	return n, next, nil
}

// retire cancels n without delivering it or spawning the next cycle.
func (ns *NotificationService) retire(ctx context.Context, n models.ScheduledNotification, reason string) (models.ScheduledNotification, *models.ScheduledNotification, error) {
	err := inTx(ctx, ns.store, ns.logger, func(tx storage.Store) error {
		current, err := tx.GetNotification(n.ID)
		if err != nil {
			return err
		}
		if current.Status != n.Status {
			return &TransitionError{
				Entity: "notification",
				From:   string(current.Status),
				To:     string(models.CancelledNotificationStatus),
				Reason: "notification changed while it was being cancelled",
			}
		}
		n.Status = models.CancelledNotificationStatus
		return tx.UpdateNotification(n)
	})
	if err != nil {
		return models.ScheduledNotification{}, nil, err
	}
	ns.logger.Infof("Cancelled notification %s (%s): %s", n.ID, n.Title, reason)
	return n, nil, nil
}

// refresh renders n for its own trigger date from rule, the current templates
// and the entity it was created for. The stored text is kept when the entity
// is gone.
func (ns *NotificationService) refresh(n models.ScheduledNotification, rule models.NotificationRule) (models.ScheduledNotification, error) {
	templates, err := ns.store.ListTemplates()
	if err != nil {
		return n, errors.Wrap(err, "list templates")
	}
	members, err := ns.store.ListMembers()
	if err != nil {
		return n, errors.Wrap(err, "list members")
	}
	var events []models.Event
	if rule.Type == models.EventReminderNotification {
		if events, err = ns.store.ListEvents(); err != nil {
			return n, errors.Wrap(err, "list events")
		}
	}
	refreshed, ok := notification.Refresh(n, rule, notification.Entities{Members: members, Events: events},
		notification.WithTemplates(templates),
		notification.WithVariables(ns.opts.vars),
	)
	if !ok {
		ns.logger.Infof("Sending notification %s with its stored text: %s no longer matches rule %s", n.ID, n.EntityID, rule.ID)
	}
	return refreshed, nil
}

// deliver calls the sender once per channel the recipient can be reached on,
// skipping channels n was already delivered on. It returns every channel
// delivered so far.
func (ns *NotificationService) deliver(ctx context.Context, n models.ScheduledNotification) ([]models.Channel, []*DeliveryError) {
	var errs []*DeliveryError
	delivered := slices.Clone(n.Delivered)
	attempted := 0
	for _, ch := range n.Channels {
		if slices.Contains(n.Delivered, ch) {
			continue
		}
		contact := n.Recipient.Contact(ch)
		if contact == "" {
			ns.logger.Infof("Skipping %s for notification %s: recipient has no %s contact", ch, n.ID, ch)
			continue
		}
		attempted++
		msg := delivery.Message{Title: n.Title, Body: n.Message}
		if ch == models.EmailChannel {
			msg.Subject = n.Subject
		}
		res, err := ns.sender.Send(ctx, ch, contact, msg)
		switch {
		case err != nil:
			errs = append(errs, &DeliveryError{Channel: string(ch), Reason: err.Error()})
		case !res.Delivered:
			errs = append(errs, &DeliveryError{Channel: string(ch), Reason: "not accepted by the delivery service"})
		default:
			delivered = append(delivered, ch)
		}
	}
	if attempted == 0 && len(delivered) == 0 {
		errs = append(errs, &DeliveryError{Channel: channelList(n.Channels), Reason: "recipient has no contact for any channel"})
	}
	return delivered, errs
}

func joinErrors(errs []*DeliveryError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func channelList(channels []models.Channel) string {
	parts := make([]string, len(channels))
	for i, c := range channels {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func validateRule(rule models.NotificationRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if err := validateStruct(rule); err != nil {
		return err
	}
	if !rule.Type.Valid() {
		return newValidationError("type", "unknown notification type %q", rule.Type)
	}
	if err := validateChannels(rule.Channels); err != nil {
		return err
	}
	if !rule.Recurrence.Valid() {
		return newValidationError("recurrence", "must be one of daily, weekly, monthly, yearly, got %q", rule.Recurrence)
	}
	if len(rule.Milestones) > 0 && rule.Type != models.MembershipMilestoneNotification {
		return newValidationError("milestones", "only membership milestone rules take milestones")
	}
	if _, _, err := rule.ClockTime(); err != nil {
		return newValidationError("time_of_day", "%v", err)
	}
	return nil
}

func validateTemplate(tmpl models.NotificationTemplate) error {
	tmpl.Name = strings.TrimSpace(tmpl.Name)
	if err := validateStruct(tmpl); err != nil {
		return err
	}
	if !tmpl.Type.Valid() {
		return newValidationError("type", "unknown notification type %q", tmpl.Type)
	}
	if err := validateChannels(tmpl.Channels); err != nil {
		return err
	}
	if err := notification.Validate(tmpl.Body); err != nil {
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := notification.Validate(tmpl.Subject); err != nil {
		return &ValidationError{Field: "subject", Reason: err.Error()}
	}
	return nil
}

func validateChannels(channels []models.Channel) error {
	seen := make(map[models.Channel]bool, len(channels))
	for _, c := range channels {
		if !c.Valid() {
			return newValidationError("channels", "unknown channel %q", c)
		}
		if seen[c] {
			return newValidationError("channels", "channel %s listed twice", c)
		}
		seen[c] = true
	}
	return nil
}
