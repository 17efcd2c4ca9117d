package notification

import (
	"time"

	"github.com/ignatij/steward/pkg/models"
)

// NextInstance builds the notification for the cycle after n. It reports false
// when n does not recur. The next instance keeps the rule and recipient, moves
// ScheduledAt and TriggerDate forward by one cycle and gets a fresh dedup key,
// so spawning it twice is rejected by the store. Its text is a copy of n's
// until Refresh renders it for the new cycle at dispatch time.
func NextInstance(n models.ScheduledNotification, id string, now time.Time) (models.ScheduledNotification, bool) {
	if n.Recurrence == models.NoRecurrence || !n.Recurrence.Valid() {
		return models.ScheduledNotification{}, false
	}
	next := n
	next.ID = id
	next.ScheduledAt = n.Recurrence.Next(n.ScheduledAt)
	next.TriggerDate = n.Recurrence.Next(n.TriggerDate)
	next.DedupKey = models.DedupKey(n.RuleID, n.EntityID, next.TriggerDate)
	next.Status = models.ScheduledNotificationStatus
	next.Channels = append([]models.Channel(nil), n.Channels...)
	next.Delivered = nil
	next.Error = ""
	next.SentAt = nil
	next.CreatedAt = now
	return next, true
}
