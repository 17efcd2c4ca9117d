package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store on PostgreSQL. Stores returned by
// Begin wrap a *sqlx.Tx; multi-statement writes (workflow steps, event
// attendees) are only atomic inside a transaction.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return mapTxErr(tx.Commit())
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return mapTxErr(tx.Rollback())
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func mapTxErr(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return storage.ErrTxDone
	}
	return err
}

// mapErr translates driver errors into storage sentinels.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return errors.Wrapf(storage.ErrAlreadyExists, "%s: %s", what, pqErr.Constraint)
		case pqForeignKeyViolation:
			return errors.Wrapf(storage.ErrNotFound, "%s: %s", what, pqErr.Detail)
		}
	}
	return errors.Wrap(err, what)
}

// checkVersioned turns a zero-row versioned UPDATE into ErrNotFound or
// ErrVersionConflict.
func (s *PostgresStore) checkVersioned(res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.Get(&exists, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table), id); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrVersionConflict
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveWorkflow creates a workflow with its steps and returns its ID
func (s *PostgresStore) SaveWorkflow(w models.WorkflowDefinition) (int64, error) {
	var wfID int64
	err := s.db.QueryRowx(`
		INSERT INTO workflows (name, category, trigger_event, description, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7) RETURNING id`,
		w.Name, w.Category, w.TriggerEvent, w.Description, w.Status, w.CreatedAt, w.UpdatedAt).Scan(&wfID)
	if err != nil {
		return 0, mapErr(err, "save workflow")
	}
	if err := s.insertSteps(wfID, w.Steps); err != nil {
		return 0, err
	}
	return wfID, nil
}

func (s *PostgresStore) insertSteps(workflowID int64, steps []models.Step) error {
	for i, st := range steps {
		_, err := s.db.Exec(`
			INSERT INTO workflow_steps (workflow_id, id, position, title, assigned_to_role, days_to_complete, required)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			workflowID, st.ID, i, st.Title, st.AssignedToRole, st.DaysToComplete, st.Required)
		if err != nil {
			return mapErr(err, fmt.Sprintf("save step %d of workflow %d", st.ID, workflowID))
		}
	}
	return nil
}

const workflowColumns = "id, name, category, trigger_event, description, status, version, created_at, updated_at"

// GetWorkflow retrieves a workflow by ID, including its ordered steps
func (s *PostgresStore) GetWorkflow(id int64) (models.WorkflowDefinition, error) {
	var wf models.WorkflowDefinition
	err := s.db.Get(&wf, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id)
	if err != nil {
		return models.WorkflowDefinition{}, mapErr(err, "get workflow")
	}
	if wf.Steps, err = s.steps(id); err != nil {
		return models.WorkflowDefinition{}, err
	}
	return wf, nil
}

func (s *PostgresStore) steps(workflowID int64) ([]models.Step, error) {
	steps := []models.Step{}
	err := s.db.Select(&steps, `
		SELECT id, title, assigned_to_role, days_to_complete, required
		FROM workflow_steps WHERE workflow_id = $1 ORDER BY position`, workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "get steps of workflow %d", workflowID)
	}
	return steps, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	workflows := []models.WorkflowDefinition{}
	err := s.db.Select(&workflows, "SELECT "+workflowColumns+" FROM workflows ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		if workflows[i].Steps, err = s.steps(workflows[i].ID); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// UpdateWorkflow replaces the definition and its steps if the stored version matches
func (s *PostgresStore) UpdateWorkflow(w models.WorkflowDefinition, expectedVersion int) error {
	res, err := s.db.Exec(`
		UPDATE workflows
		SET name = $1, category = $2, trigger_event = $3, description = $4, status = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $7 AND version = $8`,
		w.Name, w.Category, w.TriggerEvent, w.Description, w.Status, timestampOrNow(w.UpdatedAt), w.ID, expectedVersion)
	if err != nil {
		return mapErr(err, "update workflow")
	}
	if err := s.checkVersioned(res, "workflows", w.ID); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM workflow_steps WHERE workflow_id = $1", w.ID); err != nil {
		return errors.Wrapf(err, "clear steps of workflow %d", w.ID)
	}
	return s.insertSteps(w.ID, w.Steps)
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// SaveTask creates a new task
func (s *PostgresStore) SaveTask(t models.Task) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO tasks (workflow_id, step_id, title, description, assigned_to, due_date, priority, status,
		                   progress, member_id, version, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12, $13) RETURNING id`,
		t.WorkflowID, t.StepID, t.Title, t.Description, t.AssignedTo, t.DueDate, t.Priority, t.Status,
		t.Progress, t.MemberID, timestampOrNow(t.CreatedAt), timestampOrNow(t.UpdatedAt), t.CompletedAt).Scan(&id)
	if err != nil {
		return 0, mapErr(err, "save task")
	}
	return id, nil
}

// GetTask retrieves a task by ID
func (s *PostgresStore) GetTask(id int64) (models.Task, error) {
	var task models.Task
	if err := s.db.Get(&task, "SELECT * FROM tasks WHERE id = $1", id); err != nil {
		return models.Task{}, mapErr(err, "get task")
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(filter storage.TaskFilter) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, `
		SELECT * FROM tasks
		WHERE ($1::BIGINT IS NULL OR workflow_id = $1)
		  AND ($2::TEXT = '' OR assigned_to = $2)
		  AND ($3::TEXT = '' OR status = $3)
		  AND ($4::BIGINT IS NULL OR member_id = $4)
		ORDER BY due_date, id`,
		filter.WorkflowID, filter.AssignedTo, string(filter.Status), filter.MemberID)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask replaces the task if the stored version matches
func (s *PostgresStore) UpdateTask(t models.Task, expectedVersion int) error {
	res, err := s.db.Exec(`
		UPDATE tasks
		SET title = $1, description = $2, assigned_to = $3, due_date = $4, priority = $5, status = $6,
		    progress = $7, member_id = $8, completed_at = $9, version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12`,
		t.Title, t.Description, t.AssignedTo, t.DueDate, t.Priority, t.Status,
		t.Progress, t.MemberID, t.CompletedAt, timestampOrNow(t.UpdatedAt), t.ID, expectedVersion)
	if err != nil {
		return mapErr(err, "update task")
	}
	return s.checkVersioned(res, "tasks", t.ID)
}

type ruleRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Type       string         `db:"type"`
	Enabled    bool           `db:"enabled"`
	OffsetDays pq.Int64Array  `db:"offset_days"`
	Milestones pq.Int64Array  `db:"milestones"`
	TimeOfDay  string         `db:"time_of_day"`
	Channels   pq.StringArray `db:"channels"`
	TemplateID *string        `db:"template_id"`
	Recurrence string         `db:"recurrence"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r ruleRow) model() models.NotificationRule {
	return models.NotificationRule{
		ID:         r.ID,
		Name:       r.Name,
		Type:       models.NotificationType(r.Type),
		Enabled:    r.Enabled,
		OffsetDays: fromInt64s(r.OffsetDays),
		Milestones: fromInt64s(r.Milestones),
		TimeOfDay:  r.TimeOfDay,
		Channels:   fromStrings(r.Channels),
		TemplateID: r.TemplateID,
		Recurrence: models.Frequency(r.Recurrence),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toInt64s(in []int) pq.Int64Array {
	out := make(pq.Int64Array, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func fromInt64s(in pq.Int64Array) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

func toStrings(in []models.Channel) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, c := range in {
		out[i] = string(c)
	}
	return out
}

func fromStrings(in pq.StringArray) []models.Channel {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Channel, len(in))
	for i, c := range in {
		out[i] = models.Channel(c)
	}
	return out
}

func (s *PostgresStore) SaveRule(r models.NotificationRule) error {
	_, err := s.db.Exec(`
		INSERT INTO notification_rules (id, name, type, enabled, offset_days, milestones, time_of_day, channels,
		                                template_id, recurrence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Name, r.Type, r.Enabled, toInt64s(r.OffsetDays), toInt64s(r.Milestones), r.TimeOfDay,
		toStrings(r.Channels), r.TemplateID, r.Recurrence, timestampOrNow(r.CreatedAt), timestampOrNow(r.UpdatedAt))
	return mapErr(err, "save rule")
}

func (s *PostgresStore) GetRule(id string) (models.NotificationRule, error) {
	var row ruleRow
	if err := s.db.Get(&row, "SELECT * FROM notification_rules WHERE id = $1", id); err != nil {
		return models.NotificationRule{}, mapErr(err, "get rule")
	}
	return row.model(), nil
}

func (s *PostgresStore) ListRules() ([]models.NotificationRule, error) {
	var rows []ruleRow
	if err := s.db.Select(&rows, "SELECT * FROM notification_rules ORDER BY id"); err != nil {
		return nil, err
	}
	rules := make([]models.NotificationRule, len(rows))
	for i, row := range rows {
		rules[i] = row.model()
	}
	return rules, nil
}

func (s *PostgresStore) UpdateRule(r models.NotificationRule) error {
	res, err := s.db.Exec(`
		UPDATE notification_rules
		SET name = $1, type = $2, enabled = $3, offset_days = $4, milestones = $5, time_of_day = $6,
		    channels = $7, template_id = $8, recurrence = $9, updated_at = $10
		WHERE id = $11`,
		r.Name, r.Type, r.Enabled, toInt64s(r.OffsetDays), toInt64s(r.Milestones), r.TimeOfDay,
		toStrings(r.Channels), r.TemplateID, r.Recurrence, timestampOrNow(r.UpdatedAt), r.ID)
	if err != nil {
		return mapErr(err, "update rule")
	}
	return checkAffected(res)
}

func (s *PostgresStore) DeleteRule(id string) error {
	res, err := s.db.Exec("DELETE FROM notification_rules WHERE id = $1", id)
	if err != nil {
		return mapErr(err, "delete rule")
	}
	return checkAffected(res)
}

type templateRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Type      string         `db:"type"`
	Subject   string         `db:"subject"`
	Body      string         `db:"body"`
	Channels  pq.StringArray `db:"channels"`
	Active    bool           `db:"active"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r templateRow) model() models.NotificationTemplate {
	return models.NotificationTemplate{
		ID:        r.ID,
		Name:      r.Name,
		Type:      models.NotificationType(r.Type),
		Subject:   r.Subject,
		Body:      r.Body,
		Channels:  fromStrings(r.Channels),
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *PostgresStore) SaveTemplate(t models.NotificationTemplate) error {
	_, err := s.db.Exec(`
		INSERT INTO notification_templates (id, name, type, subject, body, channels, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Type, t.Subject, t.Body, toStrings(t.Channels), t.Active,
		timestampOrNow(t.CreatedAt), timestampOrNow(t.UpdatedAt))
	return mapErr(err, "save template")
}

func (s *PostgresStore) GetTemplate(id string) (models.NotificationTemplate, error) {
	var row templateRow
	if err := s.db.Get(&row, "SELECT * FROM notification_templates WHERE id = $1", id); err != nil {
		return models.NotificationTemplate{}, mapErr(err, "get template")
	}
	return row.model(), nil
}

func (s *PostgresStore) ListTemplates() ([]models.NotificationTemplate, error) {
	var rows []templateRow
	if err := s.db.Select(&rows, "SELECT * FROM notification_templates ORDER BY id"); err != nil {
		return nil, err
	}
	templates := make([]models.NotificationTemplate, len(rows))
	for i, row := range rows {
		templates[i] = row.model()
	}
	return templates, nil
}

func (s *PostgresStore) UpdateTemplate(t models.NotificationTemplate) error {
	res, err := s.db.Exec(`
		UPDATE notification_templates
		SET name = $1, type = $2, subject = $3, body = $4, channels = $5, active = $6, updated_at = $7
		WHERE id = $8`,
		t.Name, t.Type, t.Subject, t.Body, toStrings(t.Channels), t.Active, timestampOrNow(t.UpdatedAt), t.ID)
	if err != nil {
		return mapErr(err, "update template")
	}
	return checkAffected(res)
}

func (s *PostgresStore) DeleteTemplate(id string) error {
	res, err := s.db.Exec("DELETE FROM notification_templates WHERE id = $1", id)
	if err != nil {
		return mapErr(err, "delete template")
	}
	return checkAffected(res)
}

type notificationRow struct {
	ID             string         `db:"id"`
	RuleID         string         `db:"rule_id"`
	RuleType       string         `db:"rule_type"`
	EntityID       string         `db:"entity_id"`
	TriggerDate    time.Time      `db:"trigger_date"`
	DedupKey       string         `db:"dedup_key"`
	Title          string         `db:"title"`
	RecipientName  string         `db:"recipient_name"`
	RecipientPhone string         `db:"recipient_phone"`
	RecipientEmail string         `db:"recipient_email"`
	ScheduledAt    time.Time      `db:"scheduled_at"`
	Channels       pq.StringArray `db:"channels"`
	Status         string         `db:"status"`
	Subject        string         `db:"subject"`
	Message        string         `db:"message"`
	Recurrence     string         `db:"recurrence"`
	Delivered      pq.StringArray `db:"delivered_channels"`
	ErrorMsg       string         `db:"error_msg"`
	SentAt         *time.Time     `db:"sent_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r notificationRow) model() models.ScheduledNotification {
	return models.ScheduledNotification{
		ID:          r.ID,
		RuleID:      r.RuleID,
		RuleType:    models.NotificationType(r.RuleType),
		EntityID:    r.EntityID,
		TriggerDate: models.DateOnly(r.TriggerDate),
		DedupKey:    r.DedupKey,
		Title:       r.Title,
		Recipient:   models.Recipient{Name: r.RecipientName, Phone: r.RecipientPhone, Email: r.RecipientEmail},
		ScheduledAt: r.ScheduledAt,
		Channels:    fromStrings(r.Channels),
		Status:      models.NotificationStatus(r.Status),
		Subject:     r.Subject,
		Message:     r.Message,
		Recurrence:  models.Frequency(r.Recurrence),
		Delivered:   fromStrings(r.Delivered),
		Error:       r.ErrorMsg,
		SentAt:      r.SentAt,
		CreatedAt:   r.CreatedAt,
	}
}

// SaveNotification inserts n; a taken ID or dedup key yields storage.ErrAlreadyExists.
// The conflict is resolved with ON CONFLICT so the surrounding transaction
// stays usable for the remaining notifications of a batch.
func (s *PostgresStore) SaveNotification(n models.ScheduledNotification) error {
	res, err := s.db.Exec(`
		INSERT INTO scheduled_notifications (id, rule_id, rule_type, entity_id, trigger_date, dedup_key, title,
		    recipient_name, recipient_phone, recipient_email, scheduled_at, channels, status, subject, message,
		    recurrence, delivered_channels, error_msg, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT DO NOTHING`,
		n.ID, n.RuleID, n.RuleType, n.EntityID, n.TriggerDate, n.DedupKey, n.Title,
		n.Recipient.Name, n.Recipient.Phone, n.Recipient.Email, n.ScheduledAt, toStrings(n.Channels), n.Status,
		n.Subject, n.Message, n.Recurrence, toStrings(n.Delivered), n.Error, n.SentAt, timestampOrNow(n.CreatedAt))
	if err != nil {
		return mapErr(err, "save notification")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return errors.Wrapf(storage.ErrAlreadyExists, "notification %s", n.DedupKey)
	}
	return nil
}

func (s *PostgresStore) GetNotification(id string) (models.ScheduledNotification, error) {
	var row notificationRow
	if err := s.db.Get(&row, "SELECT * FROM scheduled_notifications WHERE id = $1", id); err != nil {
		return models.ScheduledNotification{}, mapErr(err, "get notification")
	}
	return row.model(), nil
}

func (s *PostgresStore) ListNotifications(filter storage.NotificationFilter) ([]models.ScheduledNotification, error) {
	var rows []notificationRow
	err := s.db.Select(&rows, `
		SELECT * FROM scheduled_notifications
		WHERE ($1::TEXT = '' OR status = $1)
		  AND ($2::TIMESTAMPTZ IS NULL OR scheduled_at <= $2)
		  AND ($3::TEXT = '' OR rule_id = $3)
		ORDER BY scheduled_at, id`,
		string(filter.Status), filter.DueBefore, filter.RuleID)
	if err != nil {
		return nil, err
	}
	list := make([]models.ScheduledNotification, len(rows))
	for i, row := range rows {
		list[i] = row.model()
	}
	return list, nil
}

// UpdateNotification rewrites the delivery state of n. The dedup key never changes.
func (s *PostgresStore) UpdateNotification(n models.ScheduledNotification) error {
	res, err := s.db.Exec(`
		UPDATE scheduled_notifications
		SET title = $1, recipient_name = $2, recipient_phone = $3, recipient_email = $4, scheduled_at = $5,
		    channels = $6, status = $7, subject = $8, message = $9, delivered_channels = $10, error_msg = $11,
		    sent_at = $12
		WHERE id = $13`,
		n.Title, n.Recipient.Name, n.Recipient.Phone, n.Recipient.Email, n.ScheduledAt,
		toStrings(n.Channels), n.Status, n.Subject, n.Message, toStrings(n.Delivered), n.Error, n.SentAt, n.ID)
	if err != nil {
		return mapErr(err, "update notification")
	}
	return checkAffected(res)
}

func (s *PostgresStore) SaveMember(m models.Member) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO members (first_name, last_name, email, phone, birthday, anniversary_date, join_date,
		                     first_visit_date, branch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		m.FirstName, m.LastName, m.Email, m.Phone, m.Birthday, m.AnniversaryDate, m.JoinDate,
		m.FirstVisitDate, m.BranchID).Scan(&id)
	if err != nil {
		return 0, mapErr(err, "save member")
	}
	return id, nil
}

func (s *PostgresStore) GetMember(id int64) (models.Member, error) {
	var m models.Member
	if err := s.db.Get(&m, "SELECT * FROM members WHERE id = $1", id); err != nil {
		return models.Member{}, mapErr(err, "get member")
	}
	return m, nil
}

func (s *PostgresStore) ListMembers() ([]models.Member, error) {
	members := []models.Member{}
	if err := s.db.Select(&members, "SELECT * FROM members ORDER BY id"); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *PostgresStore) SaveEvent(e models.Event) (int64, error) {
	var id int64
	err := s.db.QueryRowx("INSERT INTO events (name, event_date, location) VALUES ($1, $2, $3) RETURNING id",
		e.Name, e.Date, e.Location).Scan(&id)
	if err != nil {
		return 0, mapErr(err, "save event")
	}
	for _, memberID := range e.Attendees {
		if _, err := s.db.Exec("INSERT INTO event_attendees (event_id, member_id) VALUES ($1, $2)", id, memberID); err != nil {
			return 0, mapErr(err, fmt.Sprintf("add attendee %d to event %d", memberID, id))
		}
	}
	return id, nil
}

func (s *PostgresStore) ListEvents() ([]models.Event, error) {
	events := []models.Event{}
	if err := s.db.Select(&events, "SELECT id, name, event_date, location FROM events ORDER BY id"); err != nil {
		return nil, err
	}
	var attendees []struct {
		EventID  int64 `db:"event_id"`
		MemberID int64 `db:"member_id"`
	}
	if err := s.db.Select(&attendees, "SELECT event_id, member_id FROM event_attendees ORDER BY event_id, member_id"); err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(events))
	for i, e := range events {
		index[e.ID] = i
	}
	for _, a := range attendees {
		if i, ok := index[a.EventID]; ok {
			events[i].Attendees = append(events[i].Attendees, a.MemberID)
		}
	}
	return events, nil
}
