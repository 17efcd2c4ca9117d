package storage

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/pkg/errors"
)

// memoryState is the full dataset of a memoryStore. Transactions work on a copy
// and swap it in on Commit.
type memoryState struct {
	workflows     map[int64]models.WorkflowDefinition
	tasks         map[int64]models.Task
	rules         map[string]models.NotificationRule
	templates     map[string]models.NotificationTemplate
	notifications map[string]models.ScheduledNotification
	dedupKeys     map[string]string // dedup key -> notification id
	members       map[int64]models.Member
	events        map[int64]models.Event
	nextWorkflow  int64
	nextTask      int64
	nextMember    int64
	nextEvent     int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		workflows:     make(map[int64]models.WorkflowDefinition),
		tasks:         make(map[int64]models.Task),
		rules:         make(map[string]models.NotificationRule),
		templates:     make(map[string]models.NotificationTemplate),
		notifications: make(map[string]models.ScheduledNotification),
		dedupKeys:     make(map[string]string),
		members:       make(map[int64]models.Member),
		events:        make(map[int64]models.Event),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range s.workflows {
		c.workflows[k] = cloneWorkflow(v)
	}
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = cloneRule(v)
	}
	for k, v := range s.templates {
		v.Channels = slices.Clone(v.Channels)
		c.templates[k] = v
	}
	for k, v := range s.notifications {
		c.notifications[k] = cloneNotification(v)
	}
	for k, v := range s.dedupKeys {
		c.dedupKeys[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.events {
		v.Attendees = slices.Clone(v.Attendees)
		c.events[k] = v
	}
	c.nextWorkflow = s.nextWorkflow
	c.nextTask = s.nextTask
	c.nextMember = s.nextMember
	c.nextEvent = s.nextEvent
	return c
}

func cloneWorkflow(w models.WorkflowDefinition) models.WorkflowDefinition {
	w.Steps = slices.Clone(w.Steps)
	return w
}

func cloneNotification(n models.ScheduledNotification) models.ScheduledNotification {
	n.Channels = slices.Clone(n.Channels)
	n.Delivered = slices.Clone(n.Delivered)
	return n
}

func cloneRule(r models.NotificationRule) models.NotificationRule {
	r.OffsetDays = slices.Clone(r.OffsetDays)
	r.Milestones = slices.Clone(r.Milestones)
	r.Channels = slices.Clone(r.Channels)
	return r
}

// memoryStore implements Store in memory. The root store guards its state with
// a mutex; stores returned by Begin hold a private copy until Commit.
// Transactions are serialized: Begin blocks until the previous one finishes.
type memoryStore struct {
	mu     *sync.RWMutex
	txMu   *sync.Mutex  // held by the open transaction, root only
	root   *memoryStore // nil for the root store
	state  *memoryState
	isTx   bool
	closed bool // transaction finished
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{mu: &sync.RWMutex{}, txMu: &sync.Mutex{}, state: newMemoryState()}
}

func (m *memoryStore) Begin() (Store, error) {
	if m.isTx {
		return nil, errors.New("nested transactions are not supported")
	}
	m.txMu.Lock()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &memoryStore{mu: &sync.RWMutex{}, root: m, state: m.state.clone(), isTx: true}, nil
}

func (m *memoryStore) Commit() error {
	if !m.isTx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.closed {
		return ErrTxDone
	}
	m.closed = true
	m.root.mu.Lock()
	m.root.state = m.state
	m.root.mu.Unlock()
	m.root.txMu.Unlock()
	return nil
}

func (m *memoryStore) Rollback() error {
	if !m.isTx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.closed {
		return ErrTxDone
	}
	// Discarding the private copy is the rollback.
	m.closed = true
	m.root.txMu.Unlock()
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) read() (*memoryState, func(), error) {
	if m.closed {
		return nil, nil, ErrTxDone
	}
	m.mu.RLock()
	return m.state, m.mu.RUnlock, nil
}

func (m *memoryStore) write() (*memoryState, func(), error) {
	if m.closed {
		return nil, nil, ErrTxDone
	}
	m.mu.Lock()
	return m.state, m.mu.Unlock, nil
}

func (m *memoryStore) SaveWorkflow(w models.WorkflowDefinition) (int64, error) {
	s, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	s.nextWorkflow++
	w.ID = s.nextWorkflow
	if w.Version == 0 {
		w.Version = 1
	}
	s.workflows[w.ID] = cloneWorkflow(w)
	return w.ID, nil
}

func (m *memoryStore) GetWorkflow(id int64) (models.WorkflowDefinition, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.WorkflowDefinition{}, err
	}
	defer unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return models.WorkflowDefinition{}, ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

// ListWorkflows returns workflows newest first, like the PostgreSQL store.
func (m *memoryStore) ListWorkflows() ([]models.WorkflowDefinition, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	workflows := make([]models.WorkflowDefinition, 0, len(s.workflows))
	for _, wf := range s.workflows {
		workflows = append(workflows, cloneWorkflow(wf))
	}
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID > workflows[j].ID
		}
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
	return workflows, nil
}

func (m *memoryStore) UpdateWorkflow(w models.WorkflowDefinition, expectedVersion int) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	existing, ok := s.workflows[w.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	w.Version = expectedVersion + 1
	w.CreatedAt = existing.CreatedAt
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	s.workflows[w.ID] = cloneWorkflow(w)
	return nil
}

func (m *memoryStore) SaveTask(t models.Task) (int64, error) {
	s, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	if t.WorkflowID != nil {
		if _, ok := s.workflows[*t.WorkflowID]; !ok {
			return 0, errors.Wrapf(ErrNotFound, "workflow %d", *t.WorkflowID)
		}
	}
	s.nextTask++
	t.ID = s.nextTask
	if t.Version == 0 {
		t.Version = 1
	}
	s.tasks[t.ID] = t
	return t.ID, nil
}

func (m *memoryStore) GetTask(id int64) (models.Task, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.Task{}, err
	}
	defer unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

// ListTasks returns matching tasks ordered by due date, then ID.
func (m *memoryStore) ListTasks(filter TaskFilter) ([]models.Task, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	tasks := []models.Task{}
	for _, t := range s.tasks {
		if filter.Match(t) {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueDate.Equal(tasks[j].DueDate) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].DueDate.Before(tasks[j].DueDate)
	})
	return tasks, nil
}

func (m *memoryStore) UpdateTask(t models.Task, expectedVersion int) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	existing, ok := s.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	t.Version = expectedVersion + 1
	t.CreatedAt = existing.CreatedAt
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	s.tasks[t.ID] = t
	return nil
}

func (m *memoryStore) SaveRule(r models.NotificationRule) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.rules[r.ID]; ok {
		return errors.Wrapf(ErrAlreadyExists, "rule %s", r.ID)
	}
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *memoryStore) GetRule(id string) (models.NotificationRule, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.NotificationRule{}, err
	}
	defer unlock()
	r, ok := s.rules[id]
	if !ok {
		return models.NotificationRule{}, ErrNotFound
	}
	return cloneRule(r), nil
}

func (m *memoryStore) ListRules() ([]models.NotificationRule, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	rules := make([]models.NotificationRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, cloneRule(r))
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

func (m *memoryStore) UpdateRule(r models.NotificationRule) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ErrNotFound
	}
	s.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *memoryStore) DeleteRule(id string) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (m *memoryStore) SaveTemplate(t models.NotificationTemplate) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.templates[t.ID]; ok {
		return errors.Wrapf(ErrAlreadyExists, "template %s", t.ID)
	}
	t.Channels = slices.Clone(t.Channels)
	s.templates[t.ID] = t
	return nil
}

func (m *memoryStore) GetTemplate(id string) (models.NotificationTemplate, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.NotificationTemplate{}, err
	}
	defer unlock()
	t, ok := s.templates[id]
	if !ok {
		return models.NotificationTemplate{}, ErrNotFound
	}
	t.Channels = slices.Clone(t.Channels)
	return t, nil
}

func (m *memoryStore) ListTemplates() ([]models.NotificationTemplate, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	templates := make([]models.NotificationTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		t.Channels = slices.Clone(t.Channels)
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (m *memoryStore) UpdateTemplate(t models.NotificationTemplate) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return ErrNotFound
	}
	t.Channels = slices.Clone(t.Channels)
	s.templates[t.ID] = t
	return nil
}

func (m *memoryStore) DeleteTemplate(id string) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.templates[id]; !ok {
		return ErrNotFound
	}
	delete(s.templates, id)
	return nil
}

func (m *memoryStore) SaveNotification(n models.ScheduledNotification) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return errors.Wrapf(ErrAlreadyExists, "notification %s", n.ID)
	}
	if _, ok := s.dedupKeys[n.DedupKey]; ok {
		return errors.Wrapf(ErrAlreadyExists, "notification with key %s", n.DedupKey)
	}
	s.notifications[n.ID] = cloneNotification(n)
	s.dedupKeys[n.DedupKey] = n.ID
	return nil
}

func (m *memoryStore) GetNotification(id string) (models.ScheduledNotification, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.ScheduledNotification{}, err
	}
	defer unlock()
	n, ok := s.notifications[id]
	if !ok {
		return models.ScheduledNotification{}, ErrNotFound
	}
	return cloneNotification(n), nil
}

// ListNotifications returns matching notifications ordered by ScheduledAt, then ID.
func (m *memoryStore) ListNotifications(filter NotificationFilter) ([]models.ScheduledNotification, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	list := []models.ScheduledNotification{}
	for _, n := range s.notifications {
		if filter.Match(n) {
			list = append(list, cloneNotification(n))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ScheduledAt.Equal(list[j].ScheduledAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ScheduledAt.Before(list[j].ScheduledAt)
	})
	return list, nil
}

func (m *memoryStore) UpdateNotification(n models.ScheduledNotification) error {
	s, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	existing, ok := s.notifications[n.ID]
	if !ok {
		return ErrNotFound
	}
	// The dedup key identifies the notification and never changes.
	n.DedupKey = existing.DedupKey
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (m *memoryStore) SaveMember(mem models.Member) (int64, error) {
	s, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	s.nextMember++
	mem.ID = s.nextMember
	s.members[mem.ID] = mem
	return mem.ID, nil
}

func (m *memoryStore) GetMember(id int64) (models.Member, error) {
	s, unlock, err := m.read()
	if err != nil {
		return models.Member{}, err
	}
	defer unlock()
	mem, ok := s.members[id]
	if !ok {
		return models.Member{}, ErrNotFound
	}
	return mem, nil
}

func (m *memoryStore) ListMembers() ([]models.Member, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	members := make([]models.Member, 0, len(s.members))
	for _, mem := range s.members {
		members = append(members, mem)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

func (m *memoryStore) SaveEvent(e models.Event) (int64, error) {
	s, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	s.nextEvent++
	e.ID = s.nextEvent
	e.Attendees = slices.Clone(e.Attendees)
	s.events[e.ID] = e
	return e.ID, nil
}

func (m *memoryStore) ListEvents() ([]models.Event, error) {
	s, unlock, err := m.read()
	if err != nil {
		return nil, err
	}
	defer unlock()
	events := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		e.Attendees = slices.Clone(e.Attendees)
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}
