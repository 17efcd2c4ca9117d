package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	internal_http "github.com/ignatij/steward/internal/http"
	"github.com/ignatij/steward/pkg/delivery"
	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	mu  sync.Mutex
	now time.Time
}

func (s *testServer) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *testServer) setNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func newServer(t *testing.T) *testServer {
	store := storage.NewMemoryStore()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ts := &testServer{now: start}
	opts := []service.Option{service.WithClock(ts.clock), service.WithLocation(time.UTC)}
	handler := internal_http.NewHandler(internal_http.Services{
		Workflows:     service.NewWorkflowService(store, logger, opts...),
		Tasks:         service.NewTaskService(store, logger, opts...),
		Notifications: service.NewNotificationService(store, delivery.NewLogSender(logger), logger, opts...),
		Directory:     service.NewDirectoryService(store, logger),
		Records:       service.NewMemoryRecords(logger),
		Location:      time.UTC,
		Now:           ts.clock,
	}, logger)
	ts.Server = httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

// do sends body as JSON and decodes the response into out when out is non-nil.
func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func onboarding() map[string]interface{} {
	return map[string]interface{}{
		"name":          "New Member Onboarding",
		"trigger_event": "member_registered",
		"steps": []map[string]interface{}{
			{"title": "Welcome call", "assigned_to_role": "Pastor", "days_to_complete": 1, "required": true},
			{"title": "Home visit", "assigned_to_role": "Deacon", "days_to_complete": 7},
		},
	}
}

func TestE2EServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		srv := newServer(t)
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "Steward server is running", string(body))
	})

	t.Run("CreateWorkflow", func(t *testing.T) {
		srv := newServer(t)
		req, err := http.NewRequest("POST", srv.URL+"/workflows", bytes.NewBufferString(
			`{"name": "Care visit", "steps": [{"title": "Visit", "assigned_to_role": "Deacon"}]}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"id":1,"message":"Created workflow 'Care visit' with ID 1"}`+"\n", string(body))
	})

	t.Run("CreateWorkflowMissingName", func(t *testing.T) {
		srv := newServer(t)
		input := onboarding()
		input["name"] = "  "
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/workflows", input, &body))
		assert.Equal(t, "name", body.Field)
	})

	t.Run("CreateWorkflowInvalidJSON", func(t *testing.T) {
		srv := newServer(t)
		resp, err := srv.Client().Post(srv.URL+"/workflows", "application/json", bytes.NewBufferString(`{"name":`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ListEmptyWorkflows", func(t *testing.T) {
		srv := newServer(t)
		resp, err := srv.Client().Get(srv.URL + "/workflows")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "[]\n", string(body))
	})

	t.Run("GetNonExistingWorkflow", func(t *testing.T) {
		srv := newServer(t)
		assert.Equal(t, http.StatusNotFound, srv.do(t, "GET", "/workflows/42", nil, nil))
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "GET", "/workflows/abc", nil, nil))
	})

	t.Run("WorkflowLifecycle", func(t *testing.T) {
		srv := newServer(t)
		var created struct {
			ID int64 `json:"id"`
		}
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/workflows", onboarding(), &created))
		base := fmt.Sprintf("/workflows/%d", created.ID)

		var tasksErr errorBody
		assert.Equal(t, http.StatusConflict, srv.do(t, "POST", base+"/trigger", map[string]string{}, &tasksErr), "draft workflows cannot be triggered")

		var wf models.WorkflowDefinition
		require.Equal(t, http.StatusOK, srv.do(t, "PUT", base+"/status", map[string]interface{}{"status": "ACTIVE", "version": 1}, &wf))
		assert.Equal(t, models.ActiveWorkflowStatus, wf.Status)
		assert.Equal(t, 2, wf.Version)

		assert.Equal(t, http.StatusConflict, srv.do(t, "PUT", base+"/status", map[string]interface{}{"status": "PAUSED", "version": 1}, nil), "stale version")

		require.Equal(t, http.StatusOK, srv.do(t, "POST", base+"/steps", map[string]interface{}{
			"title": "Membership class", "assigned_to_role": "Instructor", "days_to_complete": 14,
		}, &wf))
		require.Len(t, wf.Steps, 3)
		assert.Equal(t, 3, wf.Steps[2].ID)

		require.Equal(t, http.StatusOK, srv.do(t, "POST", base+"/steps/3/move", map[string]string{"direction": "up"}, &wf))
		assert.Equal(t, []int{1, 3, 2}, []int{wf.Steps[0].ID, wf.Steps[1].ID, wf.Steps[2].ID})

		require.Equal(t, http.StatusOK, srv.do(t, "DELETE", base+"/steps/2", nil, &wf))
		assert.Len(t, wf.Steps, 2)

		var tasks []models.Task
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", base+"/trigger", map[string]interface{}{
			"assign_to": map[string]string{"Pastor": "Pastor John"},
		}, &tasks))
		require.Len(t, tasks, 2)
		assert.Equal(t, "Pastor John", tasks[0].AssignedTo)
		assert.Equal(t, "Instructor", tasks[1].AssignedTo)

		var views []models.TaskView
		require.Equal(t, http.StatusOK, srv.do(t, "GET", fmt.Sprintf("/tasks?workflow_id=%d", created.ID), nil, &views))
		assert.Len(t, views, 2)
	})

	t.Run("TriggerEvent", func(t *testing.T) {
		srv := newServer(t)
		var created struct {
			ID int64 `json:"id"`
		}
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/workflows", onboarding(), &created))
		require.Equal(t, http.StatusOK, srv.do(t, "PUT", fmt.Sprintf("/workflows/%d/status", created.ID), map[string]string{"status": "ACTIVE"}, nil))

		var tasks []models.Task
		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/triggers/member_registered", map[string]string{}, &tasks))
		assert.Len(t, tasks, 2)
		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/triggers/unknown_event", map[string]string{}, &tasks))
		assert.Empty(t, tasks)
	})

	t.Run("TaskStateMachine", func(t *testing.T) {
		srv := newServer(t)
		var task models.Task
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/tasks", map[string]interface{}{
			"title": "Prepare welcome pack", "assigned_to": "Secretary", "due_date": start.AddDate(0, 0, 2),
		}, &task))
		assert.Equal(t, models.PendingTaskStatus, task.Status)
		assert.Equal(t, models.MediumTaskPriority, task.Priority)
		base := fmt.Sprintf("/tasks/%d", task.ID)

		var body errorBody
		assert.Equal(t, http.StatusConflict, srv.do(t, "POST", base+"/advance", map[string]string{"status": "COMPLETED"}, &body))
		assert.Contains(t, body.Error, "PENDING")

		require.Equal(t, http.StatusOK, srv.do(t, "POST", base+"/advance", map[string]string{"status": "IN_PROGRESS"}, &task))
		assert.Equal(t, models.InProgressTaskStatus, task.Status)

		require.Equal(t, http.StatusOK, srv.do(t, "POST", base+"/assign", map[string]string{"assigned_to": "Deacon Paul"}, &task))
		assert.Equal(t, "Deacon Paul", task.AssignedTo)

		require.Equal(t, http.StatusOK, srv.do(t, "POST", base+"/progress", map[string]int{"progress": 100}, &task))
		assert.Equal(t, models.CompletedTaskStatus, task.Status)
		assert.Equal(t, 100, task.Progress)

		assert.Equal(t, http.StatusConflict, srv.do(t, "POST", base+"/progress", map[string]int{"progress": 50}, nil))
		assert.Equal(t, http.StatusNotFound, srv.do(t, "GET", "/tasks/999", nil, nil))
	})

	t.Run("CreateTaskValidation", func(t *testing.T) {
		srv := newServer(t)
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/tasks", map[string]interface{}{
			"title": "Late", "assigned_to": "Secretary", "due_date": start.AddDate(0, 0, -1),
		}, &body))
		assert.Equal(t, "due_date", body.Field)
	})

	t.Run("OverdueIsDerived", func(t *testing.T) {
		srv := newServer(t)
		var task models.TaskView
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/tasks", map[string]interface{}{
			"title": "Call visitor", "assigned_to": "Usher", "due_date": start,
		}, &task))
		assert.Equal(t, models.PendingTaskStatus, task.EffectiveStatus, "created tasks carry their derived status")

		var view models.TaskView
		require.Equal(t, http.StatusOK, srv.do(t, "GET", fmt.Sprintf("/tasks/%d", task.ID), nil, &view))
		assert.False(t, view.Overdue)

		srv.setNow(start.AddDate(0, 0, 1))
		require.Equal(t, http.StatusOK, srv.do(t, "GET", fmt.Sprintf("/tasks/%d", task.ID), nil, &view))
		assert.True(t, view.Overdue)
		assert.Equal(t, models.OverdueTaskStatus, view.EffectiveStatus)
		assert.Equal(t, models.PendingTaskStatus, view.Status)

		var overdue []models.TaskView
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/tasks?status=overdue", nil, &overdue))
		assert.Len(t, overdue, 1)

		var reassigned models.TaskView
		require.Equal(t, http.StatusOK, srv.do(t, "POST", fmt.Sprintf("/tasks/%d/assign", task.ID), map[string]string{"assigned_to": "Deacon Paul"}, &reassigned))
		assert.Equal(t, models.OverdueTaskStatus, reassigned.EffectiveStatus)
		assert.True(t, reassigned.Overdue)
	})

	t.Run("Notifications", func(t *testing.T) {
		srv := newServer(t)
		var member models.Member
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/members", map[string]interface{}{
			"first_name": "Ada", "last_name": "Obi", "phone": "+2348000000000", "birthday": "1990-05-04T00:00:00Z",
		}, &member))

		var tmpl models.NotificationTemplate
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/templates", map[string]interface{}{
			"id": "birthday-sms", "name": "Birthday SMS", "type": "BIRTHDAY", "active": true,
			"body": "Happy Birthday, {first_name}!", "channels": []string{"SMS"},
		}, &tmpl))

		var rule models.NotificationRule
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/rules", map[string]interface{}{
			"id": "birthdays", "name": "Birthday wishes", "type": "BIRTHDAY", "enabled": true,
			"channels": []string{"SMS"}, "template_id": "birthday-sms",
		}, &rule))

		var created []models.ScheduledNotification
		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/notifications/schedule?date=2024-05-04", nil, &created))
		require.Len(t, created, 1)
		assert.Equal(t, "Happy Birthday, Ada!", created[0].Message)

		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/notifications/schedule?date=2024-05-04", nil, &created))
		assert.Empty(t, created, "scheduling the same day twice adds nothing")

		var report service.DispatchReport
		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/notifications/dispatch", nil, &report))
		require.Len(t, report.Sent, 1)

		var list []models.ScheduledNotification
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/notifications?status=sent", nil, &list))
		require.Len(t, list, 1)

		var body errorBody
		assert.Equal(t, http.StatusConflict, srv.do(t, "POST", "/notifications/"+list[0].ID+"/cancel", nil, &body))
		assert.Equal(t, http.StatusNotFound, srv.do(t, "POST", "/notifications/missing/send", nil, nil))
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/notifications/schedule?date=May-4", nil, nil))
	})

	t.Run("Rules", func(t *testing.T) {
		srv := newServer(t)
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/rules", map[string]interface{}{
			"name": "No channels", "type": "BIRTHDAY", "enabled": true,
		}, &body))
		assert.Equal(t, "channels", body.Field)

		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/rules", map[string]interface{}{
			"id": "visits", "name": "Visitor follow-up", "type": "FOLLOW_UP", "enabled": true,
			"offset_days": []int{2}, "channels": []string{"EMAIL"},
		}, nil))
		assert.Equal(t, http.StatusNoContent, srv.do(t, "PUT", "/rules/visits/enabled", map[string]bool{"enabled": false}, nil))

		var rules []models.NotificationRule
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/rules", nil, &rules))
		require.Len(t, rules, 1)
		assert.False(t, rules[0].Enabled)

		assert.Equal(t, http.StatusNoContent, srv.do(t, "DELETE", "/rules/visits", nil, nil))
		assert.Equal(t, http.StatusNotFound, srv.do(t, "DELETE", "/rules/visits", nil, nil))
	})

	t.Run("PreviewTemplate", func(t *testing.T) {
		srv := newServer(t)
		var preview struct {
			Rendered   string   `json:"rendered"`
			Unresolved []string `json:"unresolved"`
		}
		require.Equal(t, http.StatusOK, srv.do(t, "POST", "/templates/preview", map[string]interface{}{
			"body":      "Hello {first_name}, greetings from {church_name}",
			"variables": map[string]string{"first_name": "Ada"},
		}, &preview))
		assert.Equal(t, "Hello Ada, greetings from {church_name}", preview.Rendered)
		assert.Equal(t, []string{"church_name"}, preview.Unresolved)

		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/templates/preview", map[string]string{"body": "Hello {first_name"}, nil))
	})

	t.Run("Events", func(t *testing.T) {
		srv := newServer(t)
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/events", map[string]interface{}{
			"name": "Picnic", "date": start.AddDate(0, 0, 7), "attendees": []int64{9},
		}, &body))
		assert.Equal(t, "attendees", body.Field)

		var events []models.Event
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/events", nil, &events))
		assert.Empty(t, events)
	})

	t.Run("Records", func(t *testing.T) {
		srv := newServer(t)
		var donations []models.Donation
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/donations", nil, &donations))
		assert.Empty(t, donations)

		var body errorBody
		assert.Equal(t, http.StatusBadRequest, srv.do(t, "POST", "/donations", map[string]interface{}{
			"amount": 0, "fund": "Tithe",
		}, &body))
		assert.Equal(t, "amount", body.Field)

		var created models.Donation
		require.Equal(t, http.StatusCreated, srv.do(t, "POST", "/donations", map[string]interface{}{
			"amount": 50, "fund": "Tithe", "date": start,
		}, &created))
		assert.Equal(t, int64(1), created.ID)

		var updated models.Donation
		require.Equal(t, http.StatusOK, srv.do(t, "PUT", "/donations/1", map[string]interface{}{
			"amount": 75, "fund": "Building", "date": start,
		}, &updated))
		assert.Equal(t, int64(1), updated.ID)

		var got models.Donation
		require.Equal(t, http.StatusOK, srv.do(t, "GET", "/donations/1", nil, &got))
		assert.Equal(t, 75.0, got.Amount)
		assert.Equal(t, "Building", got.Fund)

		assert.Equal(t, http.StatusNoContent, srv.do(t, "DELETE", "/donations/1", nil, nil))
		assert.Equal(t, http.StatusNotFound, srv.do(t, "GET", "/donations/1", nil, &body))
		assert.Equal(t, http.StatusNotFound, srv.do(t, "PUT", "/branches/3", map[string]interface{}{"name": "North"}, &body))
	})
}
