package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
)

type progressRequest struct {
	Progress int `json:"progress"`
	Version  int `json:"version,omitempty"`
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
	Version    int    `json:"version,omitempty"`
}

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TaskFilter{
		AssignedTo: q.Get("assigned_to"),
		Status:     models.TaskStatus(strings.ToUpper(q.Get("status"))),
	}
	for name, dst := range map[string]**int64{"workflow_id": &filter.WorkflowID, "member_id": &filter.MemberID} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "Invalid %s: %q", name, raw)
			return
		}
		*dst = &id
	}
	tasks, err := s.Tasks.ListTasks(filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *server) createTask(w http.ResponseWriter, r *http.Request) {
	var input service.CreateTaskInput
	if !decode(w, r, &input) {
		return
	}
	task, err := s.Tasks.CreateTask(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.NewTaskView(task, s.Now()))
}

func (s *server) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	task, err := s.Tasks.GetTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *server) advanceTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Tasks.AdvanceTask(r.Context(), id, req.Status, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewTaskView(task, s.Now()))
}

func (s *server) updateProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req progressRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Tasks.UpdateProgress(r.Context(), id, req.Progress, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewTaskView(task, s.Now()))
}

func (s *server) reassignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	task, err := s.Tasks.Reassign(r.Context(), id, req.AssignedTo, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewTaskView(task, s.Now()))
}
