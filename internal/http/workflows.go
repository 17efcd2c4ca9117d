package http

import (
	"net/http"
	"strconv"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/service"
)

type statusRequest struct {
	Status  string `json:"status"`
	Version int    `json:"version,omitempty"`
}

type stepRequest struct {
	models.Step
	Version int `json:"version,omitempty"`
}

type moveRequest struct {
	Direction service.Direction `json:"direction"`
	Version   int               `json:"version,omitempty"`
}

type createdResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

func (s *server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.Workflows.ListWorkflows()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if workflows == nil {
		workflows = []models.WorkflowDefinition{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

func (s *server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var input service.CreateWorkflowInput
	if !decode(w, r, &input) {
		return
	}
	id, err := s.Workflows.CreateWorkflow(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{
		ID:      id,
		Message: "Created workflow '" + input.Name + "' with ID " + strconv.FormatInt(id, 10),
	})
}

func (s *server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	wf, err := s.Workflows.GetWorkflow(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) updateWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	wf, err := s.Workflows.UpdateWorkflowStatus(r.Context(), id, req.Status, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) addStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req stepRequest
	if !decode(w, r, &req) {
		return
	}
	wf, err := s.Workflows.AddStep(r.Context(), id, req.Step, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) updateStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathInt64(w, r, "stepID")
	if !ok {
		return
	}
	var req stepRequest
	if !decode(w, r, &req) {
		return
	}
	req.Step.ID = int(stepID)
	wf, err := s.Workflows.UpdateStep(r.Context(), id, req.Step, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) removeStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathInt64(w, r, "stepID")
	if !ok {
		return
	}
	version, ok := queryVersion(w, r)
	if !ok {
		return
	}
	wf, err := s.Workflows.RemoveStep(r.Context(), id, int(stepID), version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) moveStep(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	stepID, ok := pathInt64(w, r, "stepID")
	if !ok {
		return
	}
	var req moveRequest
	if !decode(w, r, &req) {
		return
	}
	wf, err := s.Workflows.MoveStep(r.Context(), id, int(stepID), req.Direction, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *server) triggerWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var input service.TriggerInput
	if !decode(w, r, &input) {
		return
	}
	tasks, err := s.Workflows.TriggerWorkflow(r.Context(), id, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tasks)
}

func (s *server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var input service.TriggerInput
	if !decode(w, r, &input) {
		return
	}
	tasks, err := s.Workflows.HandleTriggerEvent(r.Context(), r.PathValue("event"), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}
