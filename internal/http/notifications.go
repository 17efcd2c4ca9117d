package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
	"github.com/ignatij/steward/pkg/storage"
)

type previewRequest struct {
	Body      string            `json:"body"`
	Variables map[string]string `json:"variables,omitempty"`
}

type previewResponse struct {
	Rendered   string   `json:"rendered"`
	Unresolved []string `json:"unresolved"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Notifications.ListRules()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []models.NotificationRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule models.NotificationRule
	if !decode(w, r, &rule) {
		return
	}
	created, err := s.Notifications.CreateRule(r.Context(), rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.NotificationRule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = r.PathValue("id")
	updated, err := s.Notifications.UpdateRule(r.Context(), rule)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		badRequest(w, "Missing 'enabled' field")
		return
	}
	if err := s.Notifications.SetRuleEnabled(r.Context(), r.PathValue("id"), *req.Enabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.Notifications.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.Notifications.ListTemplates()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if templates == nil {
		templates = []models.NotificationTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl models.NotificationTemplate
	if !decode(w, r, &tmpl) {
		return
	}
	created, err := s.Notifications.CreateTemplate(r.Context(), tmpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl models.NotificationTemplate
	if !decode(w, r, &tmpl) {
		return
	}
	tmpl.ID = r.PathValue("id")
	updated, err := s.Notifications.UpdateTemplate(r.Context(), tmpl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.Notifications.DeleteTemplate(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) previewTemplate(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	rendered, unresolved, err := s.Notifications.Preview(req.Body, req.Variables)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if unresolved == nil {
		unresolved = []string{}
	}
	writeJSON(w, http.StatusOK, previewResponse{Rendered: rendered, Unresolved: unresolved})
}

func (s *server) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.NotificationFilter{
		Status: models.NotificationStatus(strings.ToUpper(q.Get("status"))),
		RuleID: q.Get("rule_id"),
	}
	if raw := q.Get("due_before"); raw != "" {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "Invalid due_before %q, expected RFC 3339", raw)
			return
		}
		filter.DueBefore = &due
	}
	list, err := s.Notifications.ListNotifications(filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ScheduledNotification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) scheduleNotifications(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.day(w, r)
	if !ok {
		return
	}
	created, err := s.Notifications.Schedule(r.Context(), asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if created == nil {
		created = []models.ScheduledNotification{}
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *server) dispatchNotifications(w http.ResponseWriter, r *http.Request) {
	now := s.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "Invalid at %q, expected RFC 3339", raw)
			return
		}
		now = at
	}
	report, err := s.Notifications.DispatchDue(r.Context(), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) sendNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.Notifications.SendNow(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) cancelNotification(w http.ResponseWriter, r *http.Request) {
	n, err := s.Notifications.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}
