package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Services bundles what the API exposes.
type Services struct {
	Workflows     *service.WorkflowService
	Tasks         *service.TaskService
	Notifications *service.NotificationService
	Directory     *service.DirectoryService
	Records       service.Records
	Location      *time.Location   // Calendar used for ?date= parameters
	Now           func() time.Time // Defaults to time.Now
}

type server struct {
	Services
	logger logrus.FieldLogger
}

func StartServer(port string, svcs Services, logger logrus.FieldLogger) error {
	logger.Infof("Starting Steward server on :%s", port)
	return http.ListenAndServe(":"+port, NewHandler(svcs, logger))
}

// NewHandler routes the JSON API.
func NewHandler(svcs Services, logger logrus.FieldLogger) http.Handler {
	if svcs.Location == nil {
		svcs.Location = time.Local
	}
	if svcs.Now == nil {
		svcs.Now = time.Now
	}
	s := &server{Services: svcs, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)

	mux.HandleFunc("GET /workflows", s.listWorkflows)
	mux.HandleFunc("POST /workflows", s.createWorkflow)
	mux.HandleFunc("GET /workflows/{id}", s.getWorkflow)
	mux.HandleFunc("PUT /workflows/{id}/status", s.updateWorkflowStatus)
	mux.HandleFunc("POST /workflows/{id}/steps", s.addStep)
	mux.HandleFunc("PUT /workflows/{id}/steps/{stepID}", s.updateStep)
	mux.HandleFunc("DELETE /workflows/{id}/steps/{stepID}", s.removeStep)
	mux.HandleFunc("POST /workflows/{id}/steps/{stepID}/move", s.moveStep)
	mux.HandleFunc("POST /workflows/{id}/trigger", s.triggerWorkflow)
	mux.HandleFunc("POST /triggers/{event}", s.handleTriggerEvent)

	mux.HandleFunc("GET /tasks", s.listTasks)
	mux.HandleFunc("POST /tasks", s.createTask)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("POST /tasks/{id}/advance", s.advanceTask)
	mux.HandleFunc("POST /tasks/{id}/progress", s.updateProgress)
	mux.HandleFunc("POST /tasks/{id}/assign", s.reassignTask)

	mux.HandleFunc("GET /rules", s.listRules)
	mux.HandleFunc("POST /rules", s.createRule)
	mux.HandleFunc("PUT /rules/{id}", s.updateRule)
	mux.HandleFunc("PUT /rules/{id}/enabled", s.setRuleEnabled)
	mux.HandleFunc("DELETE /rules/{id}", s.deleteRule)
	mux.HandleFunc("GET /templates", s.listTemplates)
	mux.HandleFunc("POST /templates", s.createTemplate)
	mux.HandleFunc("PUT /templates/{id}", s.updateTemplate)
	mux.HandleFunc("DELETE /templates/{id}", s.deleteTemplate)
	mux.HandleFunc("POST /templates/preview", s.previewTemplate)

	mux.HandleFunc("GET /notifications", s.listNotifications)
	mux.HandleFunc("POST /notifications/schedule", s.scheduleNotifications)
	mux.HandleFunc("POST /notifications/dispatch", s.dispatchNotifications)
	mux.HandleFunc("POST /notifications/{id}/send", s.sendNotification)
	mux.HandleFunc("POST /notifications/{id}/cancel", s.cancelNotification)

	mux.HandleFunc("GET /members", s.listMembers)
	mux.HandleFunc("POST /members", s.addMember)
	mux.HandleFunc("GET /events", s.listEvents)
	mux.HandleFunc("POST /events", s.addEvent)

	handleRecords(mux, s, "/donations", svcs.Records.Donations)
	handleRecords(mux, s, "/expenses", svcs.Records.Expenses)
	handleRecords(mux, s, "/equipment", svcs.Records.Equipment)
	handleRecords(mux, s, "/certificates", svcs.Records.Certificates)
	handleRecords(mux, s, "/branches", svcs.Records.Branches)
	handleRecords(mux, s, "/remittances", svcs.Records.Remittances)
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Steward server is running")
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTransition),
		errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid JSON body: %v", err)
		return false
	}
	return true
}

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "Invalid %s: %q", name, r.PathValue(name))
		return 0, false
	}
	return id, true
}

// queryVersion reads the optional ?version= guard; 0 means current.
func queryVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(w, "Invalid version: %q", raw)
		return 0, false
	}
	return v, true
}

// day reads ?date=YYYY-MM-DD in the configured calendar, defaulting to now.
func (s *server) day(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.Now().In(s.Location), true
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, s.Location)
	if err != nil {
		badRequest(w, "Invalid date %q, expected YYYY-MM-DD", raw)
		return time.Time{}, false
	}
	return d, true
}
