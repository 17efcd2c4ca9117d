package http

import (
	"net/http"

	"github.com/ignatij/steward/pkg/models"
)

func (s *server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.Directory.ListMembers()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []models.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *server) addMember(w http.ResponseWriter, r *http.Request) {
	var m models.Member
	if !decode(w, r, &m) {
		return
	}
	created, err := s.Directory.AddMember(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.Directory.ListEvents()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *server) addEvent(w http.ResponseWriter, r *http.Request) {
	var e models.Event
	if !decode(w, r, &e) {
		return
	}
	created, err := s.Directory.AddEvent(r.Context(), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
