package http

import (
	"net/http"

	"github.com/ignatij/steward/pkg/service"
	"github.com/ignatij/steward/pkg/storage"
)

// handleRecords routes the CRUD endpoints of one flat record type under path.
func handleRecords[T storage.Record[T]](mux *http.ServeMux, s *server, path string, svc *service.RecordService[T]) {
	if svc == nil {
		return
	}
	mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.List()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	})
	mux.HandleFunc("POST "+path, func(w http.ResponseWriter, r *http.Request) {
		var item T
		if !decode(w, r, &item) {
			return
		}
		created, err := svc.Create(item)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})
	mux.HandleFunc("GET "+path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		item, err := svc.Get(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	})
	mux.HandleFunc("PUT "+path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		var item T
		if !decode(w, r, &item) {
			return
		}
		item = item.WithID(id)
		if err := svc.Update(item); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	})
	mux.HandleFunc("DELETE "+path+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathInt64(w, r, "id")
		if !ok {
			return
		}
		if err := svc.Delete(id); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
