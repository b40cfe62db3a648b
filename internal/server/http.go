package server

import (
	"encoding/json"
	"net/http"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/core/observability/log"
	"github.com/placenote/placenote/internal/core/protocol"
	"github.com/placenote/placenote/internal/core/storage"
)

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int64  `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.Sessions()})
}

// handleListMaps lists maps, optionally filtered by ?name= and ?userdata=.
func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	query := engine.SearchQuery{
		Name:     r.URL.Query().Get("name"),
		UserData: r.URL.Query().Get("userdata"),
	}

	places, err := storage.Search(r.Context(), s.store, query)
	if err != nil {
		status := http.StatusInternalServerError
		if codeFor(err) == protocol.CodeInvalid {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if places == nil {
		places = []engine.MapInfo{}
	}
	s.writeJSON(w, http.StatusOK, engine.MapList{Places: places})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", log.Error(err))
	}
}
