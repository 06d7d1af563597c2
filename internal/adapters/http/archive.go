package httpadapter

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PabloGalante/equalizer/internal/domain"
)

type archiveListResponse struct {
	Records []*domain.ArchiveRecord `json:"records"`
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := domain.SessionKind(q.Get("kind"))
	switch kind {
	case "", domain.KindNegotiation, domain.KindEscalation:
	default:
		badRequest(w, r, "kind must be negotiation or escalation")
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 500 {
			badRequest(w, r, "limit must be between 0 and 500")
			return
		}
		limit = n
	}

	recs, err := s.deps.Archive.List(r.Context(), kind, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archiveListResponse{Records: recs})
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Archive.Get(r.Context(), domain.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
