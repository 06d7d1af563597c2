package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

type startEscalationResponse struct {
	SessionID domain.SessionID        `json:"session_id"`
	Status    domain.SessionStatus    `json:"status"`
	Steps     []domain.EscalationStep `json:"steps"`
	StreamURL string                  `json:"stream_url"`
}

type escalationTypesResponse struct {
	Types []string `json:"types"`
}

func (s *Server) handleStartEscalation(w http.ResponseWriter, r *http.Request) {
	var facts domain.CaseFacts
	if err := decodeJSON(w, r, &facts); err != nil {
		badRequest(w, r, "invalid JSON body")
		return
	}

	c, snap, err := s.deps.Escalation.Start(r.Context(), facts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startEscalationResponse{
		SessionID: c.ID(),
		Status:    snap.Status,
		Steps:     snap.Steps,
		StreamURL: "/api/escalations/" + string(c.ID()) + "/stream",
	})
}

func (s *Server) handleEscalationTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, escalationTypesResponse{Types: s.deps.Escalation.Catalog().Types()})
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Escalation.Get(sessionIDParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleCancelEscalation(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Escalation.Cancel(r.Context(), sessionIDParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// resumePoint reads Last-Event-ID (set by EventSource on reconnect) or ?after=.
func resumePoint(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// handleEscalationStream serves server-sent events: one "id: <seq>" line and
// one "data: <json>" line per event. The stream ends after session_completed.
func (s *Server) handleEscalationStream(w http.ResponseWriter, r *http.Request) {
	id := sessionIDParam(r)
	after, err := resumePoint(r)
	if err != nil {
		badRequest(w, r, "Last-Event-ID must be a sequence number")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorCode(w, r, http.StatusInternalServerError, domain.CodeInternal, "streaming not supported")
		return
	}

	ctx := observability.WithSessionID(r.Context(), id)
	sub, err := s.deps.Escalation.Subscribe(ctx, id, after)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.deps.Escalation.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := observability.LoggerFromContext(ctx)
	keepAlive := time.NewTicker(s.opts.SSEKeepAlive)
	defer keepAlive.Stop()

	send := func(ev domain.EscalationEvent) bool {
		if err := writeSSE(w, ev); err != nil {
			log.Warn("sse write failed", "error", err)
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case ev := <-sub.Events():
			if !send(ev) {
				return
			}
		case <-sub.Done():
		drain:
			for {
				select {
				case ev := <-sub.Events():
					if !send(ev) {
						return
					}
				default:
					break drain
				}
			}
			if err := sub.Err(); err != nil {
				fmt.Fprintf(w, "event: error\ndata: {\"code\":%q,\"message\":%q}\n\n", domain.CodeQueueFull, err.Error())
				flusher.Flush()
			}
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev domain.EscalationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data)
	return err
}
