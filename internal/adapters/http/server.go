package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/PabloGalante/equalizer/internal/app/archive"
	"github.com/PabloGalante/equalizer/internal/app/escalation"
	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/registry"
	"github.com/PabloGalante/equalizer/internal/domain"
)

// Options tune the transport. Zero values fall back to defaults.
type Options struct {
	// PublicBaseURL prefixes websocket_url, e.g. "wss://equalizer.example.com".
	PublicBaseURL     string
	AudioMIMEType     string
	TranscribeTimeout time.Duration
	// SSEKeepAlive is the interval of comment lines on idle streams.
	SSEKeepAlive time.Duration
}

// Deps are the application services the transport talks to.
type Deps struct {
	Registry    *registry.Registry
	Negotiation *negotiation.Service
	Escalation  *escalation.Service
	Archive     *archive.Service
	// Transcriber enables the audio message variant. May be nil.
	Transcriber domain.Transcriber
}

type Server struct {
	deps   Deps
	opts   Options
	router chi.Router
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.AudioMIMEType == "" {
		opts.AudioMIMEType = "audio/webm"
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = 30 * time.Second
	}
	if opts.SSEKeepAlive <= 0 {
		opts.SSEKeepAlive = 15 * time.Second
	}

	s := &Server{deps: deps, opts: opts}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(withRequestID)
	r.Use(withRecover)
	r.Use(withLogging)
	r.Use(withCORS)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, r, http.StatusNotFound, domain.CodeInvalidRequest, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, r, http.StatusMethodNotAllowed, domain.CodeInvalidRequest, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/negotiation/rooms", func(r chi.Router) {
			r.Post("/", s.handleCreateRoom)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRoom)
				r.Get("/transcript", s.handleTranscript)
				r.Get("/summary", s.handleSummary)
				r.Post("/utterances", s.handleSubmitUtterance)
				r.Post("/end", s.handleEndRoom)
				r.Get("/ws", s.handleRoomSocket)
			})
		})

		r.Route("/escalations", func(r chi.Router) {
			r.Post("/", s.handleStartEscalation)
			r.Get("/types", s.handleEscalationTypes)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEscalation)
				r.Post("/cancel", s.handleCancelEscalation)
				r.Get("/stream", s.handleEscalationStream)
			})
		})

		r.Get("/archive", s.handleListArchive)
		r.Get("/archive/{id}", s.handleGetArchive)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Registry.Stats(),
	})
}

func sessionIDParam(r *http.Request) domain.SessionID {
	return domain.SessionID(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}
