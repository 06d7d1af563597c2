package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/domain"
)

type createRoomRequest struct {
	Topic        string `json:"topic"`
	YourPosition string `json:"your_position,omitempty"`
}

type roomResponse struct {
	RoomID       domain.SessionID     `json:"room_id"`
	Topic        string               `json:"topic"`
	YourPosition string               `json:"your_position,omitempty"`
	Status       domain.SessionStatus `json:"status"`
	CreatedAt    time.Time            `json:"created_at"`
	WebsocketURL string               `json:"websocket_url"`
	Score        int                  `json:"negotiation_score"`
	Observers    int                  `json:"observers"`
}

type submitUtteranceRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type transcriptResponse struct {
	RoomID     domain.SessionID   `json:"room_id"`
	Transcript []domain.Utterance `json:"transcript"`
}

func (s *Server) toRoomResponse(room *negotiation.Room) roomResponse {
	return roomResponse{
		RoomID:       room.ID(),
		Topic:        room.Topic(),
		YourPosition: room.YourPosition(),
		Status:       room.Status(),
		CreatedAt:    room.CreatedAt(),
		WebsocketURL: s.websocketURL(room.ID()),
		Score:        room.Score(),
		Observers:    room.ObserverCount(),
	}
}

func (s *Server) websocketURL(id domain.SessionID) string {
	path := "/api/negotiation/rooms/" + string(id) + "/ws"
	if s.opts.PublicBaseURL == "" {
		return path
	}
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + path
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid JSON body")
		return
	}

	room, err := s.deps.Negotiation.CreateRoom(r.Context(), negotiation.CreateRoomInput{
		Topic:        req.Topic,
		YourPosition: req.YourPosition,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toRoomResponse(room))
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.deps.Negotiation.GetRoom(sessionIDParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toRoomResponse(room))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := sessionIDParam(r)
	transcript, err := s.deps.Negotiation.Transcript(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{RoomID: id, Transcript: transcript})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Negotiation.Summary(sessionIDParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleSubmitUtterance is the request/response twin of the websocket
// transcript message, for clients that cannot hold a socket open.
func (s *Server) handleSubmitUtterance(w http.ResponseWriter, r *http.Request) {
	var req submitUtteranceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid JSON body")
		return
	}
	speaker, ok := domain.ParseSpeaker(req.Speaker)
	if !ok {
		badRequest(w, r, "speaker must be \"them\" or \"host\"")
		return
	}

	u, err := s.deps.Negotiation.SubmitUtterance(r.Context(), negotiation.SubmitInput{
		RoomID:  sessionIDParam(r),
		Speaker: speaker,
		Text:    req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, u)
}

func (s *Server) handleEndRoom(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Negotiation.End(r.Context(), sessionIDParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
