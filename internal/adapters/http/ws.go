package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PabloGalante/equalizer/internal/app/negotiation"
	"github.com/PabloGalante/equalizer/internal/app/speech"
	"github.com/PabloGalante/equalizer/internal/domain"
	"github.com/PabloGalante/equalizer/internal/observability"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy lives in the CORS middleware
		return true
	},
}

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20 // audio chunks arrive base64 encoded
	wsSendBuffer     = 64
)

var errAudioDisabled = fmt.Errorf("%w: audio transcription is not configured", domain.ErrInvalidInput)

// roomConn is one websocket attached to a negotiation room as an observer.
type roomConn struct {
	ws       *websocket.Conn
	server   *Server
	observer *negotiation.Observer
	// recognizer is nil when no transcriber is configured.
	recognizer *speech.Recognizer

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// handleRoomSocket upgrades to a websocket, joins the room and pumps
// messages until either side goes away.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	id := sessionIDParam(r)
	room, err := s.deps.Negotiation.GetRoom(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if room.Status().Terminal() {
		writeError(w, r, domain.NewSessionError("connect", id, domain.ErrSessionClosed))
		return
	}

	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		observability.LoggerFromContext(r.Context()).Warn("ws upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(observability.WithSessionID(r.Context(), id))
	defer cancel()
	log := observability.LoggerFromContext(ctx)

	obs, err := s.deps.Negotiation.Join(ctx, id, domain.ParseRole(r.URL.Query().Get("role")))
	if err != nil {
		data, _ := json.Marshal(newErrorMessage("", err))
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = ws.WriteMessage(websocket.TextMessage, data)
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join failed"))
		_ = ws.Close()
		return
	}

	c := &roomConn{
		ws:       ws,
		server:   s,
		observer: obs,
		send:     make(chan []byte, wsSendBuffer),
		closed:   make(chan struct{}),
	}
	if s.deps.Transcriber != nil {
		c.recognizer = speech.NewRecognizer(s.deps.Transcriber, c.submitHeard, speech.Options{
			MIMEType: s.opts.AudioMIMEType,
			Timeout:  s.opts.TranscribeTimeout,
		})
	}

	log.Info("observer connected", "observer_id", obs.ID, "role", obs.Role)

	c.enqueue(connectedMessage{
		Type:         "connected",
		RoomID:       id,
		ObserverID:   obs.ID,
		Role:         obs.Role,
		Topic:        room.Topic(),
		YourPosition: room.YourPosition(),
	})
	c.enqueue(newHistory(obs.History, obs.Score))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.writePump() }()
	go func() { defer wg.Done(); c.forward() }()

	c.readPump(ctx)

	if c.recognizer != nil {
		c.recognizer.Abort()
	}
	s.deps.Negotiation.Leave(obs)
	c.shutdown()
	wg.Wait()

	log.Info("observer disconnected", "observer_id", obs.ID)
}

// enqueue blocks while the writer is busy and gives up once the connection is gone.
func (c *roomConn) enqueue(m serverMessage) bool {
	data, err := json.Marshal(m)
	if err != nil {
		observability.Logger().Error("encode ws message", "error", err)
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.closed:
		return false
	}
}

// finish asks the writer to close the socket after everything queued so far.
func (c *roomConn) finish() {
	select {
	case c.send <- nil:
	case <-c.closed:
	}
}

func (c *roomConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *roomConn) readPump(ctx context.Context) {
	log := observability.LoggerFromContext(ctx)

	c.ws.SetReadLimit(wsMaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("ws read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
		c.handle(ctx, data)
	}
}

// handle never tears the connection down: bad frames get an error reply.
func (c *roomConn) handle(ctx context.Context, data []byte) {
	msg, reqID, err := decodeClientMessage(data)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("malformed ws message", "error", err)
		c.enqueue(newErrorMessage(reqID, err))
		return
	}

	switch m := msg.(type) {
	case transcriptMessage:
		u, err := c.server.deps.Negotiation.SubmitUtterance(ctx, negotiation.SubmitInput{
			RoomID:  c.observer.RoomID(),
			Speaker: m.Speaker,
			Text:    m.Text,
		})
		if u.ID != "" {
			c.enqueue(newTranscriptReceived(m.RequestID, "transcript", u))
		}
		if err != nil {
			c.enqueue(newErrorMessage(m.RequestID, err))
		}

	case audioMessage:
		if err := c.feedAudio(ctx, m.Data); err != nil {
			c.enqueue(newErrorMessage(m.RequestID, err))
		}

	case audioStopMessage:
		if c.recognizer == nil {
			c.enqueue(newErrorMessage(m.RequestID, errAudioDisabled))
			return
		}
		if _, err := c.recognizer.Stop(); err != nil {
			c.enqueue(newErrorMessage(m.RequestID, asInvalid(err)))
		}

	case pingMessage:
		c.enqueue(newPong(m.RequestID))
	}
}

func (c *roomConn) feedAudio(ctx context.Context, chunk []byte) error {
	if c.recognizer == nil {
		return errAudioDisabled
	}
	if c.recognizer.State() == speech.StateIdle {
		if err := c.recognizer.Start(ctx); err != nil {
			return asInvalid(err)
		}
	}
	return asInvalid(c.recognizer.Feed(chunk))
}

// asInvalid reports recognizer misuse (audio while a stream is stopping) as a client error.
func asInvalid(err error) error {
	if errors.Is(err, speech.ErrInvalidTransition) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return err
}

// submitHeard is the recognizer sink: audio always comes from the counterparty.
func (c *roomConn) submitHeard(ctx context.Context, text string) error {
	u, err := c.server.deps.Negotiation.SubmitUtterance(ctx, negotiation.SubmitInput{
		RoomID:  c.observer.RoomID(),
		Speaker: domain.SpeakerThem,
		Text:    text,
	})
	if u.ID != "" {
		c.enqueue(newTranscriptReceived("", "audio", u))
	}
	if err != nil {
		c.enqueue(newErrorMessage("", err))
	}
	return err
}

// forward relays room events until the observer stops, then drains what is
// buffered, says why, and closes the socket.
func (c *roomConn) forward() {
	obs := c.observer
	for {
		select {
		case ev := <-obs.Events():
			if !c.enqueue(newCounterCard(ev.Card, ev.Score)) {
				return
			}
		case <-obs.Done():
		drain:
			for {
				select {
				case ev := <-obs.Events():
					c.enqueue(newCounterCard(ev.Card, ev.Score))
				default:
					break drain
				}
			}
			switch err := obs.Err(); {
			case err == nil:
			case errors.Is(err, negotiation.ErrSlowObserver):
				c.enqueue(errorMessage{Type: "error", Code: domain.CodeQueueFull, Message: err.Error()})
			default:
				c.enqueue(newErrorMessage("", err))
			}
			c.finish()
			return
		case <-c.closed:
			return
		}
	}
}

func (c *roomConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if data == nil {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
