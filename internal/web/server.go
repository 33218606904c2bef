// Package web serves the coldwatch dashboard and JSON API over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sweeney/coldwatch/internal/auth"
	"github.com/sweeney/coldwatch/internal/chat"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/monitor"
	"github.com/sweeney/coldwatch/internal/session"
	"github.com/sweeney/coldwatch/internal/status"
	"github.com/sweeney/coldwatch/internal/websocket"
)

// Upstream is the part of the telemetry source the API needs directly.
// thingspeak.Client satisfies it.
type Upstream interface {
	FetchRange(ctx context.Context, start, end time.Time) []logic.Reading
	SyncThresholds(ctx context.Context, t logic.Thresholds) error
}

// Deps are the collaborators of a Server. Tracker, Sessions and Upstream
// are required; a nil Auth disables sign-in, a nil Hub disables /ws, a nil
// Chat disables /api/chat and a nil Relay leaves /functions/chat unmounted.
type Deps struct {
	Tracker  *status.Tracker
	Sessions *session.Manager
	Upstream Upstream
	Auth     *auth.Manager
	Hub      *websocket.Hub
	Chat     *chat.Client
	Relay    http.Handler
}

// Server serves the dashboard and API over HTTP.
type Server struct {
	httpServer *http.Server
	d          Deps
}

type ctxKey int

const claimsKey ctxKey = iota

// New creates a Server listening on addr.
func New(addr string, d Deps) *Server {
	s := &Server{d: d}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)

	if d.Auth != nil {
		r.Post("/api/login", s.handleLogin)
		r.Post("/api/signup", s.handleSignUp)
	}
	if d.Relay != nil {
		r.Handle("/functions/chat", d.Relay)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		if d.Auth != nil {
			r.Post("/api/logout", s.handleLogout)
		}
		r.Get("/api/history", s.handleHistory)
		r.Get("/api/history/range", s.handleHistoryRange)
		r.Get("/api/logs", s.handleLogs)
		r.Get("/api/thresholds", s.handleGetThresholds)
		r.Put("/api/thresholds", s.handlePutThresholds)
		r.Post("/api/thresholds/reset", s.handleResetThresholds)
		if d.Chat != nil {
			r.Get("/api/chat", s.handleChatTranscript)
			r.Post("/api/chat", s.handleChat)
		}
		if d.Hub != nil {
			r.Get("/ws", s.handleWS)
		}
	})

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.d.Hub != nil && s.d.Auth == nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.d.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// requireSession admits requests carrying a token for an open session.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the "token" query parameter.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.d.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := s.d.Auth.ParseToken(token)
		if err != nil || !s.d.Sessions.Valid(claims.Id) {
			writeError(w, http.StatusUnauthorized, "session expired, please sign in again")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return r.URL.Query().Get("token")
}

// engine returns the running engine or answers 503.
func (s *Server) engine(w http.ResponseWriter) (*monitor.Engine, bool) {
	e, err := s.d.Sessions.Engine()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring is not running")
		return nil, false
	}
	return e, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.d.Auth.Authenticate(req.Email, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}
	s.openSession(w, req.Email)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if !s.d.Auth.SignUpAllowed() {
		writeError(w, http.StatusForbidden, "sign-up is disabled")
		return
	}
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.d.Auth.SignUp(req.Email, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}
	log.Printf("web: account created for %s", strings.ToLower(strings.TrimSpace(req.Email)))
	s.openSession(w, req.Email)
}

func writeAuthError(w http.ResponseWriter, err error) {
	k := auth.KindOf(err)
	code := http.StatusUnauthorized
	switch k {
	case auth.KindInvalidEmail, auth.KindInvalidCredential, auth.KindWeakPassword:
		code = http.StatusBadRequest
	case auth.KindEmailInUse:
		code = http.StatusConflict
	case auth.KindTooManyRequests:
		code = http.StatusTooManyRequests
	case auth.KindUnknown:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, ErrorResponse{Error: k.Message(), Kind: string(k)})
}

func (s *Server) openSession(w http.ResponseWriter, email string) {
	token, claims, err := s.d.Auth.IssueToken(email)
	if err != nil {
		log.Printf("web: issue token: %v", err)
		writeError(w, http.StatusInternalServerError, auth.KindUnknown.Message())
		return
	}
	if _, err := s.d.Sessions.Open(claims.Id, claims.Email, claims.ExpiresAtTime()); err != nil {
		log.Printf("web: open session: %v", err)
		writeError(w, http.StatusServiceUnavailable, "monitoring could not be started")
		return
	}
	s.d.Tracker.SetSessions(s.d.Sessions.Count())
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAtTime().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	if err := s.d.Sessions.Close(claims.Id); err != nil && !errors.Is(err, session.ErrNoSession) {
		log.Printf("web: close session: %v", err)
	}
	s.d.Tracker.SetSessions(s.d.Sessions.Count())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(e.Snapshot().History))
}

func (s *Server) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be an RFC 3339 time")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be an RFC 3339 time")
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}
	readings := s.d.Upstream.FetchRange(r.Context(), start, end)
	writeJSON(w, http.StatusOK, nonNil(logic.HistoryFromReadings(readings)))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(e.Snapshot().Logs))
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.Thresholds())
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	var t logic.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid thresholds")
		return
	}
	if !s.applyThresholds(w, r, e, t) {
		return
	}
	synced := s.sync(r.Context(), t)
	msg := msgNotSynced
	if synced {
		msg = msgSynced
	}
	writeJSON(w, http.StatusOK, ThresholdsResponse{Thresholds: t, Synced: synced, Message: msg})
}

func (s *Server) handleResetThresholds(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	t := logic.DefaultThresholds
	if !s.applyThresholds(w, r, e, t) {
		return
	}
	synced := s.sync(r.Context(), t)
	writeJSON(w, http.StatusOK, ThresholdsResponse{Thresholds: t, Synced: synced, Message: msgReset})
}

func (s *Server) applyThresholds(w http.ResponseWriter, r *http.Request, e *monitor.Engine, t logic.Thresholds) bool {
	if err := e.UpdateThresholds(r.Context(), t); err != nil {
		log.Printf("web: %v", err)
		writeError(w, http.StatusInternalServerError, "thresholds applied but could not be saved")
		return false
	}
	return true
}

func (s *Server) sync(ctx context.Context, t logic.Thresholds) bool {
	if err := s.d.Upstream.SyncThresholds(ctx, t); err != nil {
		log.Printf("web: threshold sync failed: %v", err)
		return false
	}
	return true
}

// conversation returns the transcript of the caller's session, or answers
// 401 when there is none.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*chat.Conversation, bool) {
	var id string
	if claims, _ := r.Context().Value(claimsKey).(*auth.Claims); claims != nil {
		id = claims.Id
	}
	c, err := s.d.Sessions.Conversation(id)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session expired, please sign in again")
		return nil, false
	}
	return c, true
}

func (s *Server) handleChatTranscript(w http.ResponseWriter, r *http.Request) {
	c, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ChatTranscript{Messages: c.Messages()})
}

// handleChat appends the user's message to the session transcript, sends
// it to the chat relay with the current readings attached and re-streams
// the answer as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}

	var sensor *chat.SensorData
	if e, err := s.d.Sessions.Engine(); err == nil {
		if snap := e.Snapshot(); snap.HasReading {
			sensor = chat.NewSensorData(snap.Reading, snap.Status, snap.Thresholds, snap.LastUpdate)
		}
	}

	flusher, _ := w.(http.Flusher)
	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	event := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	onDelta := func(d string) {
		begin()
		var c streamChunk
		c.Choices = make([]streamChoice, 1)
		c.Choices[0].Delta.Content = d
		event(c)
	}

	_, err := conv.Send(r.Context(), s.d.Chat, req.Message, sensor, onDelta)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, chat.ErrBusy):
		writeError(w, http.StatusConflict, "a reply is still streaming")
		return
	case err != nil:
		log.Printf("web: chat: %v", err)
		msg := "Failed to get response"
		var re *chat.RelayError
		if errors.As(err, &re) {
			msg = re.Message
		}
		if !started {
			code := http.StatusBadGateway
			if re != nil {
				code = re.StatusCode
			}
			writeError(w, code, msg)
			return
		}
		event(streamError{Error: msg})
	}
	begin()
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	e, ok := s.engine(w)
	if !ok {
		return
	}
	initial, err := json.Marshal(websocket.Message{
		Type:    "snapshot",
		Payload: websocket.NewUpdatePayload(snapshotUpdate(e.Snapshot())),
	})
	if err != nil {
		log.Printf("web: marshal snapshot: %v", err)
		initial = nil
	}
	websocket.ServeWS(s.d.Hub, w, r, initial)
}

func snapshotUpdate(snap monitor.Snapshot) monitor.Update {
	return monitor.Update{
		Kind:       monitor.KindReading,
		Time:       snap.LastUpdate,
		Reading:    snap.Reading,
		HasReading: snap.HasReading,
		Status:     snap.Status,
		Thresholds: snap.Thresholds,
		Connected:  snap.Connected,
		LastUpdate: snap.LastUpdate,
	}
}
