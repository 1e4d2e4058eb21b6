// Package server exposes the chat core over HTTP. It stays thin: every
// response the UI sees is a plain string produced by the orchestrator.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"support-chatbot/internal/models"
	"support-chatbot/internal/orchestrator"
	"support-chatbot/internal/session"
)

const maxUploadBytes = 32 << 20

type Server struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
}

func New(orch *orchestrator.Orchestrator, sessions *session.Manager) *Server {
	return &Server{orch: orch, sessions: sessions}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/chat", s.handleChat)
	r.Get("/api/sessions", s.handleSessions)
	r.Post("/api/sessions/{sessionID}/restore", s.handleRestore)
	r.Post("/api/logout", s.handleLogout)
	return r
}

// handleChat accepts a multipart form (message, session_id, files) and
// streams cumulative response frames as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	userID, err := userIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user_id")
		return
	}

	message := r.FormValue("message")
	sess := s.sessions.GetOrCreate(userID, r.FormValue("session_id"))

	var attachments []models.Attachment
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read upload %s", fh.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read upload %s", fh.Filename))
				return
			}
			attachments = append(attachments, models.AttachmentFromBytes(data, fh.Filename))
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", sess.SessionID)
	w.WriteHeader(http.StatusOK)

	for cumulative := range s.orch.ProcessStream(r.Context(), message, attachments, sess, userID) {
		frame, err := json.Marshal(map[string]string{"response": cumulative})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", frame)
		flusher.Flush()
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user_id")
		return
	}
	entries, err := s.sessions.Sidebar(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("Could not list sessions")
		writeError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user_id")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Restore(r.Context(), userID, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Could not restore session")
		writeError(w, http.StatusInternalServerError, "could not restore session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sess.SessionID,
		"title":      sess.Title,
		"messages":   sess.Messages,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user_id")
		return
	}
	s.sessions.Evict(userID)
	w.WriteHeader(http.StatusNoContent)
}

func userIDFrom(r *http.Request) (int64, error) {
	v := r.FormValue("user_id")
	if v == "" {
		v = r.URL.Query().Get("user_id")
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
