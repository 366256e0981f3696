package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
)

const attachTimeout = 5 * time.Second

// quizRequest is the JSON body for POST /api/generate-quiz. Both spellings
// of the session id are accepted.
type quizRequest struct {
	Text           string `json:"text"`
	SessionID      string `json:"sessionId"`
	SessionIDSnake string `json:"session_id"`
}

func (r quizRequest) sessionID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.SessionIDSnake
}

type quizResponse struct {
	Questions []quiz.Question `json:"questions"`
}

// handleGenerateQuiz handles POST /api/generate-quiz.
func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var req quizRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if s.cfg.Quiz == nil {
		writeError(w, http.StatusServiceUnavailable, "quiz generation is not configured")
		return
	}

	questions, err := s.cfg.Quiz.Generate(r.Context(), req.Text, s.cfg.QuizCount, s.cfg.QuizAgeGroup)
	switch {
	case errors.Is(err, quiz.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case err != nil:
		log.Error("quiz generation failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if questions == nil {
		questions = []quiz.Question{}
	}

	if id := req.sessionID(); id != "" && s.cfg.Results != nil && len(questions) > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), attachTimeout)
		err := s.cfg.Results.AttachQuiz(ctx, id, questions)
		cancel()
		switch {
		case errors.Is(err, results.ErrNotFound):
			log.Debug("no stored reading for quiz", "session_id", id)
		case err != nil:
			log.Warn("failed to attach quiz", "session_id", id, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, quizResponse{Questions: questions})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.cfg.Results == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	res, err := s.cfg.Results.Get(r.Context(), id)
	switch {
	case errors.Is(err, results.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		observe.Logger(r.Context()).Error("failed to load reading result", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
