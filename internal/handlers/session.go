package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/middleware"
	"cropdoc-backend/internal/models"
	"cropdoc-backend/internal/orchestrator"
	"cropdoc-backend/internal/sessions"
)

// multipart overhead on top of the image itself
const formOverhead = 1 << 20

type SessionHandler struct {
	store          *sessions.Store
	auth           *middleware.SessionAuth
	maxUploadBytes int64
}

func NewSessionHandler(store *sessions.Store, auth *middleware.SessionAuth, maxUploadBytes int64) *SessionHandler {
	return &SessionHandler{
		store:          store,
		auth:           auth,
		maxUploadBytes: maxUploadBytes,
	}
}

type createSessionResponse struct {
	SessionID uuid.UUID             `json:"session_id"`
	Token     string                `json:"token"`
	State     orchestrator.Snapshot `json:"state"`
}

type chatResponse struct {
	Reply models.ConversationTurn `json:"reply"`
	State orchestrator.Snapshot   `json:"state"`
}

// Create opens a new session and hands out the token that authorizes it.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, sess := h.store.Create()

	if lang := r.URL.Query().Get("lang"); lang != "" {
		if err := sess.SetLanguage(i18n.Parse(lang, "")); err != nil {
			h.store.Delete(id)
			handleSessionError(w, r, err)
			return
		}
	}

	token, err := h.auth.GenerateSessionToken(id)
	if err != nil {
		h.store.Delete(id)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to issue session token", r))
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: id,
		Token:     token,
		State:     sess.Snapshot(),
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Touch()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.LanguageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := sess.SetLanguage(i18n.Parse(req.Language, "")); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// UploadImage reads the multipart "image" field into the session.
func (h *SessionHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	limit := h.maxUploadBytes + formOverhead
	if r.ContentLength > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "The image exceeds the upload limit", r))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handleSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Missing image file", r))
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "The image exceeds the upload limit", r))
		return
	}

	if err := sess.SelectImage(file, header.Size, header.Filename, header.Header.Get("Content-Type")); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Analyze blocks until the diagnosis is in; the browser also follows it over the websocket.
func (h *SessionHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := sess.Analyze(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, orchestrator.ErrNoImage) {
			// the error panel is part of the state as well
			writeJSON(w, http.StatusConflict, sess.Snapshot())
			return
		}
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) SendChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	reply, err := sess.SendChat(context.WithoutCancel(r.Context()), req.Message)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, State: sess.Snapshot()})
}

func (h *SessionHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.ClearChat(); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) ToggleAudio(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.ToggleAudio(context.WithoutCancel(r.Context())); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Missing session", r))
		return
	}
	h.store.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*orchestrator.Session, bool) {
	id, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Missing session", r))
		return nil, false
	}
	sess, err := h.store.Get(id)
	if err != nil {
		handleSessionError(w, r, err)
		return nil, false
	}
	return sess, true
}
