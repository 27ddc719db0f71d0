package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"cropdoc-backend/internal/middleware"
	"cropdoc-backend/internal/models"
	"cropdoc-backend/internal/orchestrator"
	"cropdoc-backend/internal/sessions"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetRequestID(r.Context()),
		},
	}
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResp("BUSY", "Another request for this session is still running", r))
	case errors.Is(err, orchestrator.ErrNoImage):
		writeJSON(w, http.StatusConflict, errorResp("NO_IMAGE", "Select an image before starting the analysis", r))
	case errors.Is(err, orchestrator.ErrNoConversation):
		writeJSON(w, http.StatusConflict, errorResp("NO_CONVERSATION", "There is no active conversation for this session", r))
	case errors.Is(err, orchestrator.ErrNothingToNarrate):
		writeJSON(w, http.StatusConflict, errorResp("NOTHING_TO_NARRATE", "There is no result to read aloud", r))
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Message must not be empty", r))
	case errors.Is(err, orchestrator.ErrInvalidLanguage):
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Unsupported language", r))
	case errors.Is(err, orchestrator.ErrUnsupportedImage):
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_MEDIA_TYPE", "Only PNG, JPEG and WebP images are supported", r))
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("PAYLOAD_TOO_LARGE", "The image exceeds the upload limit", r))
	case errors.Is(err, orchestrator.ErrFileRead):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp("FILE_READ_ERROR", "The image could not be read", r))
	case errors.Is(err, orchestrator.ErrClosed), errors.Is(err, sessions.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	default:
		log.Printf("Unhandled session error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
