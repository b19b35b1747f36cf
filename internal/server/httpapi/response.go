package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/synk/internal/common"
)

const contentTypeJSON = "application/json"

// Response is the body of every non-data reply.
type Response struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
	Added   int    `json:"added,omitempty"`
	Updated int    `json:"updated,omitempty"`
	Deleted int    `json:"deleted,omitempty"`
}

func NewOKResponse() Response {
	return Response{Message: "OK"}
}

func NewErrorResponse(msg string) Response {
	return Response{Message: msg, Error: true}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn(r.Context(), "error encoding response", "error", err)
	}
}

// writeError maps err onto a status code. Messages of unexpected errors are
// not sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		s.logger.Error(r.Context(), "request failed", "error", err)
		msg = http.StatusText(status)
	case http.StatusServiceUnavailable:
		s.logger.Warn(r.Context(), "request failed", "error", err)
		msg = "storage unavailable, retry later"
	}
	s.writeJSON(w, r, status, NewErrorResponse(msg))
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrorInvalidSchema), errors.Is(err, common.ErrorInvalidUsername):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorAlreadyExists), errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrorPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
