package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/streamhub/streamhub/internal/service"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAuthentication:
		return http.StatusUnauthorized
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err in the error envelope. Internal failures never expose
// their cause.
func WriteError(w http.ResponseWriter, err error) {
	svcErr := service.AsError(err)
	message := svcErr.Message
	if svcErr.Kind == service.KindInternal {
		message = "internal server error"
	}

	WriteJSON(w, StatusCode(svcErr.Kind), ErrorResponse{
		Error: ErrorDetail{
			Code:    string(svcErr.Reason),
			Message: message,
		},
	})
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
