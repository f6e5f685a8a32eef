package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/medora-health/clinicore/pkg/apperr"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with an explicit kind
func WriteErrorMessage(w http.ResponseWriter, kind apperr.Kind, message string) {
	_ = WriteJSON(w, apperr.HTTPStatus(kind), ErrorResponse{
		Error: message,
		Code:  string(kind),
	})
}

// WriteAppError renders err using its apperr kind. Internal causes are never exposed.
func WriteAppError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, apperr.KindOf(err), apperr.Message(err))
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
