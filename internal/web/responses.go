// responses.go -- Shared HTTP response helpers.
//
// Every error body is {"message": "..."}. Messages are encoded with
// encoding/json so user input never breaks the envelope.
package web

import (
	"encoding/json"
	"net/http"
)

type messageBody struct {
	Message string `json:"message"`
}

// JSON writes v as the body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, messageBody{Message: msg})
}

// InternalServerError logs err and returns a generic 500.
// Internal details never reach the client.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	LogError(r, "internal server error", "error", err)
	message(w, http.StatusInternalServerError, "internal server error")
}

// BadRequest returns a 400 for client input validation failures.
func BadRequest(w http.ResponseWriter, msg string) {
	message(w, http.StatusBadRequest, msg)
}

// Unauthorized returns a 401. Keep the message generic.
func Unauthorized(w http.ResponseWriter, msg string) {
	message(w, http.StatusUnauthorized, msg)
}

// Conflict returns a 409.
func Conflict(w http.ResponseWriter, msg string) {
	message(w, http.StatusConflict, msg)
}

// TooManyRequests returns a 429.
func TooManyRequests(w http.ResponseWriter) {
	message(w, http.StatusTooManyRequests, "too many requests")
}

// OK returns a 200 with the given message.
func OK(w http.ResponseWriter, msg string) {
	message(w, http.StatusOK, msg)
}

// SeeOther redirects with 303 so the browser follows up with a GET.
func SeeOther(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusSeeOther)
}
