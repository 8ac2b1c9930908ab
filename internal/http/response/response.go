// Package response builds the JSON envelope shared by every HTTP handler
// and maps domain errors onto status codes.
package response

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/plugin-licensing/internal/lib/apperr"
	"github.com/magabrotheeeer/plugin-licensing/internal/lib/sl"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status string              `json:"status"`
	Error  string              `json:"error,omitempty"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
	Data   any                 `json:"data,omitempty"`
}

// ErrorResponse documents the error envelope for swagger.
type ErrorResponse struct {
	Status string              `json:"status" example:"Error"`
	Error  string              `json:"error" example:"invalid request body"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

const internalMessage = "internal server error"

// OK wraps data in a success envelope.
func OK(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

// Error builds an error envelope with msg.
func Error(msg string) Response {
	return Response{Status: StatusError, Error: msg}
}

// ValidationError builds an error envelope listing the offending fields.
func ValidationError(fields []apperr.FieldError) Response {
	return Response{Status: StatusError, Error: "validation failed", Fields: fields}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// BadRequest replies 400 with msg.
func BadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	JSON(w, r, http.StatusBadRequest, Error(msg))
}

// FromError writes the reply for err. Internal and collaborator failures
// are logged with full detail and answered with a generic message.
func FromError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal || e.Kind == apperr.KindExternal {
		log.Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			sl.Err(err))
		JSON(w, r, http.StatusInternalServerError, Error(internalMessage))
		return
	}

	if e.Kind == apperr.KindValidation && len(e.Fields) > 0 {
		resp := ValidationError(e.Fields)
		resp.Error = e.Message
		JSON(w, r, http.StatusBadRequest, resp)
		return
	}
	JSON(w, r, StatusFor(e.Kind), Error(e.Message))
}
