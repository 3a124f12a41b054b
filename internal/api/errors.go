package api

import (
	"errors"
	"net/http"

	"github.com/pushhub/pushhub/internal/service"
)

func serviceErrorStatus(err error) (int, string) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError, "internal server error"
	}
	switch svcErr.Code {
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest, svcErr.Message
	case "CONFLICT":
		return http.StatusConflict, svcErr.Message
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeProtocolError maps a service error onto a plain-text response
// for the publish/subscribe/listen endpoints.
func writeProtocolError(w http.ResponseWriter, err error) {
	status, msg := serviceErrorStatus(err)
	writePlain(w, status, msg)
}

// writeServiceError maps a service error onto the admin API's JSON
// error envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	status, msg := serviceErrorStatus(err)
	code := "INTERNAL"
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) && status != http.StatusInternalServerError {
		code = svcErr.Code
	}
	WriteError(w, status, code, msg)
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}
