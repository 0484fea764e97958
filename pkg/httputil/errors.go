package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/ipv7net/mesh/pkg/errors"
)

// StatusForCode maps a protocol error code to the HTTP status the
// diagnostics API reports for it.
func StatusForCode(code string) int {
	switch errors.GetCategory(code) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryRouting:
		return http.StatusNotFound
	case errors.CategoryLifecycle:
		if code == errors.CodeAlreadyRunning {
			return http.StatusConflict
		}
		return http.StatusServiceUnavailable
	case errors.CategoryTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorFrom writes err as {"error": message, "code": CODE} with the
// status derived from the protocol error code. Errors outside the protocol
// taxonomy report as INTERNAL.
func WriteErrorFrom(w http.ResponseWriter, err error) {
	code := errors.CodeInternal
	var e errors.Error
	if stderrors.As(err, &e) {
		code = e.Code()
	}
	WriteJSON(w, StatusForCode(code), map[string]any{
		"error": err.Error(),
		"code":  code,
	})
}
