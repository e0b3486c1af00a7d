package errs

import "net/http"

// HTTPStatus maps the error taxonomy onto the response codes of the job API.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAuthorization(err):
		return http.StatusForbidden
	case IsInvalidState(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
