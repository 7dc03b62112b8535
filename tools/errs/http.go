package errs

import (
	"errors"
	"net/http"
)

// HTTPStatus maps a CodeError code onto the HTTP status a REST caller sees.
func HTTPStatus(code int) int {
	switch code {
	case InvalidCredentials:
		return http.StatusUnauthorized
	case UserNotFound, RecordNotFound:
		return http.StatusNotFound
	case MalformedInput, AmbiguousReference, SameUsers:
		return http.StatusBadRequest
	case AccessDenied:
		return http.StatusForbidden
	case RecordIsExist:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Render returns the status and body for err. Anything that is not a
// CodeError is reported as ErrInternal so driver messages never leak.
func Render(err error) (int, CodeError) {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return HTTPStatus(codeErr.Code), *codeErr
	}
	return http.StatusInternalServerError, ErrInternal
}
