package apperrors

import "net/http"

// HTTPStatus maps a taxonomy class to the response code controllers return.
func HTTPStatus(err error) int {
	switch ClassOf(err) {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassAuthentication:
		return http.StatusUnauthorized
	case ClassNotFound:
		return http.StatusNotFound
	case ClassConflict:
		return http.StatusConflict
	case ClassRateLimit:
		return http.StatusTooManyRequests
	case ClassProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
