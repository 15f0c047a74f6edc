package httpapi

import (
	"errors"
	"net/http"

	"github.com/getpup/pupstore/es"
)

// Error codes returned in the "error" field of failed responses.
const (
	CodeMissingStreamID          = "MISSING_STREAM_ID"
	CodeInvalidFilteringParams   = "INVALID_CHANGESET_FILTERING_PARAMS"
	CodeStreamNotFound           = "STREAM_NOT_FOUND"
	CodeConcurrencyException     = "OPTIMISTIC_CONCURRENCY_EXCEPTION"
	CodeInvalidExpectedChangeset = "INVALID_EXPECTED_CHANGESET_ID"
	CodeMissingEvents            = "MISSING_EVENTS"
	CodeInvalidRequest           = "INVALID_REQUEST"
	CodePayloadTooLarge          = "PAYLOAD_TOO_LARGE"
	CodeStorageUnavailable       = "STORAGE_UNAVAILABLE"
	CodeInternal                 = "INTERNAL_ERROR"
)

var (
	// errInvalidExpected is returned for a non-integer or negative expected_changeset_id.
	errInvalidExpected = errors.New("expected_changeset_id has to be a non-negative integer")

	errInvalidStreamID = errors.New("stream id is not a valid path segment")
	errBodyTooLarge    = errors.New("commit body exceeds " + commitBodyLimit + "B")
)

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, es.ErrMissingStreamID):
		return http.StatusBadRequest, CodeMissingStreamID
	case errors.Is(err, es.ErrInvalidFilterType), errors.Is(err, es.ErrInvalidRange):
		return http.StatusBadRequest, CodeInvalidFilteringParams
	case errors.Is(err, errInvalidExpected):
		return http.StatusBadRequest, CodeInvalidExpectedChangeset
	case errors.Is(err, es.ErrNoEvents):
		return http.StatusBadRequest, CodeMissingEvents
	case errors.Is(err, ErrInvalidBody), errors.Is(err, errInvalidStreamID):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, CodePayloadTooLarge
	case errors.Is(err, es.ErrStreamNotFound):
		return http.StatusNotFound, CodeStreamNotFound
	case errors.Is(err, es.ErrVersionConflict):
		return http.StatusConflict, CodeConcurrencyException
	case errors.Is(err, es.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, CodeStorageUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
