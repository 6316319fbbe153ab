// Package apierror converts domain errors to httperror values at the API edge.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/sorrel/pkg/merging"
	"github.com/Ramsey-B/sorrel/pkg/resolution"
)

// From maps err to an httperror. Unknown errors become a 500 carrying fallback as message.
func From(err error, fallback string) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return httperror.NewHTTPError(http.StatusBadRequest, verrs.Error())
	case errors.Is(err, resolution.ErrTypeNotFound), errors.Is(err, merging.ErrNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, resolution.ErrInvalidName),
		errors.Is(err, merging.ErrUnknownKind),
		errors.Is(err, merging.ErrSelfMerge):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, merging.ErrCanonicalInactive),
		errors.Is(err, merging.ErrMergeIntegrity),
		errors.Is(err, resolution.ErrUniquenessRace):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return httperror.NewHTTPError(http.StatusGatewayTimeout, fallback)
	default:
		return httperror.NewHTTPError(http.StatusInternalServerError, fallback)
	}
}
