package handler

import (
	"context"
	"errors"
	"net/http"

	"listing-snapshot-api/internal/naming"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/repository"
	"listing-snapshot-api/internal/scheduler"
	"listing-snapshot-api/internal/service"
	"listing-snapshot-api/internal/sku"
	"listing-snapshot-api/pkg/apierror"
	"listing-snapshot-api/pkg/response"

	"go.uber.org/zap"
)

// writeServiceError maps domain errors to API errors. Unknown errors are
// logged and reported as 500.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var apiErr *apierror.Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, sku.ErrInvalidSKU):
		apiErr = apierror.BadRequest("Invalid SKU")
	case errors.Is(err, scheduler.ErrInvalidOptions), errors.Is(err, service.ErrInvalidListing):
		apiErr = apierror.BadRequest(err.Error())
	case errors.Is(err, repository.ErrNotFound):
		apiErr = apierror.NotFound("No listings saved for item")
	case errors.Is(err, naming.ErrLookupFailed):
		apiErr = apierror.BadGateway("item name lookup failed")
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = apierror.ServiceUnavailable("storage did not respond in time")
	case errors.Is(err, repository.ErrConflict):
		apiErr = apierror.Conflict("snapshot could not be replaced, retry the request")
	case errors.Is(err, queue.ErrUnavailable):
		apiErr = apierror.ServiceUnavailable("job queue unavailable")
	default:
		log.Error("unhandled error", zap.Error(err))
		apiErr = apierror.InternalError("")
	}
	response.Error(w, apiErr)
}
