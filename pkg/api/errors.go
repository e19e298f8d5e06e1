package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/ingress"
	"github.com/threadsync/threadsync/pkg/store"
)

// mapError maps service-layer errors to HTTP error responses.
func mapError(err error) *echo.HTTPError {
	if errors.Is(err, crypto.ErrBadSignature) || errors.Is(err, crypto.ErrStaleTimestamp) || errors.Is(err, crypto.ErrMissingSecret) {
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}
	if errors.Is(err, ingress.ErrBadPayload) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, ingress.ErrNoActiveConfig) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
