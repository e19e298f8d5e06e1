package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/threadsync/threadsync/pkg/version"
)

// healthHandler handles GET /health. The response is minimal and safe for
// unauthenticated access.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version.GitCommit,
	})
}
