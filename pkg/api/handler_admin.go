package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
)

// listDiscussionsHandler handles GET /api/v1/discussions.
func (s *Server) listDiscussionsHandler(c *echo.Context) error {
	tenant := c.QueryParam("tenant")
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	discussions, err := s.store.Discussions().List(c.Request().Context(), tenant, limit, offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"discussions": discussions,
		"count":       len(discussions),
	})
}

// getDiscussionHandler handles GET /api/v1/discussions/:id. The discussion
// and its job history are returned together.
func (s *Server) getDiscussionHandler(c *echo.Context) error {
	tenant := c.QueryParam("tenant")
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}

	ctx := c.Request().Context()
	d, err := s.store.Discussions().Get(ctx, tenant, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	jobs, err := s.store.SyncJobs().ListByDiscussion(ctx, tenant, d.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"discussion": d,
		"jobs":       jobs,
	})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *echo.Context) error {
	tenant := c.QueryParam("tenant")
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}

	job, err := s.store.SyncJobs().Get(c.Request().Context(), tenant, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, job)
}

// listSourcesHandler handles GET /api/v1/sources: the registered source
// adapter tags.
func (s *Server) listSourcesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"sources": s.registry.Tags()})
}
