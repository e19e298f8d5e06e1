package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/threadsync/threadsync/pkg/processor"
	"github.com/threadsync/threadsync/pkg/store"
)

// processDiscussionRequest is the body of POST /internal/process-discussion.
type processDiscussionRequest struct {
	DiscussionID string `json:"discussionId"`
	Retry        bool   `json:"retry"`
}

// processDiscussionHandler triggers processing synchronously. A failed run
// is still a 200: the body carries success=false and the error text. Only
// transport-level problems (missing id, unknown discussion) are HTTP errors.
func (s *Server) processDiscussionHandler(c *echo.Context) error {
	var req processDiscussionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.DiscussionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discussionId is required")
	}

	ctx := c.Request().Context()
	var result *processor.Result
	var err error
	if req.Retry {
		result, err = s.processor.ProcessWithRetry(ctx, req.DiscussionID)
	} else {
		result, err = s.processor.Process(ctx, req.DiscussionID)
	}

	if errors.Is(err, store.ErrNotFound) {
		return mapError(err)
	}
	if result == nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}
