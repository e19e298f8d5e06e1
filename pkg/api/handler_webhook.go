package api

import (
	"encoding/json"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// maxWebhookBody caps how much of a delivery is read into memory.
const maxWebhookBody = 2 << 20

// webhookHandler handles POST /webhook/:source/events. Signature
// verification happens before anything is parsed; an unverifiable delivery
// never reaches an adapter.
func (s *Server) webhookHandler(c *echo.Context) error {
	switch c.Param("source") {
	case "slack":
		return s.slackWebhook(c)
	case "email":
		return s.emailWebhook(c)
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown webhook source")
	}
}

func (s *Server) slackWebhook(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body")
	}

	timestamp := c.Request().Header.Get("X-Slack-Request-Timestamp")
	signature := c.Request().Header.Get("X-Slack-Signature")
	if err := s.ingress.VerifySlack(timestamp, body, signature); err != nil {
		s.logger.Warn("slack signature rejected", "error", err)
		return mapError(err)
	}

	out, err := s.ingress.IngestSlack(c.Request().Context(), body)
	if err != nil {
		return mapError(err)
	}
	if out.Challenge != "" {
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "challenge": out.Challenge})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) emailWebhook(c *echo.Context) error {
	r := c.Request()
	if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
		if err := r.ParseForm(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "parsing form body")
		}
	}

	form := r.Form
	if err := s.ingress.VerifyMailgun(form.Get("timestamp"), form.Get("token"), form.Get("signature")); err != nil {
		s.logger.Warn("email signature rejected", "error", err)
		return mapError(err)
	}

	payload := make(map[string]any, len(form))
	for key, values := range form {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encoding form payload")
	}

	out, err := s.ingress.IngestEmail(r.Context(), payload, raw)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, out)
}
