package worker

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	apperrors "github.com/creatorscout/searchjobs/pkg/errors"
	"github.com/creatorscout/searchjobs/pkg/queue"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body for rejected deliveries.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Register mounts the task endpoint.
func (w *Worker) Register(e *echo.Echo, path string) {
	e.POST(path, w.Handle)
}

// Handle is the queue-facing endpoint. Only persistence and unexpected
// failures answer 5xx; everything else is 2xx or 4xx so the queue stops
// redelivering.
func (w *Worker) Handle(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return respondError(c, apperrors.Wrap(err, apperrors.ErrMalformedPayload, "read body"))
	}

	if err := w.verifier.Verify(req.Context(), req.Header, body); err != nil {
		log.Warn().Err(err).Str("remote", c.RealIP()).Msg("delivery rejected")
		return respondError(c, err)
	}

	d, err := queue.Decode(w.transport, body)
	if err != nil {
		return respondError(c, err)
	}

	res, err := w.Process(req.Context(), d)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func respondError(c echo.Context, err error) error {
	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.RetryAfter != nil {
		secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
		c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	if status >= 500 {
		log.Error().Err(err).Msg("delivery failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error(), Code: apperrors.CodeOf(err)})
}
