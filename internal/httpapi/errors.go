package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/icons"
	"kvmdash/internal/schedule"
)

var errNoData = errors.New("No data provided")

func statusOf(err error) int {
	switch {
	case schedule.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrMissingFields),
		errors.Is(err, schedule.ErrInvalidAction),
		errors.Is(err, schedule.ErrUnknownFrequency),
		errors.Is(err, schedule.ErrNoWeekdays),
		errors.Is(err, schedule.ErrInvalidWeekday),
		errors.Is(err, schedule.ErrInvalidDelay),
		errors.Is(err, actionlog.ErrMissingFields),
		errors.Is(err, icons.ErrInvalidType),
		errors.Is(err, icons.ErrNoFile),
		errors.Is(err, errNoData):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes {"error": ...} with the status mapped from err.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
