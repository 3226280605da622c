package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kodianteach/atlas-platform-sub001/internal/monitoring"
	"github.com/kodianteach/atlas-platform-sub001/pkg/errors"
	"github.com/kodianteach/atlas-platform-sub001/pkg/response"
)

type healthView struct {
	Status string `json:"status"`
	monitoring.Report
}

// Health reports readiness. Any probe that is down turns the response into a 503; a
// degraded probe (for example Redis falling back to the database) still answers 200.
func Health(manager *monitoring.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := monitoring.NewManager().Evaluate(requestContext(c))
		if manager != nil {
			report = manager.Evaluate(requestContext(c))
		}

		if report.Status == monitoring.StatusDown {
			response.ErrorWithDetails(c, errors.New("SERVICE_UNAVAILABLE", "a required dependency is unavailable", http.StatusServiceUnavailable), report.Checks)
			return
		}

		status := "ok"
		if report.Status == monitoring.StatusDegraded {
			status = string(monitoring.StatusDegraded)
		}
		response.Success(c, http.StatusOK, healthView{Status: status, Report: report})
	}
}
