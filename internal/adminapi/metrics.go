package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/webserver"
	"github.com/talkincode/wahub/pkg/metrics"
)

func registerMetricsRoutes() {
	webserver.ApiGET("/metrics/:name", getMetricSeries)
}

// getMetricSeries returns the recorded samples of one series.
// Query: since=<duration>, default 1h.
func getMetricSeries(c echo.Context) error {
	window := time.Hour
	if raw := c.QueryParam("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return fail(c, http.StatusBadRequest, "INVALID_SINCE", "since must be a positive duration", raw)
		}
		window = d
	}
	name := c.Param("name")
	points, err := metrics.Query(name, time.Now().Add(-window))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to query metric", err.Error())
	}
	if points == nil {
		points = []metrics.Point{}
	}
	return ok(c, map[string]interface{}{"name": name, "points": points})
}
