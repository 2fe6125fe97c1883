package adminapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/app"
	"github.com/talkincode/wahub/internal/webserver"
)

func registerSchedulerRoutes() {
	webserver.ApiGET("/jobs", ListJobs)
	webserver.ApiPOST("/jobs/:name/run", TriggerJob)
}

// ListJobs returns the names of the background jobs.
func ListJobs(c echo.Context) error {
	return ok(c, map[string]interface{}{"jobs": GetAppContext(c).Jobs()})
}

// TriggerJob runs a background job immediately
func TriggerJob(c echo.Context) error {
	name := c.Param("name")
	if err := GetAppContext(c).RunJob(name); err != nil {
		if errors.Is(err, app.ErrUnknownJob) {
			return fail(c, http.StatusNotFound, "UNKNOWN_JOB", "No such job", name)
		}
		return fail(c, http.StatusInternalServerError, "RUN_FAILED", "Failed to run job", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
