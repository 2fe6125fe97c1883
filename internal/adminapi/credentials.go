package adminapi

import (
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/webserver"
	"go.uber.org/zap"
)

func registerCredentialRoutes() {
	webserver.ApiDELETE("/sessions/:id/credentials", deleteSessionCredentials)
	webserver.ApiPOST("/sessions/:id/force-reset", postSessionForceReset)
}

// deleteSessionCredentials removes the tenant's stored credentials. It is
// refused while the tenant has a live session.
func deleteSessionCredentials(c echo.Context) error {
	tenant := c.Param("id")
	removed, err := sessions(c).DeleteCredentials(tenant)
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, map[string]interface{}{"session": tenant, "removed": removed})
}

// postSessionForceReset logs out any live session and wipes its credentials
// so the next start pairs from scratch.
func postSessionForceReset(c echo.Context) error {
	tenant := c.Param("id")
	removed, err := sessions(c).ForceReset(c.Request().Context(), tenant)
	if err != nil {
		return failSession(c, err)
	}
	zap.L().Info("adminapi: force reset", zap.String("tenant", tenant), zap.Strings("removed", removed))
	return ok(c, map[string]interface{}{"session": tenant, "status": "FORCE_RESET_DONE", "removed": removed})
}
