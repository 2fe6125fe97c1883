package adminapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/session"
	"github.com/talkincode/wahub/internal/webserver"
	"go.uber.org/zap"
)

func registerSessionRoutes() {
	webserver.ApiGET("/sessions", listSessions)
	webserver.ApiPOST("/sessions/:id/start", postSessionStart)
	webserver.ApiGET("/sessions/:id", getSessionStatus)
	webserver.ApiGET("/sessions/:id/connectivity", getSessionConnectivity)
	webserver.ApiPOST("/sessions/:id/logout", postSessionLogout)
	webserver.ApiGET("/sessions/:id/events", listSessionEvents)
}

// listSessions returns every registered session in tenant order.
func listSessions(c echo.Context) error {
	return ok(c, map[string]interface{}{"sessions": sessions(c).List()})
}

// postSessionStart creates the tenant's session if it does not exist and
// returns its current status. Pairing progress is pushed on the websocket
// channel and reported by GET /sessions/:id.
func postSessionStart(c echo.Context) error {
	tenant := c.Param("id")
	st, err := sessions(c).Start(tenant)
	if err != nil {
		return failSession(c, err)
	}
	zap.L().Info("adminapi: session start requested", zap.String("tenant", tenant), zap.Stringer("status", st))
	return ok(c, map[string]interface{}{"session": tenant, "status": st})
}

// getSessionStatus returns the reconciled status and, while pairing, the
// QR artifact.
func getSessionStatus(c echo.Context) error {
	report, err := sessions(c).Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failSession(c, err)
	}
	return ok(c, report)
}

func getSessionConnectivity(c echo.Context) error {
	tenant := c.Param("id")
	if err := session.ValidateTenant(tenant); err != nil {
		return failSession(c, err)
	}
	return ok(c, sessions(c).CheckConnectivity(c.Request().Context(), tenant))
}

func postSessionLogout(c echo.Context) error {
	tenant := c.Param("id")
	if err := sessions(c).Logout(c.Request().Context(), tenant); err != nil {
		return failSession(c, err)
	}
	return ok(c, map[string]interface{}{"session": tenant, "status": "LOGGED_OUT"})
}

// listSessionEvents returns the audited transitions and deliveries of a
// tenant, newest first.
func listSessionEvents(c echo.Context) error {
	tenant := c.Param("id")
	if err := session.ValidateTenant(tenant); err != nil {
		return failSession(c, err)
	}
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", raw)
		}
		limit = n
	}
	events, err := GetAppContext(c).EventLog().List(c.Request().Context(), tenant, limit)
	if err != nil {
		zap.L().Warn("adminapi: list session events failed", zap.String("tenant", tenant), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list session events", err.Error())
	}
	return ok(c, map[string]interface{}{"events": events})
}
