package adminapi

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/app"
	"github.com/talkincode/wahub/internal/session"
	"github.com/talkincode/wahub/internal/webserver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Init registers every admin route on the current webserver.
func Init() {
	registerSessionRoutes()
	registerMessageRoutes()
	registerCredentialRoutes()
	registerMetricsRoutes()
	registerSchedulerRoutes()
	registerWsRoutes()
}

type Response struct {
	Data interface{} `json:"data"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Data: data})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, webserver.ErrorResponse{Error: code, Message: message, Details: details})
}

func GetAppContext(c echo.Context) app.AppContext {
	return webserver.GetAppContext(c)
}

func sessions(c echo.Context) *session.Manager {
	return GetAppContext(c).Sessions()
}

// httpStatus maps a session error code to its HTTP status.
func httpStatus(code string) int {
	switch code {
	case "NO_SESSION":
		return http.StatusNotFound
	case "NOT_CONNECTED", "AUTH_FAILURE", "RESET_IN_PROGRESS", "SESSION_ACTIVE":
		return http.StatusConflict
	case "SEND_FAILED":
		return http.StatusBadGateway
	case "INVALID_TENANT":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// failSession renders a session layer error with its stable code.
func failSession(c echo.Context, err error) error {
	code := session.Code(err)
	return fail(c, httpStatus(code), code, err.Error(), nil)
}
