package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	echoprom "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/talkincode/wahub/internal/app"
	"go.uber.org/zap"
)

const appContextKey = "appctx"

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type AdminServer struct {
	root   *echo.Echo
	api    *echo.Group
	ws     *echo.Group
	appCtx app.AppContext
}

var server *AdminServer

// Init builds the HTTP server and makes it the target of the route
// registration helpers. Handlers reach the application via GetAppContext.
func Init(appCtx app.AppContext) *AdminServer {
	cfg := appCtx.Config()
	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = jsoniterSerializer{}
	e.HTTPErrorHandler = httpErrorHandler
	if cfg.System.Debug {
		e.Logger.SetLevel(log.DEBUG)
	} else {
		e.Logger.SetLevel(log.INFO)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("namespace", "http"),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				zap.L().Warn("request", append(fields, zap.Error(v.Error))...)
			} else {
				zap.L().Debug("request", fields...)
			}
			return nil
		},
	}))
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(appContextKey, appCtx)
			return next(c)
		}
	})

	if cfg.Web.Metrics {
		p := echoprom.NewPrometheus("wahub", nil)
		e.Use(p.HandlerFunc)
		gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
		if reg := appCtx.MetricsRegistry(); reg != nil {
			gatherers = append(gatherers, reg)
		}
		e.GET(p.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	var guard []echo.MiddlewareFunc
	if cfg.Web.Secret != "" {
		guard = append(guard, echojwt.WithConfig(echojwt.Config{
			SigningKey:  []byte(cfg.Web.Secret),
			TokenLookup: "header:Authorization:Bearer ,query:token",
			ErrorHandler: func(c echo.Context, err error) error {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "UNAUTHORIZED",
					Message: "missing or invalid bearer token",
				})
			},
		}))
	}

	server = &AdminServer{
		root:   e,
		api:    e.Group("/api", guard...),
		ws:     e.Group("/ws", guard...),
		appCtx: appCtx,
	}
	return server
}

// Handler exposes the root echo instance.
func Handler() http.Handler {
	return server.root
}

// GetAppContext returns the application the request is served for.
func GetAppContext(c echo.Context) app.AppContext {
	return c.Get(appContextKey).(app.AppContext)
}

// Listen serves until Shutdown is called. A clean shutdown returns nil.
func Listen() error {
	cfg := server.appCtx.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	zap.L().Info("admin server listening", zap.String("namespace", "http"), zap.String("addr", addr))
	server.root.Server.ReadHeaderTimeout = 10 * time.Second
	if err := server.root.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func Shutdown(ctx context.Context) error {
	if server == nil {
		return nil
	}
	return server.root.Shutdown(ctx)
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.api.DELETE(path, h, m...)
}

// WsGET registers a websocket upgrade endpoint under /ws.
func WsGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	server.ws.GET(path, h, m...)
}

// httpErrorHandler renders router and binding errors in the API envelope.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	body := ErrorResponse{Error: fmt.Sprintf("HTTP_%d", code), Message: msg}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		zap.L().Error("write error response", zap.String("namespace", "http"), zap.Error(err))
	}
}
