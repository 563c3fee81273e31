package webserver

import (
	"fmt"
	"net/http"
	"strings"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/app"
)

var server *WebServer

// WebServer hosts the local REST API. All /api routes sit behind JWT auth;
// the login endpoint and health check are public.
type WebServer struct {
	root   *echo.Echo
	api    *echo.Group
	appCtx app.AppContext
}

// Init builds the server and installs the shared middleware. Route
// registration happens afterwards through the Api* helpers.
func Init(appCtx app.AppContext) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))

	// every handler can reach the application context
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(AppContextKey, appCtx)
			return next(c)
		}
	})

	api := e.Group("/api")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(appCtx.Config().Web.Secret),
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return strings.HasSuffix(p, "/login")
		},
	}))

	server = &WebServer{root: e, api: api, appCtx: appCtx}
	return server
}

// AppContextKey is the echo context key holding the app.AppContext.
const AppContextKey = "whatsdesk_app"

// Listen blocks serving HTTP.
func (s *WebServer) Listen() error {
	cfg := s.appCtx.Config().Web
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	zap.L().Info("local api listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

// Echo exposes the underlying engine (used by tests).
func (s *WebServer) Echo() *echo.Echo { return s.root }

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// PubGET registers an unauthenticated route outside /api.
func PubGET(path string, h echo.HandlerFunc) {
	server.root.GET(path, h)
}

// Health is always registered so load balancers can probe the agent.
func RegisterHealth() {
	PubGET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})
}
