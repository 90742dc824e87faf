package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewEcho creates an echo instance with the validator, error handler and
// middleware stack used by the API.
func NewEcho(logger *slog.Logger, allowedOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewAppValidator()
	e.HTTPErrorHandler = HTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	if len(allowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderContentType},
			ExposeHeaders:    []string{echo.HeaderXRequestID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	return e
}

// RegisterRoutes mounts the API on e.
func RegisterRoutes(e *echo.Echo, users *UserHandler, auth *AuthHandler) {
	e.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")

	api.POST("/users", users.Register)
	api.GET("/users", users.FindByEmail)
	api.GET("/users/:id", users.Get)
	api.POST("/users/:id/verify", users.Verify)
	api.GET("/users/:id/identifiers", users.ListIdentifiers)
	api.PUT("/users/:id/identifiers/:provider", users.LinkIdentifier)
	api.DELETE("/users/:id/identifiers/:provider", users.UnlinkIdentifier)
	api.GET("/identities/:provider/:external_id", users.FindByIdentity)

	api.GET("/auth/:provider", auth.Redirect)
	api.GET("/auth/:provider/callback", auth.Callback)
}
