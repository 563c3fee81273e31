package adminapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/inlinesoft/whatsdesk/internal/accounts"
	"github.com/inlinesoft/whatsdesk/internal/app"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// RegisterRoutes installs every admin API route group.
func RegisterRoutes() {
	registerAuthRoutes()
	registerAccountRoutes()
	registerReportRoutes()
	registerSystemRoutes()
}

// GetApp pulls the application context injected by the webserver middleware.
func GetApp(c echo.Context) app.AppContext {
	return c.Get(webserver.AppContextKey).(app.AppContext)
}

// GetDB returns the gorm handle for the current request.
func GetDB(c echo.Context) *gorm.DB {
	return GetApp(c).DB()
}

// GetService returns the account connection-state service.
func GetService(c echo.Context) *accounts.Service {
	return GetApp(c).AccountService()
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"success": false,
		"code":    code,
		"message": message,
		"detail":  detail,
	})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":   true,
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
