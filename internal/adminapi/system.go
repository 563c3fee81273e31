package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/inlinesoft/whatsdesk/internal/domain"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
	"github.com/inlinesoft/whatsdesk/pkg/metrics"
)

func registerSystemRoutes() {
	webserver.ApiGET("/system/status", getSystemStatus)
	webserver.ApiGET("/system/settings", listSettings)
	webserver.ApiPOST("/system/settings", saveSettings)
	webserver.ApiGET("/system/oprlog", listOprLogs)
}

// getSystemStatus reports gauges and counters collected by the monitor jobs.
func getSystemStatus(c echo.Context) error {
	return ok(c, metrics.Snapshot())
}

func listSettings(c echo.Context) error {
	var rows []domain.SysConfig
	if err := GetDB(c).Order("sort").Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query settings", err.Error())
	}
	return ok(c, rows)
}

// saveSettings accepts {"category.name": value} pairs.
func saveSettings(c echo.Context) error {
	var payload map[string]interface{}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if err := GetApp(c).SaveSettings(payload); err != nil {
		return fail(c, http.StatusInternalServerError, "SAVE_FAILED", "Failed to save settings", err.Error())
	}
	return ok(c, map[string]interface{}{"saved": len(payload)})
}

func listOprLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.SysOprLog{})
	if v := c.QueryParam("opr_name"); v != "" {
		db = db.Where("opr_name = ?", v)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator logs", err.Error())
	}

	var logs []domain.SysOprLog
	if err := db.Order("opt_time DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query operator logs", err.Error())
	}

	return paged(c, logs, total, page, pageSize)
}
