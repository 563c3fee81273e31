package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/montanaflynn/stats"

	"github.com/inlinesoft/whatsdesk/internal/domain"
	"github.com/inlinesoft/whatsdesk/internal/webserver"
)

func registerReportRoutes() {
	webserver.ApiGET("/whatsapp/reports/events", listEventLogs)
	webserver.ApiGET("/whatsapp/reports/summary", eventSummary)
	webserver.ApiGET("/whatsapp/reports/events/export", exportEventLogs)
}

func listEventLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)

	db := GetDB(c).Model(&domain.WaEventLog{})
	if v := c.QueryParam("account_id"); v != "" {
		db = db.Where("account_id = ?", v)
	}
	if v := c.QueryParam("source"); v != "" {
		db = db.Where("source = ?", v)
	}
	if v := c.QueryParam("event"); v != "" {
		db = db.Where("event = ?", v)
	}
	if v := c.QueryParam("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			db = db.Where("event_time >= ?", t)
		}
	}
	if v := c.QueryParam("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			db = db.Where("event_time < ?", t)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query event logs", err.Error())
	}

	var logs []domain.WaEventLog
	if err := db.Order("event_time DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query event logs", err.Error())
	}

	return paged(c, logs, total, page, pageSize)
}

// eventSummary aggregates per-account disconnect behavior over the last N
// days (default 7): event counts plus mean/median/max disconnects per day.
func eventSummary(c echo.Context) error {
	days := 7
	if v := c.QueryParam("days"); v != "" {
		if _, err := fmt.Sscan(v, &days); err != nil || days < 1 || days > 90 {
			days = 7
		}
	}
	since := time.Now().AddDate(0, 0, -days)

	var logs []domain.WaEventLog
	if err := GetDB(c).Where("event_time >= ?", since).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query event logs", err.Error())
	}

	type acctSummary struct {
		AccountID       string `json:"account_id"`
		AccountName     string `json:"account_name"`
		Events          int    `json:"events"`
		Disconnects     int    `json:"disconnects"`
		Connects        int    `json:"connects"`
		ThrottleRejects int    `json:"throttle_rejects"`
	}
	byAccount := map[string]*acctSummary{}
	disconnectsPerDay := map[string]float64{}

	for _, l := range logs {
		s := byAccount[l.AccountID]
		if s == nil {
			s = &acctSummary{AccountID: l.AccountID, AccountName: l.AccountName}
			byAccount[l.AccountID] = s
		}
		s.Events++
		switch l.Event {
		case "disconnected":
			s.Disconnects++
			disconnectsPerDay[l.EventTime.Format("2006-01-02")]++
		case "connected":
			s.Connects++
		case "throttle-reject":
			s.ThrottleRejects++
		}
	}

	daily := make([]float64, 0, len(disconnectsPerDay))
	for _, n := range disconnectsPerDay {
		daily = append(daily, n)
	}
	var mean, median, max float64
	if len(daily) > 0 {
		mean, _ = stats.Mean(daily)
		median, _ = stats.Median(daily)
		max, _ = stats.Max(daily)
	}

	summaries := make([]acctSummary, 0, len(byAccount))
	for _, s := range byAccount {
		summaries = append(summaries, *s)
	}

	return ok(c, map[string]interface{}{
		"days":     days,
		"accounts": summaries,
		"disconnects_per_day": map[string]interface{}{
			"mean":   mean,
			"median": median,
			"max":    max,
		},
	})
}

type eventLogExportRow struct {
	AccountID   string `csv:"account_id"`
	AccountName string `csv:"account_name"`
	Source      string `csv:"source"`
	Event       string `csv:"event"`
	FromStatus  string `csv:"from_status"`
	ToStatus    string `csv:"to_status"`
	Detail      string `csv:"detail"`
	EventTime   string `csv:"event_time"`
}

// exportEventLogs streams the event log as csv (default) or xlsx.
func exportEventLogs(c echo.Context) error {
	var logs []domain.WaEventLog
	db := GetDB(c).Model(&domain.WaEventLog{})
	if v := c.QueryParam("account_id"); v != "" {
		db = db.Where("account_id = ?", v)
	}
	if err := db.Order("event_time DESC").Limit(10000).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query event logs", err.Error())
	}

	rows := make([]eventLogExportRow, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, eventLogExportRow{
			AccountID:   l.AccountID,
			AccountName: l.AccountName,
			Source:      l.Source,
			Event:       l.Event,
			FromStatus:  l.FromStatus,
			ToStatus:    l.ToStatus,
			Detail:      l.Detail,
			EventTime:   l.EventTime.Format(time.RFC3339),
		})
	}

	if strings.EqualFold(c.QueryParam("format"), "xlsx") {
		xlsx := excelize.NewFile()
		headers := []string{"account_id", "account_name", "source", "event", "from_status", "to_status", "detail", "event_time"}
		for i, h := range headers {
			cell := fmt.Sprintf("%s1", string(rune('A'+i)))
			xlsx.SetCellValue("Sheet1", cell, h)
		}
		for ri, row := range rows {
			values := []string{row.AccountID, row.AccountName, row.Source, row.Event, row.FromStatus, row.ToStatus, row.Detail, row.EventTime}
			for ci, v := range values {
				cell := fmt.Sprintf("%s%d", string(rune('A'+ci)), ri+2)
				xlsx.SetCellValue("Sheet1", cell, v)
			}
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="wa_event_log.xlsx"`)
		c.Response().Header().Set(echo.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Response().WriteHeader(http.StatusOK)
		return xlsx.Write(c.Response())
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="wa_event_log.csv"`)
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().WriteHeader(http.StatusOK)
	return gocsv.Marshal(&rows, c.Response())
}
