package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/http/middleware"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	echo "github.com/labstack/echo/v4"
)

// usageReport lists the license's usage events from ClickHouse.
// Query: kind, since (RFC3339), limit, offset.
func (h *handlers) usageReport(c echo.Context) error {
	lic, ok := middleware.LicenseFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	if h.deps.Usage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reports disabled"})
	}

	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	var kind model.UsageEventKind
	if raw := strings.TrimSpace(c.QueryParam("kind")); raw != "" {
		tmp := model.UsageEventKind(raw)
		if !tmp.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid kind"})
		}
		kind = tmp
	}

	var since time.Time
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
		}
		since = t
	}

	events, err := h.deps.Usage.ListByLicense(c.Request().Context(), lic.ID, kind, since, limit, offset)
	if err != nil {
		c.Logger().Errorf("clickhouse list failed: %v", err)

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"limit":   limit,
		"offset":  offset,
		"count":   len(events),
		"results": events,
	})
}
