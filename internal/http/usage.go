package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/aigen-gateway/internal/http/middleware"
	"github.com/jmehdipour/aigen-gateway/internal/service/quota"
	"github.com/labstack/echo/v4"
)

func (h *handlers) usage(c echo.Context) error {
	lic, ok := middleware.LicenseFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	st, err := h.deps.Enforcer.UsageStats(c.Request().Context(), lic.ID)
	if err != nil {
		if errors.Is(err, quota.ErrLicenseNotFound) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid license key"})
		}
		c.Logger().Errorf("usage stats failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "usage unavailable"})
	}

	setQuotaHeaders(c, st.MonthlyQuota, st.RemainingGenerations, st.ResetDate)
	return c.JSON(http.StatusOK, map[string]any{
		"usage":  st,
		"limits": h.deps.Enforcer.TierConfig(st.Tier),
	})
}
