package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/labstack/echo/v4"
)

func (h *handlers) listTiers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"tiers": h.deps.Enforcer.Tiers()})
}

// getTier is strict: unlike admission, an unknown name is a 404 rather than free.
func (h *handlers) getTier(c echo.Context) error {
	raw := strings.TrimSpace(c.Param("tier"))
	tier, ok := model.ParseTier(raw)
	if !ok || raw == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown tier"})
	}
	return c.JSON(http.StatusOK, h.deps.Enforcer.TierConfig(tier))
}
