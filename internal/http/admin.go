package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const headerAdminToken = "X-Admin-Token"

// adminTokenMiddleware guards /admin. With no token configured the group is off.
func adminTokenMiddleware(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			got := strings.TrimSpace(c.Request().Header.Get(headerAdminToken))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}

// sweep runs the batch maintenance on demand; kind is monthly, expired or all (default).
func (h *handlers) sweep(c echo.Context) error {
	kind := c.QueryParam("kind")
	if kind == "" {
		kind = "all"
	}
	if kind != "all" && kind != "monthly" && kind != "expired" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind must be monthly, expired or all"})
	}

	ctx := c.Request().Context()
	out := map[string]any{}

	// degrade first so licenses that expired last month are also reset
	if kind == "all" || kind == "expired" {
		n, err := h.deps.Enforcer.SweepExpired(ctx)
		if err != nil {
			h.deps.Log.Error("expiry sweep failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "expiry sweep failed", "degraded": n})
		}
		out["degraded"] = n
	}
	if kind == "all" || kind == "monthly" {
		n, err := h.deps.Enforcer.SweepMonthlyResets(ctx)
		if err != nil {
			h.deps.Log.Error("monthly sweep failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]any{"error": "monthly sweep failed", "reset": n})
		}
		out["reset"] = n
	}

	return c.JSON(http.StatusOK, out)
}
