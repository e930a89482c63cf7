package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/jmehdipour/aigen-gateway/internal/util"
	echo "github.com/labstack/echo/v4"
)

const (
	HeaderLicenseKey = "X-License-Key"
	ctxLicense       = "license"
)

// LicenseFromCtx returns the license resolved by LicenseKeyMiddleware.
func LicenseFromCtx(c echo.Context) (*model.License, bool) {
	l, ok := c.Get(ctxLicense).(*model.License)
	return l, ok && l != nil
}

// LicenseKeyMiddleware resolves X-License-Key to a license. Status is not
// checked here: inactive licenses still read their usage, and admission
// reports them as denied.
//
// With enforceDomain, browser calls must come from the licensed domain or one
// of its subdomains (Origin, falling back to Referer).
func LicenseKeyMiddleware(licenses repository.LicensesRepository, enforceDomain bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderLicenseKey))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing license key"})
			}
			l, err := licenses.FindByAPIKey(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("license lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if l == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid license key"})
			}

			if enforceDomain && !domainAllowed(c.Request(), l.Domain) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "domain not licensed"})
			}

			c.Set(ctxLicense, l)
			return next(c)
		}
	}
}

func domainAllowed(r *http.Request, licensed string) bool {
	licensed = util.NormalizeDomain(licensed)
	src := r.Header.Get("Origin")
	if src == "" {
		src = r.Header.Get("Referer")
	}
	if src == "" {
		// server-to-server call, nothing to compare
		return true
	}
	host := util.NormalizeDomain(src)
	return host == licensed || strings.HasSuffix(host, "."+licensed)
}
