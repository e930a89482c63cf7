package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/aigen-gateway/internal/dispatcher"
	"github.com/jmehdipour/aigen-gateway/internal/http/middleware"
	"github.com/jmehdipour/aigen-gateway/internal/imagepipe"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/service/quota"
	"github.com/jmehdipour/aigen-gateway/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	maxPromptRunes = 2000

	// settleTimeout bounds RecordUsage and ReleaseAdmission after the
	// generation; both may wait on the license lock.
	settleTimeout = 5 * time.Second
)

// settleContext outlives a cancelled request but not settleTimeout.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// generate runs pre-flight checks, admission, the image pipeline and the
// provider call, then records usage. Anything that fails after admission
// releases the quota hold instead of recording.
func (h *handlers) generate(c echo.Context) error {
	lic, ok := middleware.LicenseFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	enf := h.deps.Enforcer

	// Normalize
	prompt := strings.TrimSpace(c.FormValue("prompt"))
	products := 1
	if raw := strings.TrimSpace(c.FormValue("product_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid product_count"})
		}
		products = n
	}

	// Basic validation
	if prompt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt too long"})
	}
	file, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "image is required"})
	}

	// Pre-flight against the tier the license will have at admission
	tier := enf.EffectiveTier(lic)
	limits := enf.TierConfig(tier)
	if !enf.IsProductCountAllowed(tier, products) {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error":                    "too_many_products",
			"tier":                     tier,
			"max_products_per_request": limits.MaxProductsPerRequest,
		})
	}
	if sizeKB := imagepipe.SizeKB(file.Size); !enf.IsImageSizeAllowed(tier, sizeKB) {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]any{
			"error":             "image_too_large",
			"tier":              tier,
			"size_kb":           sizeKB,
			"max_image_size_kb": limits.MaxImageSizeKB,
		})
	}

	ctx := c.Request().Context()
	d, err := enf.CheckAdmission(ctx, lic.ID)
	if err != nil {
		return admissionError(c, err)
	}
	setQuotaHeaders(c, d.MonthlyQuota, d.RemainingGenerations, d.ResetDate)
	if !d.Allowed {
		return writeDenial(c, d)
	}

	// From here on the admission holds quota; anything short of a recorded
	// generation gives it back, panics included.
	recorded := false
	defer func() {
		if recorded {
			return
		}
		rctx, cancel := settleContext(ctx)
		defer cancel()
		_ = enf.ReleaseAdmission(rctx, lic.ID)
	}()

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable image"})
	}
	defer src.Close()

	img, err := h.deps.Images.Prepare(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid image"})
	}

	reqID := c.Response().Header().Get(echo.HeaderXRequestID)
	if reqID == "" {
		reqID = util.New()
	}
	res, err := h.deps.Generator.Generate(ctx, model.GenerationRequest{
		RequestID:    reqID,
		LicenseID:    lic.ID,
		Prompt:       prompt,
		ProductCount: products,
		ImageJPEG:    img.JPEG,
		Width:        img.Width,
		Height:       img.Height,
	})
	if err != nil {
		h.deps.Log.Warn("generation failed",
			zap.String("license_id", lic.ID),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return generationError(c, err)
	}

	// A lost increment under-counts; it never fails the response and waits
	// at most settleTimeout.
	rctx, cancel := settleContext(ctx)
	recorded = enf.RecordUsage(rctx, lic.ID) == nil
	cancel()

	usage := d.CurrentUsage
	remaining := d.RemainingGenerations
	if recorded {
		usage++
		remaining = max(0, remaining-1)
	}
	setQuotaHeaders(c, d.MonthlyQuota, remaining, d.ResetDate)

	return c.JSON(http.StatusOK, map[string]any{
		"request_id": reqID,
		"provider":   res.Provider,
		"images":     res.Images,
		"usage": map[string]any{
			"tier":                  d.Tier,
			"current_usage":         usage,
			"monthly_quota":         d.MonthlyQuota,
			"remaining_generations": remaining,
			"reset_date":            d.ResetDate,
		},
	})
}

func admissionError(c echo.Context, err error) error {
	if errors.Is(err, quota.ErrLicenseNotFound) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid license key"})
	}
	c.Logger().Errorf("admission failed: %v", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "quota check unavailable"})
}

func writeDenial(c echo.Context, d model.Decision) error {
	body := map[string]any{
		"error":                 d.Reason,
		"tier":                  d.Tier,
		"current_usage":         d.CurrentUsage,
		"monthly_quota":         d.MonthlyQuota,
		"remaining_generations": d.RemainingGenerations,
		"reset_date":            d.ResetDate,
	}

	switch d.Reason {
	case model.ReasonLicenseInactive:
		return c.JSON(http.StatusForbidden, body)
	case model.ReasonRateLimitReached:
		var ms int64
		if d.RemainingRateWindowMs != nil {
			ms = *d.RemainingRateWindowMs
		}
		body["retry_after_ms"] = ms
		c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(ms), 10))
		return c.JSON(http.StatusTooManyRequests, body)
	default:
		return c.JSON(http.StatusTooManyRequests, body)
	}
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(ms int64) int64 {
	if ms <= 0 {
		return 1
	}
	return (ms + 999) / 1000
}

func generationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, dispatcher.ErrRejected):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "generation rejected by provider"})
	case errors.Is(err, dispatcher.ErrNoHealthy):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no generation provider available"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{"error": "generation timed out"})
	default:
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "generation failed"})
	}
}

func setQuotaHeaders(c echo.Context, limit, remaining int, reset time.Time) {
	h := c.Response().Header()
	h.Set("X-Quota-Limit", strconv.Itoa(limit))
	h.Set("X-Quota-Remaining", strconv.Itoa(remaining))
	h.Set("X-Quota-Reset", reset.UTC().Format(time.RFC3339))
}
