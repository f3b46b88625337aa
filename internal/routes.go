package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "referly/api/v1"
	"referly/internal/config"
	"referly/internal/http"
	"referly/internal/http/middleware"
	"referly/internal/pipeline"
)

// publicCORSConfig is shared by every endpoint embedded on partner sites.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referer, User-Agent",
}

// MountRoutes mounts the admin and public API backed by services. Manual job
// runs go through runner so they share the scheduler's overlap guard.
func MountRoutes(srv *cartridge.Server, cfg *config.Config, services *pipeline.Services, runner http.JobRunner) {
	logger := srv.GetLogger()

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 120/min per IP covers a popup shown and clicked on a busy page.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	provide := http.ProvideServices(services)

	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{publicRateLimiter, provide},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	adminAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.AdminAPIKeyAuth(cfg.AdminAPIKey, logger),
			provide,
			http.ProvideJobs(runner),
		},
		EnableSecFetchSite: cartridge.Bool(false),
	}

	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC POPUP EVENTS ===
	srv.Post("/api/popups/:id/view", v1.PopupViewAction, publicAPIConfig)
	srv.Options("/api/popups/:id/view", preflight, publicAPIConfig)
	srv.Post("/api/popups/:id/click", v1.PopupClickAction, publicAPIConfig)
	srv.Options("/api/popups/:id/click", preflight, publicAPIConfig)
	srv.Post("/api/popups/:id/beacon/:kind", v1.PopupBeaconAction, publicAPIConfig)
	srv.Get("/api/popups/:id", v1.PopupShowAction, publicAPIConfig)

	// === PUBLIC PARTNER SUMMARY ===
	srv.Get("/api/partners/public/summary", http.PartnerPublicSummaryAction, publicAPIConfig)
	srv.Options("/api/partners/public/summary", preflight, publicAPIConfig)

	// === POPUP ADMINISTRATION ===
	srv.Get("/api/popups", http.PopupsIndexAction, adminAPIConfig)
	srv.Post("/api/popups", http.PopupCreateAction, adminAPIConfig)

	// === ANALYTICS ===
	srv.Get("/api/analytics/data", http.AnalyticsDataAction, adminAPIConfig)
	srv.Get("/api/analytics/sites", http.AnalyticsSitesAction, adminAPIConfig)
	srv.Get("/api/analytics/summary", http.AnalyticsSummaryAction, adminAPIConfig)
	srv.Get("/api/analytics/site-totals", http.AnalyticsSiteTotalsAction, adminAPIConfig)
	srv.Get("/api/analytics/weekly", http.AnalyticsRollupAction(false), adminAPIConfig)
	srv.Get("/api/analytics/monthly", http.AnalyticsRollupAction(true), adminAPIConfig)
	srv.Post("/api/analytics/initialize", http.AnalyticsInitializeAction, adminAPIConfig)
	srv.Post("/api/analytics/sync-today", http.AnalyticsSyncTodayAction, adminAPIConfig)
	srv.Post("/api/analytics/run-daily", http.AnalyticsRunDailyAction, adminAPIConfig)
	srv.Post("/api/analytics/repair", http.AnalyticsRepairAction, adminAPIConfig)

	// === JOBS ===
	srv.Get("/api/jobs", http.JobsIndexAction, adminAPIConfig)
	srv.Post("/api/jobs/:name/run", http.JobRunAction, adminAPIConfig)

	// === PARTNER PAYMENTS ===
	srv.Get("/api/partners/payments/calculate", http.PartnerPaymentsCalculateAction, adminAPIConfig)
	srv.Post("/api/partners/payments/recalculate", http.PartnerPaymentsRecalculateAction, adminAPIConfig)

	// === PARTNERS ===
	srv.Get("/api/partners", http.PartnersIndexAction, adminAPIConfig)
	srv.Post("/api/partners", http.PartnerCreateAction, adminAPIConfig)
	srv.Get("/api/partners/:id", http.PartnerShowAction, adminAPIConfig)
	srv.Put("/api/partners/:id", http.PartnerUpdateAction, adminAPIConfig)
	srv.Delete("/api/partners/:id", http.PartnerDeleteAction, adminAPIConfig)

	// === PARTNER E-MAIL DRAFTS ===
	srv.Get("/api/partner-emails/drafts", http.DraftsIndexAction, adminAPIConfig)
	srv.Post("/api/partner-emails/generate", http.DraftsGenerateAction, adminAPIConfig)
	srv.Get("/api/partner-emails/draft/:id", http.DraftShowAction, adminAPIConfig)
	srv.Put("/api/partner-emails/draft/:id", http.DraftUpdateAction, adminAPIConfig)
	srv.Post("/api/partner-emails/draft/:id", http.DraftUpdateAction, adminAPIConfig)
	srv.Post("/api/partner-emails/send/:id", http.DraftSendAction, adminAPIConfig)
	srv.Post("/api/partner-emails/send-batch", http.DraftsSendBatchAction, adminAPIConfig)
}
