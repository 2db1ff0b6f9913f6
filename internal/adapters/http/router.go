package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/townin/geocore/internal/pkg/metrics"
)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed, // Balance speed vs compression ratio
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests, please try again later",
			})
		},
		SkipFailedRequests: false,
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Deprecated-route headers for the pre-rename locations endpoints
	app.Use(DeprecationMiddleware(LegacyRoutes()))

	// Health & readiness (no timeout — fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// REST API v1 — 15s per-request timeout
	v1 := app.Group("/v1")

	// Hubs
	v1.Put("/users/:id/hubs/:category", timeout.NewWithContext(SetHubHandler(deps), 15*time.Second))
	v1.Get("/users/:id/hubs", timeout.NewWithContext(ListHubsHandler(deps), 15*time.Second))
	v1.Delete("/users/:id/hubs/:category", timeout.NewWithContext(RemoveHubHandler(deps), 15*time.Second))

	// Deprecated aliases kept for older clients
	v1.Put("/users/:id/locations", timeout.NewWithContext(LegacySetLocationHandler(deps), 15*time.Second))
	v1.Get("/users/:id/locations", timeout.NewWithContext(ListHubsHandler(deps), 15*time.Second))

	// Family members
	v1.Post("/users/:id/family", timeout.NewWithContext(AddFamilyMemberHandler(deps), 15*time.Second))
	v1.Get("/users/:id/family", timeout.NewWithContext(ListFamilyMembersHandler(deps), 15*time.Second))
	v1.Patch("/users/:id/family/:member_id", timeout.NewWithContext(UpdateFamilyMemberHandler(deps), 15*time.Second))
	v1.Delete("/users/:id/family/:member_id", timeout.NewWithContext(RemoveFamilyMemberHandler(deps), 15*time.Second))

	// Cells
	v1.Post("/cells/resolve", timeout.NewWithContext(ResolveCellHandler(deps), 15*time.Second))
	v1.Get("/cells", timeout.NewWithContext(ListCellsHandler(deps), 15*time.Second))
	v1.Get("/cells/:res/:x/:y", timeout.NewWithContext(GetCellHandler(deps), 15*time.Second))
	v1.Post("/cells/:res/:x/:y/annotations", timeout.NewWithContext(AnnotateCellHandler(deps), 15*time.Second))
	v1.Delete("/cells/:res/:x/:y", timeout.NewWithContext(DeactivateCellHandler(deps), 15*time.Second))

	// Dataset sync and audit — syncs get a longer budget than reads
	v1.Post("/sync/:kind", timeout.NewWithContext(SyncDatasetHandler(deps), 120*time.Second))
	v1.Get("/sync/runs", timeout.NewWithContext(ListSyncRunsHandler(deps), 15*time.Second))
	v1.Get("/sync/status", timeout.NewWithContext(SyncStatusHandler(deps), 15*time.Second))

	// Entities
	v1.Get("/entities/:kind/nearby", timeout.NewWithContext(NearbyEntitiesHandler(deps), 15*time.Second))
	v1.Get("/entities/:kind", timeout.NewWithContext(ListEntitiesHandler(deps), 15*time.Second))

	// Regions
	v1.Get("/regions", timeout.NewWithContext(ListRegionsHandler(deps), 15*time.Second))
	v1.Get("/regions/:code", timeout.NewWithContext(GetRegionHandler(deps), 15*time.Second))

	// Stats
	v1.Get("/geo/status", timeout.NewWithContext(GeoStatsHandler(deps), 15*time.Second))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
