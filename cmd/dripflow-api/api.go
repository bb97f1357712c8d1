// Package main provides the Dripflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/services"
	"github.com/dripflow/dripflow/pkg/tracking"
	"github.com/dripflow/dripflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	signer      *tracking.TokenSigner
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	signer *tracking.TokenSigner,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		signer:      signer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	campaignService := services.NewCampaign(a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(campaignService, a.validate)
	trackingHandlers := web.NewTrackingHandlers(a.signer, a.eventBus, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Dripflow API")
	})

	campaigns := app.Group("/campaigns")
	campaigns.Get("/", handlers.GetCampaigns)
	campaigns.Post("/", handlers.CreateCampaign)
	campaigns.Get("/:id", handlers.GetCampaign)
	campaigns.Post("/:id/start", handlers.StartCampaign)
	campaigns.Get("/:id/leads", handlers.GetCampaignLeads)

	app.Get("/leads/:leadId", handlers.GetLead)
	app.Get("/leads/:leadId/journal", handlers.GetLeadJournal)

	// Open/click callbacks hit by mail clients; no auth beyond the token.
	app.Get("/track/open", trackingHandlers.TrackOpen)
	app.Get("/track/click", trackingHandlers.TrackClick)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
