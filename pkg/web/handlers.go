package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dripflow/dripflow/pkg/services"
)

type APIHandlers struct {
	campaignService *services.Campaign
	validator       *validator.Validate
}

func NewAPIHandlers(campaignService *services.Campaign, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		campaignService: campaignService,
		validator:       validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.campaignService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Dripflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Dripflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetCampaigns(c fiber.Ctx) error {
	campaigns, err := h.campaignService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"campaigns":   campaigns,
		"total_count": len(campaigns),
	})
}

func (h *APIHandlers) GetCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	campaign, err := h.campaignService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(campaign)
}

func (h *APIHandlers) CreateCampaign(c fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.campaignService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// StartCampaign enrolls contacts and begins execution. Contacts come either
// inline as JSON or as a multipart CSV upload under the "contacts" field.
func (h *APIHandlers) StartCampaign(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	contacts, err := h.parseContacts(c)
	if err != nil {
		return handleServiceError(c, err)
	}

	leads, err := h.campaignService.Start(c.Context(), id, contacts)
	if err != nil {
		return handleServiceError(c, err)
	}

	leadIDs := make([]string, 0, len(leads))
	for _, lead := range leads {
		leadIDs = append(leadIDs, lead.ID)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartCampaignResponse{
		CampaignID: id,
		LeadIDs:    leadIDs,
		Enrolled:   len(leads),
	})
}

func (h *APIHandlers) parseContacts(c fiber.Ctx) ([]services.Contact, error) {
	if file, err := c.FormFile("contacts"); err == nil && file != nil {
		f, err := file.Open()
		if err != nil {
			return nil, services.NewValidationError("parseContacts", "BAD_UPLOAD", err.Error(), services.ErrInvalidRequest)
		}
		defer f.Close()

		return services.ParseContactsCSV(f)
	}

	var req StartCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, services.NewValidationError("parseContacts", "BAD_JSON", "invalid JSON format", services.ErrInvalidRequest)
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, services.NewValidationError("parseContacts", "BAD_CONTACTS", err.Error(), services.ErrInvalidRequest)
	}

	contacts := make([]services.Contact, 0, len(req.Contacts))

	for _, contact := range req.Contacts {
		name := contact.Name
		if name == "" {
			name = services.DefaultContactName
		}

		contacts = append(contacts, services.Contact{Name: name, Email: contact.Email})
	}

	return contacts, nil
}

func (h *APIHandlers) GetCampaignLeads(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Campaign ID is required")
	}

	leads, err := h.campaignService.Leads(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"leads":       leads,
		"total_count": len(leads),
	})
}

func (h *APIHandlers) GetLead(c fiber.Ctx) error {
	id := c.Params("leadId")
	if id == "" {
		return badRequest(c, "Lead ID is required")
	}

	lead, err := h.campaignService.Lead(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(lead)
}

func (h *APIHandlers) GetLeadJournal(c fiber.Ctx) error {
	id := c.Params("leadId")
	if id == "" {
		return badRequest(c, "Lead ID is required")
	}

	entries, err := h.campaignService.LeadJournal(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"journal":     entries,
		"total_count": len(entries),
	})
}
