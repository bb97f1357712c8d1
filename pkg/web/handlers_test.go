package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence/file"
	"github.com/dripflow/dripflow/pkg/services"
	"github.com/dripflow/dripflow/pkg/web"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return nil
}

func (c *capturingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

func setupTestApp(t *testing.T) (*fiber.App, *capturingPublisher) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	publisher := &capturingPublisher{}
	campaignService := services.NewCampaign(store, publisher, slog.Default())
	handlers := web.NewAPIHandlers(campaignService, validator.New())

	app := fiber.New()

	campaigns := app.Group("/campaigns")
	campaigns.Get("/", handlers.GetCampaigns)
	campaigns.Post("/", handlers.CreateCampaign)
	campaigns.Get("/:id", handlers.GetCampaign)
	campaigns.Post("/:id/start", handlers.StartCampaign)
	campaigns.Get("/:id/leads", handlers.GetCampaignLeads)
	app.Get("/leads/:leadId", handlers.GetLead)
	app.Get("/leads/:leadId/journal", handlers.GetLeadJournal)
	app.Get("/health", handlers.HealthCheck)

	return app, publisher
}

func validCreateRequest() web.CreateCampaignRequest {
	return web.CreateCampaignRequest{
		Name: "welcome drip",
		Nodes: []web.NodeRequest{
			{ID: "start-1", Kind: "start"},
			{ID: "email-1", Kind: "action", Config: map[string]any{"subject": "Hi", "body": "<p>Hi</p>"}},
			{ID: "end-1", Kind: "end"},
		},
		Connections: []web.ConnectionRequest{
			{FromNode: "start-1", ToNode: "email-1"},
			{FromNode: "email-1", ToNode: "end-1"},
		},
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) *http.Response {
	t.Helper()

	var body []byte

	if str, ok := payload.(string); ok {
		body = []byte(str)
	} else if payload != nil {
		var err error

		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

func createCampaign(t *testing.T, app *fiber.App) models.Campaign {
	t.Helper()

	resp := doJSON(t, app, http.MethodPost, "/campaigns/", validCreateRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var campaign models.Campaign

	decodeBody(t, resp, &campaign)

	return campaign
}

func TestCreateCampaign(t *testing.T) {
	app, _ := setupTestApp(t)

	campaign := createCampaign(t, app)
	assert.NotEmpty(t, campaign.ID)
	assert.Equal(t, models.CampaignStatusReady, campaign.Status)
	assert.Equal(t, "start-1", campaign.StartNode)
}

func TestCreateCampaignRejectsInvalidJSON(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodPost, "/campaigns/", "not-json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateCampaignRejectsBrokenGraph(t *testing.T) {
	app, _ := setupTestApp(t)

	req := validCreateRequest()
	req.Connections = req.Connections[:1]

	resp := doJSON(t, app, http.MethodPost, "/campaigns/", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem map[string]any

	decodeBody(t, resp, &problem)
	assert.Equal(t, "validation_error", problem["type"])
}

func TestCreateCampaignRejectsUnknownNodeKind(t *testing.T) {
	app, _ := setupTestApp(t)

	req := validCreateRequest()
	req.Nodes[1].Kind = "teleport"

	resp := doJSON(t, app, http.MethodPost, "/campaigns/", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCampaignNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/campaigns/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartCampaignWithInlineContacts(t *testing.T) {
	app, publisher := setupTestApp(t)
	campaign := createCampaign(t, app)

	resp := doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", web.StartCampaignRequest{
		Contacts: []web.ContactRequest{
			{Name: "Ada", Email: "ada@example.com"},
			{Email: "grace@example.com"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result web.StartCampaignResponse

	decodeBody(t, resp, &result)
	assert.Equal(t, 2, result.Enrolled)
	assert.Len(t, result.LeadIDs, 2)
	assert.Equal(t, 2, publisher.count(), "one run request per enrolled lead")
}

func TestStartCampaignTwiceConflicts(t *testing.T) {
	app, _ := setupTestApp(t)
	campaign := createCampaign(t, app)

	start := web.StartCampaignRequest{
		Contacts: []web.ContactRequest{{Email: "ada@example.com"}},
	}

	resp := doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", start)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", start)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartCampaignRejectsInvalidEmail(t *testing.T) {
	app, _ := setupTestApp(t)
	campaign := createCampaign(t, app)

	resp := doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", web.StartCampaignRequest{
		Contacts: []web.ContactRequest{{Email: "not-an-email"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCampaignLeads(t *testing.T) {
	app, _ := setupTestApp(t)
	campaign := createCampaign(t, app)

	resp := doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", web.StartCampaignRequest{
		Contacts: []web.ContactRequest{{Name: "Ada", Email: "ada@example.com"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/campaigns/"+campaign.ID+"/leads", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Leads      []*models.Lead `json:"leads"`
		TotalCount int            `json:"total_count"`
	}

	decodeBody(t, resp, &result)
	require.Equal(t, 1, result.TotalCount)
	assert.Equal(t, "ada@example.com", result.Leads[0].Email)
	assert.Equal(t, models.LeadStatusPending, result.Leads[0].Status)
}

func TestGetLead(t *testing.T) {
	app, _ := setupTestApp(t)
	campaign := createCampaign(t, app)

	resp := doJSON(t, app, http.MethodPost, "/campaigns/"+campaign.ID+"/start", web.StartCampaignRequest{
		Contacts: []web.ContactRequest{{Name: "Ada", Email: "ada@example.com"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started web.StartCampaignResponse

	decodeBody(t, resp, &started)
	require.Len(t, started.LeadIDs, 1)

	resp = doJSON(t, app, http.MethodGet, "/leads/"+started.LeadIDs[0], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lead models.Lead

	decodeBody(t, resp, &lead)
	assert.Equal(t, "ada@example.com", lead.Email)
	assert.Equal(t, campaign.ID, lead.CampaignID)
}

func TestGetLeadNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/leads/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetLeadJournalNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/leads/ghost/journal", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
