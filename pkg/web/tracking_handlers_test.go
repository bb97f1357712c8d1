package web_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/tracking"
	"github.com/dripflow/dripflow/pkg/web"
)

func setupTrackingApp(t *testing.T) (*fiber.App, *tracking.TokenSigner, *capturingPublisher) {
	t.Helper()

	signer := tracking.NewTokenSigner("test-secret")
	publisher := &capturingPublisher{}
	handlers := web.NewTrackingHandlers(signer, publisher, slog.Default())

	app := fiber.New()
	app.Get("/track/open", handlers.TrackOpen)
	app.Get("/track/click", handlers.TrackClick)

	return app, signer, publisher
}

func TestTrackOpenServesPixelAndBridgesSignal(t *testing.T) {
	app, signer, publisher := setupTrackingApp(t)

	token, err := signer.Sign(tracking.Signal{
		LeadID:     "lead-1",
		CampaignID: "camp-1",
		Kind:       models.EventKindOpened,
	})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/track/open?token="+url.QueryEscape(token), nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.events, 1)

	signal, ok := publisher.events[0].(events.TrackingSignalReceived)
	require.True(t, ok)
	assert.Equal(t, "lead-1", signal.LeadID)
	assert.Equal(t, models.EventKindOpened, signal.Kind)
}

func TestTrackOpenWithBadTokenStillServesPixel(t *testing.T) {
	app, _, publisher := setupTrackingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/track/open?token=garbage", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode, "the pixel is always answered")
	assert.Equal(t, 0, publisher.count(), "no signal is bridged for a forged token")
}

func TestTrackClickRedirectsToTarget(t *testing.T) {
	app, signer, publisher := setupTrackingApp(t)

	token, err := signer.Sign(tracking.Signal{
		LeadID:     "lead-1",
		CampaignID: "camp-1",
		Kind:       models.EventKindClicked,
		TargetURL:  "https://example.com/offer",
	})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/track/click?token="+url.QueryEscape(token), nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/offer", resp.Header.Get("Location"))
	assert.Equal(t, 1, publisher.count())
}

func TestTrackClickRejectsBadToken(t *testing.T) {
	app, _, publisher := setupTrackingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/track/click?token=garbage", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no destination to redirect to without a valid token")
	assert.Equal(t, 0, publisher.count())
}
