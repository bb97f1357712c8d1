package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/tracking"
)

// transparentGIF is the 1x1 pixel answered by the open endpoint.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandlers serves the out-of-band open and click callbacks. Both
// endpoints answer the caller no matter what: a broken or replayed token
// must not break the email experience, so signal processing failures are
// only logged. Idempotency lives downstream — a duplicate signal finds no
// unprocessed waiting event and consumes nothing.
type TrackingHandlers struct {
	signer    *tracking.TokenSigner
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewTrackingHandlers(signer *tracking.TokenSigner, publisher eventbus.EventPublisher, logger *slog.Logger) *TrackingHandlers {
	return &TrackingHandlers{
		signer:    signer,
		publisher: publisher,
		logger:    logger.With("module", "tracking_handlers"),
	}
}

// TrackOpen answers the tracking pixel and bridges the open signal onto the
// bus.
func (h *TrackingHandlers) TrackOpen(c fiber.Ctx) error {
	h.bridgeSignal(c, c.Query("token"))

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")

	return c.Status(fiber.StatusOK).Send(transparentGIF)
}

// TrackClick bridges the click signal and redirects to the original
// destination carried inside the token. Without a valid token there is no
// destination to redirect to.
func (h *TrackingHandlers) TrackClick(c fiber.Ctx) error {
	token := c.Query("token")

	signal, err := h.signer.Verify(token)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Rejected click with invalid token", "error", err)

		return badRequest(c, "invalid tracking token")
	}

	h.bridgeSignal(c, token)

	return c.Redirect().Status(fiber.StatusFound).To(signal.TargetURL)
}

func (h *TrackingHandlers) bridgeSignal(c fiber.Ctx, token string) {
	signal, err := h.signer.Verify(token)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Ignoring signal with invalid token", "error", err)

		return
	}

	event := events.TrackingSignalReceived{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.TrackingSignalReceivedEvent,
			Timestamp:  time.Now().UTC(),
			CampaignID: signal.CampaignID,
		},
		LeadID:    signal.LeadID,
		Kind:      signal.Kind,
		TargetURL: signal.TargetURL,
	}

	if err := h.publisher.Publish(c.Context(), signal.LeadID, event); err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to bridge tracking signal",
			"lead_id", signal.LeadID,
			"kind", signal.Kind,
			"error", err)
	}
}
