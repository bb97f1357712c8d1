package dispatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/tracking"
)

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// Instrumenter rewrites an HTML body so that opens and clicks report back to
// the tracking endpoints. Every absolute link is redirected through
// /track/click with a signed token carrying the original destination, and a
// one-pixel image pointing at /track/open is appended.
type Instrumenter struct {
	baseURL string
	signer  *tracking.TokenSigner
}

func NewInstrumenter(baseURL string, signer *tracking.TokenSigner) *Instrumenter {
	return &Instrumenter{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}
}

// Instrument returns the body with tracked links and the open pixel. Signing
// failures leave the affected link untouched rather than breaking the email.
func (i *Instrumenter) Instrument(body, leadID, campaignID string) string {
	rewritten := hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		target := hrefPattern.FindStringSubmatch(match)[1]

		token, err := i.signer.Sign(tracking.Signal{
			LeadID:     leadID,
			CampaignID: campaignID,
			Kind:       models.EventKindClicked,
			TargetURL:  target,
		})
		if err != nil {
			return match
		}

		return fmt.Sprintf(`href="%s/track/click?token=%s"`, i.baseURL, url.QueryEscape(token))
	})

	pixel := i.pixelTag(leadID, campaignID)
	if pixel == "" {
		return rewritten
	}

	if idx := strings.LastIndex(rewritten, "</body>"); idx >= 0 {
		return rewritten[:idx] + pixel + rewritten[idx:]
	}

	return rewritten + pixel
}

func (i *Instrumenter) pixelTag(leadID, campaignID string) string {
	token, err := i.signer.Sign(tracking.Signal{
		LeadID:     leadID,
		CampaignID: campaignID,
		Kind:       models.EventKindOpened,
	})
	if err != nil {
		return ""
	}

	return fmt.Sprintf(`<img src="%s/track/open?token=%s" width="1" height="1" alt="" style="display:none"/>`,
		i.baseURL, url.QueryEscape(token))
}
