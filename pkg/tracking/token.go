package tracking

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dripflow/dripflow/pkg/models"
)

// Token lifetime is generous: drip campaigns run for weeks and a pixel in an
// old email should still register.
const tokenTTL = 90 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid tracking token")

// Signal is the payload carried inside a signed tracking token.
type Signal struct {
	LeadID     string
	CampaignID string
	Kind       models.EventKind
	TargetURL  string
}

type tokenClaims struct {
	LeadID     string `json:"lid"`
	CampaignID string `json:"cid"`
	Kind       string `json:"knd"`
	TargetURL  string `json:"url,omitempty"`

	jwt.RegisteredClaims
}

// TokenSigner mints and verifies the HMAC tokens embedded in tracking pixel
// and click-redirect URLs, so a scraper cannot forge signals for arbitrary
// leads.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		now:    time.Now,
	}
}

func (s *TokenSigner) Sign(signal Signal) (string, error) {
	now := s.now().UTC()

	claims := tokenClaims{
		LeadID:     signal.LeadID,
		CampaignID: signal.CampaignID,
		Kind:       string(signal.Kind),
		TargetURL:  signal.TargetURL,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign tracking token: %w", err)
	}

	return signed, nil
}

func (s *TokenSigner) Verify(tokenString string) (Signal, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Signal{}, ErrInvalidToken
	}

	kind := models.EventKind(claims.Kind)
	if !kind.Valid() {
		return Signal{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, claims.Kind)
	}

	return Signal{
		LeadID:     claims.LeadID,
		CampaignID: claims.CampaignID,
		Kind:       kind,
		TargetURL:  claims.TargetURL,
	}, nil
}
