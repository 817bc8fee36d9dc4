package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/sparklehome/membership/pkg/types"
)

var (
	ErrInvalidSignature = errors.New("invalid billing webhook signature")
	ErrInvalidPayload   = errors.New("invalid billing webhook payload")
)

// EventClaims is the body of a signed billing webhook. The processor signs it
// as an HS256 JWT with the shared webhook secret.
type EventClaims struct {
	jwt.StandardClaims
	Type           types.BillingEventType `json:"type"`
	RecordID       string                 `json:"record_id"`
	NewPeriodEnd   *time.Time             `json:"new_period_end,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
}

func (c *EventClaims) validate() error {
	if c.RecordID == "" {
		return fmt.Errorf("%w: record_id required", ErrInvalidPayload)
	}
	if c.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key required", ErrInvalidPayload)
	}
	switch c.Type {
	case types.BillingEventTypePaymentSucceeded:
		if c.NewPeriodEnd == nil || c.NewPeriodEnd.IsZero() {
			return fmt.Errorf("%w: new_period_end required for %s", ErrInvalidPayload, c.Type)
		}
	case types.BillingEventTypePaymentFailed:
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidPayload, c.Type)
	}
	return nil
}

// ParseSignedPayload verifies signedPayload against secret and decodes it.
func ParseSignedPayload(signedPayload string, secret []byte) (*EventClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	claims := &EventClaims{}
	token, err := jwt.ParseWithClaims(signedPayload, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

// SignPayload produces a signed payload. The CLI and tests use it to
// simulate the payment processor.
func SignPayload(claims *EventClaims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
