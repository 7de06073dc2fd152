package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
)

const (
	signatureHeader = "X-Webhook-Signature"
	tokenHeader     = "X-Webhook-Token"

	schemeHmacSha256  = "hmac-sha256"
	schemeHmacSha1    = "hmac-sha1"
	schemeSharedToken = "shared-token"
)

var (
	ErrInvalidSignature  = errors.New("webhook signature verification failed")
	ErrUnknownSignScheme = errors.New("unknown webhook signature scheme")
)

// Verifier checks inbound webhook authenticity using the provider's
// configured scheme.  All comparisons are constant time.
type Verifier struct {
	settings map[domain.Provider]config.ProviderSettings
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{
		settings: cfg.Providers,
	}
}

func (v *Verifier) Verify(provider domain.Provider, headers http.Header, body []byte) error {

	settings, ok := v.settings[provider]
	if !ok {
		return ErrInvalidSignature
	}

	switch settings.WebhookSignatureScheme {
	case schemeHmacSha256:
		return verifyHmacSha256(settings.WebhookSecret, headers.Get(signatureHeader), body)
	case schemeHmacSha1:
		return verifyHmacSha1(settings.WebhookSecret, headers.Get(signatureHeader), body)
	case schemeSharedToken:
		return verifySharedToken(settings.WebhookSecret, headers.Get(tokenHeader))
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSignScheme, settings.WebhookSignatureScheme)
	}
}

func verifyHmacSha256(secret string, signature string, body []byte) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func verifyHmacSha1(secret string, signature string, body []byte) error {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

func verifySharedToken(secret string, token string) error {
	if token == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(token)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
