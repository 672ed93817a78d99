// Package demo contains two small modules used by the modhost binary and its
// tests: auth issues and verifies tokens, billing depends on auth and imports
// its verifier.
package demo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/routes"
)

// Entry points registered in modhost.DefaultCatalog.
const (
	AuthEntryPoint    = "demo.auth"
	BillingEntryPoint = "demo.billing"
)

// Resource and extension names shared by the demo modules.
const (
	TokenVerifierResource = "tokenVerifier"
	TokenIssuerExtension  = "auth.token-issuer"
	PaymentExtension      = "billing.payment-gateway"
)

// ErrInvalidToken is returned by TokenVerifier.Verify.
var ErrInvalidToken = errors.New("invalid token")

func init() {
	modhost.RegisterModule(AuthEntryPoint, func(*modhost.Descriptor) (modhost.Module, error) {
		return &AuthModule{}, nil
	})
	modhost.RegisterModule(BillingEntryPoint, func(*modhost.Descriptor) (modhost.Module, error) {
		return &BillingModule{}, nil
	})
	modhost.RegisterExtension(PaymentExtension, func(mc *modhost.Context) (any, error) {
		return &PaymentGateway{Currency: mc.Properties().String("currency")}, nil
	})
}

// TokenVerifier checks tokens signed with a shared secret.
type TokenVerifier struct {
	secret   []byte
	verified atomic.Int64
}

// NewTokenVerifier creates a verifier for secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Issue signs subject.
func (v *TokenVerifier) Issue(subject string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(subject))
	return subject + "." + hex.EncodeToString(mac.Sum(nil))
}

// Verify returns the subject of a valid token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	subject, sig, ok := strings.Cut(token, ".")
	if !ok || subject == "" {
		return "", ErrInvalidToken
	}
	expected := v.Issue(subject)
	if !hmac.Equal([]byte(expected), []byte(subject+"."+sig)) {
		return "", ErrInvalidToken
	}
	v.verified.Add(1)
	return subject, nil
}

// Verified counts successful verifications.
func (v *TokenVerifier) Verified() int64 { return v.verified.Load() }

// TokenIssuer is the auth module's extension. Other parts of the host find
// it in the host container.
type TokenIssuer struct {
	verifier *TokenVerifier
}

func (i *TokenIssuer) Issue(subject string) string { return i.verifier.Issue(subject) }

// AuthModule publishes a TokenVerifier and a small HTTP API.
type AuthModule struct {
	verifier *TokenVerifier
}

func (m *AuthModule) Setup(_ context.Context, mc *modhost.Context) error {
	secret := mc.Properties().String("secret")
	if secret == "" {
		secret = "changeme"
	}
	m.verifier = NewTokenVerifier(secret)
	if err := mc.Register(TokenVerifierResource, m.verifier); err != nil {
		return err
	}
	if banner, err := mc.ReadResource("banner.txt"); err == nil {
		mc.Logger().Info("Auth module ready", "banner", strings.TrimSpace(string(banner)))
	}
	return mc.Register("authHandler", &authHandler{verifier: m.verifier})
}

// ExtensionFactories provides the token issuer from the module itself.
func (m *AuthModule) ExtensionFactories() map[string]modhost.ExtensionFactory {
	return map[string]modhost.ExtensionFactory{
		TokenIssuerExtension: func(mc *modhost.Context) (any, error) {
			var v *TokenVerifier
			if err := mc.Resolve(TokenVerifierResource, &v); err != nil {
				return nil, err
			}
			return &TokenIssuer{verifier: v}, nil
		},
	}
}

type authHandler struct {
	verifier *TokenVerifier
}

func (h *authHandler) Routes() []routes.Route {
	return []routes.Route{
		{Method: http.MethodPost, Pattern: "/auth/token", Handler: http.HandlerFunc(h.issue)},
		{Method: http.MethodGet, Pattern: "/auth/verify", Handler: http.HandlerFunc(h.verify)},
	}
}

func (h *authHandler) issue(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": h.verifier.Issue(subject)})
}

func (h *authHandler) verify(w http.ResponseWriter, r *http.Request) {
	subject, err := h.verifier.Verify(bearer(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": subject})
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
