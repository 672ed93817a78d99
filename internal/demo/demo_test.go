package demo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/configrepo"
	"github.com/GoCodeAlone/modhost/routes"
	"github.com/GoCodeAlone/modhost/source"
)

func newDemoHost(t *testing.T) (*modhost.Host, *routes.Table) {
	t.Helper()
	repo, err := configrepo.NewFile(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), "auth", map[string]any{"secret": "s3cret"}))
	require.NoError(t, repo.Save(context.Background(), "billing", map[string]any{"currency": "EUR"}))

	table := routes.NewTable()
	host, err := modhost.NewHost(source.NewDir("modules"),
		modhost.WithRouteRegistry(table),
		modhost.WithConfigRepository(repo),
	)
	require.NoError(t, err)
	require.NoError(t, host.LoadAll(context.Background()))
	t.Cleanup(func() { _ = host.StopAll(context.Background()) })
	return host, table
}

func call(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDemo_StartAllServesRoutes(t *testing.T) {
	host, table := newDemoHost(t)
	require.NoError(t, host.StartAll(context.Background()))
	assert.Equal(t, []string{"auth", "billing"}, host.StartOrder())
	assert.Empty(t, host.Failures())

	rec := call(t, table, http.MethodPost, "/auth/token?subject=alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	token := body["token"]
	require.NotEmpty(t, token)

	rec = call(t, table, http.MethodPost, "/billing/invoices", token)
	require.Equal(t, http.StatusCreated, rec.Code)
	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	assert.Equal(t, Invoice{Subject: "alice", Amount: 100, Currency: "EUR"}, inv)

	assert.Equal(t, http.StatusUnauthorized, call(t, table, http.MethodGet, "/billing/invoices", "bogus.sig").Code)
}

func TestDemo_BillingSharesAuthVerifier(t *testing.T) {
	host, _ := newDemoHost(t)
	require.NoError(t, host.StartAll(context.Background()))

	info, ok := host.Module("billing")
	require.True(t, ok)
	assert.Contains(t, info.Imported, TokenVerifierResource)
	assert.ElementsMatch(t, []string{"billing/billingHandler"}, info.Handlers)

	issuer, ok := host.Extension(TokenIssuerExtension)
	require.True(t, ok)
	gateway, ok := host.Extension(PaymentExtension)
	require.True(t, ok)
	assert.Equal(t, "EUR", gateway.(*PaymentGateway).Currency)

	token := issuer.(*TokenIssuer).Issue("bob")
	verifiers := modhost.Extensions[*TokenIssuer](host)
	require.Len(t, verifiers, 1)
	_, err := verifiers[0].verifier.Verify(token)
	require.NoError(t, err)
}

func TestDemo_StopAuthRequiresCascade(t *testing.T) {
	host, table := newDemoHost(t)
	ctx := context.Background()
	require.NoError(t, host.StartAll(ctx))

	_, err := host.Stop(ctx, "auth")
	require.ErrorIs(t, err, modhost.ErrDependentsStarted)

	state, err := host.Stop(ctx, "auth", modhost.WithCascade())
	require.NoError(t, err)
	assert.Equal(t, modhost.StateStopped, state)
	billing, _ := host.State("billing")
	assert.Equal(t, modhost.StateStopped, billing)

	assert.Equal(t, http.StatusNotFound, call(t, table, http.MethodGet, "/billing/invoices", "").Code)
	assert.Equal(t, http.StatusNotFound, call(t, table, http.MethodGet, "/auth/verify", "").Code)
	_, ok := host.Extension(TokenIssuerExtension)
	assert.False(t, ok)
}

func TestDemo_StartBillingStartsAuth(t *testing.T) {
	host, _ := newDemoHost(t)
	state, err := host.Start(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, modhost.StateStarted, state)
	assert.Equal(t, []string{"auth", "billing"}, host.StartOrder())
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier("k")
	token := v.Issue("carol")

	subject, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "carol", subject)
	assert.Equal(t, int64(1), v.Verified())

	for _, bad := range []string{"", "carol", ".abc", "carol.00", NewTokenVerifier("other").Issue("carol")} {
		_, err := v.Verify(bad)
		require.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}
