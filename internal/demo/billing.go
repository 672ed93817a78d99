package demo

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/routes"
)

// PaymentGateway is the billing module's extension. Its factory lives in the
// catalog, so it is created in billing's context with billing's properties.
type PaymentGateway struct {
	Currency string
}

// Invoice is one billed item.
type Invoice struct {
	Subject  string `json:"subject"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Ledger keeps invoices in memory for the lifetime of one start.
type Ledger struct {
	mu       sync.Mutex
	invoices []Invoice
}

func (l *Ledger) Add(inv Invoice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invoices = append(l.invoices, inv)
}

func (l *Ledger) For(subject string) []Invoice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Invoice
	for _, inv := range l.invoices {
		if inv.Subject == subject {
			out = append(out, inv)
		}
	}
	return out
}

// Close empties the ledger when billing's context is destroyed.
func (l *Ledger) Close(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invoices = nil
	return nil
}

// BillingModule depends on auth and imports its TokenVerifier.
type BillingModule struct {
	ledger *Ledger
}

// Imports asks for auth's verifier by type; the descriptor may add more.
func (m *BillingModule) Imports() []modhost.ImportRequest {
	return []modhost.ImportRequest{modhost.ImportType[*TokenVerifier]()}
}

func (m *BillingModule) Setup(_ context.Context, mc *modhost.Context) error {
	verifiers := modhost.OfType[*TokenVerifier](mc.Container)
	if len(verifiers) == 0 {
		return fmt.Errorf("billing: %w: %s", modhost.ErrResourceNotFound, TokenVerifierResource)
	}
	currency := mc.Properties().String("currency")
	if currency == "" {
		currency = "USD"
	}
	m.ledger = &Ledger{}
	if err := mc.Register("ledger", m.ledger); err != nil {
		return err
	}
	return mc.Register("billingHandler", &billingHandler{
		verifier: verifiers[0],
		ledger:   m.ledger,
		currency: currency,
	})
}

type billingHandler struct {
	verifier *TokenVerifier
	ledger   *Ledger
	currency string
}

func (h *billingHandler) Routes() []routes.Route {
	return []routes.Route{
		{Method: http.MethodGet, Pattern: "/billing/invoices", Handler: http.HandlerFunc(h.list)},
		{Method: http.MethodPost, Pattern: "/billing/invoices", Handler: http.HandlerFunc(h.create)},
	}
}

func (h *billingHandler) list(w http.ResponseWriter, r *http.Request) {
	subject, err := h.verifier.Verify(bearer(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, h.ledger.For(subject))
}

func (h *billingHandler) create(w http.ResponseWriter, r *http.Request) {
	subject, err := h.verifier.Verify(bearer(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	inv := Invoice{Subject: subject, Amount: 100, Currency: h.currency}
	h.ledger.Add(inv)
	writeJSON(w, http.StatusCreated, inv)
}
