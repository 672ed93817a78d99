package routes

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTable_RegisterAndServe(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("billing", "billing/invoices", []Route{
		{Method: "get", Pattern: "/invoices", Handler: text("list")},
		{Method: http.MethodGet, Pattern: "/invoices/{id}", Handler: text("one")},
	}))

	rec := get(t, table, "/invoices")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "list", rec.Body.String())
	assert.Equal(t, "one", get(t, table, "/invoices/7").Body.String())

	assert.Equal(t, []Mapping{
		{Owner: "billing", HandlerID: "billing/invoices", Method: "GET", Pattern: "/invoices"},
		{Owner: "billing", HandlerID: "billing/invoices", Method: "GET", Pattern: "/invoices/{id}"},
	}, table.Mappings())
}

func TestTable_UnregisterWithdrawsRoutes(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("login")}}))
	require.NoError(t, table.Register("billing", "billing/invoices", []Route{{Method: http.MethodGet, Pattern: "/invoices", Handler: text("list")}}))

	assert.Equal(t, 1, table.Unregister("billing/invoices"))
	assert.Equal(t, 0, table.Unregister("billing/invoices"))

	assert.Equal(t, http.StatusNotFound, get(t, table, "/invoices").Code)
	assert.Equal(t, "login", get(t, table, "/login").Body.String())
	assert.Empty(t, table.HandlerIDs("billing"))
	assert.Equal(t, []string{"auth/login"}, table.HandlerIDs("auth"))
}

func TestTable_ReRegisterReplaces(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("v1")}}))
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/signin", Handler: text("v2")}}))

	assert.Equal(t, http.StatusNotFound, get(t, table, "/login").Code)
	assert.Equal(t, "v2", get(t, table, "/signin").Body.String())
	assert.Len(t, table.Mappings(), 1)
}

func TestTable_Conflict(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("auth")}}))

	err := table.Register("rogue", "rogue/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("rogue")}})
	require.ErrorIs(t, err, ErrRouteConflict)
	assert.Equal(t, "auth", get(t, table, "/login").Body.String())
	assert.Empty(t, table.HandlerIDs("rogue"))
}

func TestTable_InvalidRoutes(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		route Route
		want  error
	}{
		{name: "empty id", id: "", route: Route{Method: http.MethodGet, Pattern: "/x", Handler: text("x")}, want: ErrHandlerIDEmpty},
		{name: "no handler", id: "m/h", route: Route{Method: http.MethodGet, Pattern: "/x"}, want: ErrRouteInvalid},
		{name: "relative pattern", id: "m/h", route: Route{Method: http.MethodGet, Pattern: "x", Handler: text("x")}, want: ErrRouteInvalid},
		{name: "unknown method", id: "m/h", route: Route{Method: "FETCH", Pattern: "/x", Handler: text("x")}, want: ErrRouteInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable()
			err := table.Register("m", tt.id, []Route{tt.route})
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, table.Mappings())
		})
	}
}

func TestTable_BadPatternKeepsPreviousRouter(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("ok")}}))

	err := table.Register("bad", "bad/h", []Route{{Method: http.MethodGet, Pattern: "/{unclosed", Handler: text("bad")}})
	require.ErrorIs(t, err, ErrRouteInvalid)
	assert.Equal(t, "ok", get(t, table, "/login").Body.String())
	assert.Empty(t, table.HandlerIDs("bad"))
}

func TestTable_MiddlewareAndNotFound(t *testing.T) {
	tagged := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Served-By", "modhost")
			next.ServeHTTP(w, r)
		})
	}
	table := NewTable(
		WithMiddleware(tagged),
		WithNotFound(func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "no module", http.StatusNotFound) }),
	)
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("ok")}}))

	rec := get(t, table, "/login")
	assert.Equal(t, "modhost", rec.Header().Get("X-Served-By"))

	rec = get(t, table, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no module")
}

func TestTable_ConcurrentServeDuringChanges(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register("auth", "auth/login", []Route{{Method: http.MethodGet, Pattern: "/login", Handler: text("ok")}}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			_ = table.Register("billing", "billing/invoices", []Route{{Method: http.MethodGet, Pattern: "/invoices", Handler: text("list")}})
			table.Unregister("billing/invoices")
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			rec := httptest.NewRecorder()
			table.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("unexpected status %d", rec.Code)
				return
			}
		}
	}()
	wg.Wait()
}
