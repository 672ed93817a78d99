// Package admin exposes a Host over HTTP. Every endpoint maps onto one host
// operation and reports the resulting module state.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/configrepo"
)

// ErrNoConfigRepository is reported by the config endpoints when the host
// runs without a configuration repository.
var ErrNoConfigRepository = errors.New("no configuration repository")

const defaultGoroutineThreshold = 10000

// Option configures a Handler.
type Option func(*Handler)

// WithGoroutineThreshold sets the liveness limit on running goroutines.
func WithGoroutineThreshold(n int) Option {
	return func(h *Handler) { h.goroutines = n }
}

// WithReadinessCheck adds a named readiness check.
func WithReadinessCheck(name string, check healthcheck.Check) Option {
	return func(h *Handler) { h.extraReady[name] = check }
}

// Handler serves the admin API.
type Handler struct {
	host       *modhost.Host
	repo       modhost.ConfigRepository
	logger     modhost.Logger
	router     chi.Router
	health     healthcheck.Handler
	goroutines int
	extraReady map[string]healthcheck.Check
}

// OperationResult is the response body of lifecycle endpoints.
type OperationResult struct {
	Module  string                 `json:"module,omitempty"`
	State   string                 `json:"state,omitempty"`
	Failure *modhost.FailureRecord `json:"failure,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// NewHandler builds the admin API for host. repo may be nil.
func NewHandler(host *modhost.Host, repo modhost.ConfigRepository, opts ...Option) *Handler {
	h := &Handler{
		host:       host,
		repo:       repo,
		logger:     host.Logger(),
		goroutines: defaultGoroutineThreshold,
		extraReady: make(map[string]healthcheck.Check),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.health = healthcheck.NewHandler()
	h.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(h.goroutines))
	h.health.AddReadinessCheck("module-failures", h.failureCheck)
	for name, check := range h.extraReady {
		h.health.AddReadinessCheck(name, check)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health.LiveEndpoint)
	r.Get("/readyz", h.health.ReadyEndpoint)

	r.Route("/modules", func(r chi.Router) {
		r.Get("/", h.listModules)
		r.Post("/start", h.startAll)
		r.Post("/stop", h.stopAll)
		r.Post("/reload", h.reloadAll)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getModule)
			r.Post("/start", h.lifecycle(h.host.Start))
			r.Post("/stop", h.lifecycle(h.host.Stop))
			r.Post("/restart", h.lifecycle(h.host.Restart))
			r.Post("/reload", h.lifecycle(h.host.Reload))
			r.Post("/enable", h.toggle(h.host.Enable))
			r.Post("/disable", h.toggle(h.host.Disable))

			r.Get("/config", h.getConfig)
			r.Post("/config", h.saveConfig)
			r.Put("/config", h.saveConfig)
			r.Delete("/config", h.deleteConfig)
		})
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// failureCheck fails readiness while any module holds a failure record.
func (h *Handler) failureCheck() error {
	if failures := h.host.Failures(); len(failures) > 0 {
		return fmt.Errorf("%d module(s) failing, first: %s", len(failures), failures[0].Error())
	}
	return nil
}

func (h *Handler) listModules(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.host.Modules())
}

func (h *Handler) getModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := h.host.Module(id)
	if !ok {
		h.writeError(w, id, fmt.Errorf("%w: %s", modhost.ErrModuleNotFound, id))
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

type lifecycleFunc func(ctx context.Context, id string, opts ...modhost.LifecycleOption) (modhost.ModuleState, error)

// lifecycle adapts a single-module operation. ?cascade=true stops started
// dependents instead of rejecting the request.
func (h *Handler) lifecycle(op lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var opts []modhost.LifecycleOption
		if cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade")); cascade {
			opts = append(opts, modhost.WithCascade())
		}
		state, err := op(r.Context(), id, opts...)
		if err != nil {
			h.writeError(w, id, err)
			return
		}
		h.writeResult(w, id, state)
	}
}

func (h *Handler) toggle(op func(ctx context.Context, id string) (modhost.ModuleState, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		state, err := op(r.Context(), id)
		if err != nil {
			h.writeError(w, id, err)
			return
		}
		h.writeResult(w, id, state)
	}
}

func (h *Handler) startAll(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, h.host.StartAll(r.Context()))
}

func (h *Handler) stopAll(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, h.host.StopAll(r.Context()))
}

func (h *Handler) reloadAll(w http.ResponseWriter, r *http.Request) {
	startedOnly, _ := strconv.ParseBool(r.URL.Query().Get("startedOnly"))
	h.bulk(w, h.host.ReloadAll(r.Context(), startedOnly))
}

func (h *Handler) bulk(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, "", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.host.Modules())
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.repo == nil {
		h.writeError(w, id, ErrNoConfigRepository)
		return
	}
	props, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, props)
}

// saveConfig replaces a module's stored properties. They take effect the
// next time the module starts.
func (h *Handler) saveConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.repo == nil {
		h.writeError(w, id, ErrNoConfigRepository)
		return
	}
	var props map[string]any
	if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
		h.writeJSON(w, http.StatusBadRequest, OperationResult{Module: id, Error: "invalid JSON body: " + err.Error()})
		return
	}
	if err := h.repo.Save(r.Context(), id, props); err != nil {
		h.writeError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, props)
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.repo == nil {
		h.writeError(w, id, ErrNoConfigRepository)
		return
	}
	deleted, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeResult(w http.ResponseWriter, id string, state modhost.ModuleState) {
	res := OperationResult{Module: id, State: state.String()}
	if f, ok := h.host.Failure(id); ok {
		res.Failure = f
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, id string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Admin operation failed", "module", id, "error", err)
	}
	res := OperationResult{Module: id, Error: err.Error()}
	if state, ok := h.host.State(id); ok {
		res.State = state.String()
	}
	h.writeJSON(w, status, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, modhost.ErrModuleNotFound), errors.Is(err, modhost.ErrDescriptorNotFound):
		return http.StatusNotFound
	case errors.Is(err, modhost.ErrDependentsStarted):
		return http.StatusConflict
	case errors.Is(err, modhost.ErrDescriptorReload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, configrepo.ErrInvalidModuleID):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoConfigRepository):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write admin response", "error", err)
	}
}
