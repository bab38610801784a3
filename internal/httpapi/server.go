package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/finder-bliss-bridge/internal/bliss"
	"github.com/micro-ha/finder-bliss-bridge/internal/configsync"
	"github.com/micro-ha/finder-bliss-bridge/internal/metrics"
	"github.com/micro-ha/finder-bliss-bridge/internal/model"
	"github.com/micro-ha/finder-bliss-bridge/internal/poller"
	"github.com/micro-ha/finder-bliss-bridge/internal/service"
	"github.com/micro-ha/finder-bliss-bridge/internal/storage"
)

const (
	minSetpointCelsius = 5.0
	maxSetpointCelsius = 35.0
)

type API struct {
	service *service.Service
	poller  *poller.Poller
	config  *configsync.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(svc *service.Service, p *poller.Poller, cfg *configsync.Manager, m *metrics.Metrics, logger *slog.Logger) *API {
	return &API{service: svc, poller: p, config: cfg, metrics: m, logger: logger}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(stripIngressPrefix)
	r.Use(a.requestLogger)

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	r.Route("/api", func(api chi.Router) {
		api.Get("/devices", a.listDevices)
		api.Get("/devices/{serial}", a.getDevice)
		api.Post("/devices/{serial}/setpoint", a.setSetpoint)
		api.Post("/devices/{serial}/mode", a.setMode)
		api.Post("/refresh", a.refresh)
	})
	return r
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	_, configured := a.config.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"configured":  configured,
		"auth_failed": a.service.AuthFailed(),
	})
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := a.service.GetDevice(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (a *API) setSetpoint(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Temperature float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	if payload.Temperature < minSetpointCelsius || payload.Temperature > maxSetpointCelsius {
		writeError(w, http.StatusBadRequest, "invalid_temperature", "temperature must be between 5 and 35")
		return
	}
	if err := a.service.SetTargetTemperature(r.Context(), chi.URLParam(r, "serial"), payload.Temperature); err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) setMode(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	mode := model.Mode(strings.ToUpper(strings.TrimSpace(payload.Mode)))
	switch mode {
	case model.ModeAuto, model.ModeOff, model.ModeManual, model.ModeEco, model.ModeFrost:
	default:
		writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be one of AUTO, OFF, MANUAL, ECO, FROST")
		return
	}
	if err := a.service.SetMode(r.Context(), chi.URLParam(r, "serial"), mode); err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) refresh(w http.ResponseWriter, _ *http.Request) {
	a.poller.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (a *API) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		writeError(w, http.StatusConflict, "not_configured", "Account not configured")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Device not found")
	case errors.Is(err, bliss.ErrUnsupportedMode):
		writeError(w, http.StatusBadRequest, "unsupported_mode", err.Error())
	case bliss.IsAuthError(err):
		writeError(w, http.StatusBadGateway, "auth_failed", "Cloud rejected the configured credentials")
	default:
		writeError(w, http.StatusBadGateway, "command_failed", err.Error())
	}
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func stripIngressPrefix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(r.Header.Get("X-Ingress-Path"))
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			r.URL.Path = strings.TrimPrefix(r.URL.Path, prefix)
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// RunServer starts the HTTP server and shuts it down gracefully when the
// context is canceled.
func RunServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "err", err)
			return err
		}
		return nil
	}
}
