// Package httpapi exposes the operator-facing REST API: request triage,
// credential management on behalf of users, presets and server status.
// All /api routes except login require a bearer token of a configured
// operator.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
	"github.com/dmitrijs2005/vpnaccess/internal/server/services"
)

// AccessAPI is the slice of the access service the handlers call.
type AccessAPI interface {
	RequestAccess(ctx context.Context, telegramID int64) (*models.AccessRequest, error)
	ApproveRequest(ctx context.Context, requestID int64, protocolName string) (string, error)
	RejectRequest(ctx context.Context, requestID int64, comment string) error
	ListPendingRequests(ctx context.Context) ([]*models.AccessRequest, error)
	ListUsersWithActiveProfile(ctx context.Context) ([]*models.User, error)
	SwitchProtocol(ctx context.Context, telegramID int64, protocolName string) (string, error)
	RevokeAccess(ctx context.Context, telegramID int64) error
	GetActiveLink(ctx context.Context, telegramID int64) (string, error)
	GetStats(ctx context.Context, telegramID int64) (models.Traffic, error)
	UpdateSNI(ctx context.Context, telegramID int64, sni string) (bool, error)
	ListSNIOptions(ctx context.Context, telegramID int64) ([]string, error)
	ServerStatus(ctx context.Context) (models.ServerStatus, error)
	OnlineClients(ctx context.Context) []string
}

// PresetAPI is the slice of the preset service the handlers call.
type PresetAPI interface {
	CreatePreset(ctx context.Context, telegramID int64, name, appType, format string, options map[string]string) (*models.Preset, error)
	ListPresets(ctx context.Context, telegramID int64) ([]*models.Preset, error)
	DeletePreset(ctx context.Context, telegramID, presetID int64) error
	RenderPreset(ctx context.Context, telegramID, presetID int64) (*services.RenderedPreset, error)
}

// HealthChecker reports whether the panel answers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// NewRouter wires the REST routes.
func NewRouter(access AccessAPI, presets PresetAPI, health HealthChecker, cfg *config.Config, logger logging.Logger) http.Handler {
	h := &handler{
		access:  access,
		presets: presets,
		health:  health,
		config:  cfg,
		logger:  logger.With("component", "httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(h.requireOperator)

			r.Get("/requests/pending", h.listPending)
			r.Post("/requests/{requestID}/approve", h.approveRequest)
			r.Post("/requests/{requestID}/reject", h.rejectRequest)

			r.Get("/server/status", h.serverStatus)
			r.Get("/server/online", h.onlineClients)

			r.Get("/users/active", h.listActiveUsers)
			r.Route("/users/{telegramID}", func(r chi.Router) {
				r.Post("/request", h.requestAccess)
				r.Post("/switch", h.switchProtocol)
				r.Post("/revoke", h.revokeAccess)
				r.Get("/link", h.getLink)
				r.Get("/stats", h.getStats)
				r.Get("/sni", h.listSNIOptions)
				r.Post("/sni", h.updateSNI)

				r.Get("/presets", h.listPresets)
				r.Post("/presets", h.createPreset)
				r.Delete("/presets/{presetID}", h.deletePreset)
				r.Get("/presets/{presetID}/render", h.renderPreset)
			})
		})
	})

	return r
}
