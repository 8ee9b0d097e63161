package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/dmitrijs2005/vpnaccess/internal/server/auth"
	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
	"github.com/dmitrijs2005/vpnaccess/internal/server/models"
)

type handler struct {
	access  AccessAPI
	presets PresetAPI
	health  HealthChecker
	config  *config.Config
	logger  logging.Logger
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyProcessed), errors.Is(err, common.ErrConflictActiveOrPending):
		status = http.StatusConflict
	case errors.Is(err, common.ErrProtocolNotConfigured):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, common.ErrPanelUnavailable), errors.Is(err, common.ErrPanelAuthFailed), errors.Is(err, common.ErrPanelRejected):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if !h.health.HealthCheck(r.Context()) {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "panel unreachable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Secret     string `json:"secret"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login issues a bearer token to a configured operator presenting the shared
// secret.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	secretOK := subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.config.SecretKey)) == 1
	if !secretOK || !h.config.IsAdmin(req.TelegramID) {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	token, err := auth.GenerateToken(req.TelegramID, []byte(h.config.SecretKey), h.config.TokenValidityDuration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (h *handler) listPending(w http.ResponseWriter, r *http.Request) {
	requests, err := h.access.ListPendingRequests(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, requestList(requests))
}

type requestView struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func requestList(requests []*models.AccessRequest) []requestView {
	out := make([]requestView, 0, len(requests))
	for _, req := range requests {
		out = append(out, requestView{
			ID:        req.ID,
			UserID:    req.UserID,
			Status:    string(req.Status),
			CreatedAt: req.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

// requestAccess files an access request on the user's behalf.
func (h *handler) requestAccess(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	request, err := h.access.RequestAccess(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, requestView{
		ID:        request.ID,
		UserID:    request.UserID,
		Status:    string(request.Status),
		CreatedAt: request.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

type approveRequestBody struct {
	Protocol string `json:"protocol"`
}

type linkResponse struct {
	Link string `json:"link"`
}

func (h *handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "requestID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}

	var body approveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	link, err := h.access.ApproveRequest(r.Context(), requestID, body.Protocol)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{Link: link})
}

type rejectRequestBody struct {
	Comment string `json:"comment"`
}

func (h *handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "requestID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}

	var body rejectRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.access.RejectRequest(r.Context(), requestID, body.Comment); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) serverStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.access.ServerStatus(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"online":         status.Online,
		"inbounds":       status.Inbounds,
		"clients":        status.Clients,
		"upload_bytes":   status.UploadBytes,
		"download_bytes": status.DownloadBytes,
	})
}

func (h *handler) onlineClients(w http.ResponseWriter, r *http.Request) {
	online := h.access.OnlineClients(r.Context())
	if online == nil {
		online = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

type userView struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
}

func (h *handler) listActiveUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.access.ListUsersWithActiveProfile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{ID: u.ID, TelegramID: u.TelegramID, Username: u.Username, FullName: u.FullName})
	}
	h.writeJSON(w, http.StatusOK, out)
}

type switchProtocolBody struct {
	Protocol string `json:"protocol"`
}

func (h *handler) switchProtocol(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	var body switchProtocolBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	link, err := h.access.SwitchProtocol(r.Context(), telegramID, body.Protocol)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{Link: link})
}

func (h *handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	if err := h.access.RevokeAccess(r.Context(), telegramID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getLink(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	link, err := h.access.GetActiveLink(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{Link: link})
}

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	traffic, err := h.access.GetStats(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"upload_bytes":   traffic.UploadBytes,
		"download_bytes": traffic.DownloadBytes,
	})
}

func (h *handler) listSNIOptions(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	options, err := h.access.ListSNIOptions(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if options == nil {
		options = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"options": options})
}

type updateSNIBody struct {
	SNI string `json:"sni"`
}

func (h *handler) updateSNI(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	var body updateSNIBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ok, err := h.access.UpdateSNI(r.Context(), telegramID, body.SNI)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sni not accepted"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type presetView struct {
	ID      int64             `json:"id"`
	Name    string            `json:"name"`
	AppType string            `json:"app_type"`
	Format  string            `json:"format"`
	Options map[string]string `json:"options,omitempty"`
}

type createPresetBody struct {
	Name    string            `json:"name"`
	AppType string            `json:"app_type"`
	Format  string            `json:"format"`
	Options map[string]string `json:"options"`
}

func (h *handler) listPresets(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	presets, err := h.presets.ListPresets(r.Context(), telegramID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]presetView, 0, len(presets))
	for _, p := range presets {
		out = append(out, presetView{ID: p.ID, Name: p.Name, AppType: p.AppType, Format: p.Format, Options: p.Options})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) createPreset(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}

	var body createPresetBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	preset, err := h.presets.CreatePreset(r.Context(), telegramID, body.Name, body.AppType, body.Format, body.Options)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, presetView{
		ID: preset.ID, Name: preset.Name, AppType: preset.AppType, Format: preset.Format, Options: preset.Options,
	})
}

func (h *handler) deletePreset(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}
	presetID, err := pathID(r, "presetID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid preset id"})
		return
	}

	if err := h.presets.DeletePreset(r.Context(), telegramID, presetID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) renderPreset(w http.ResponseWriter, r *http.Request) {
	telegramID, err := pathID(r, "telegramID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid telegram id"})
		return
	}
	presetID, err := pathID(r, "presetID")
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid preset id"})
		return
	}

	rendered, err := h.presets.RenderPreset(r.Context(), telegramID, presetID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if rendered.Format == models.PresetFormatQRPNG {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rendered.PNG)
		return
	}
	h.writeJSON(w, http.StatusOK, linkResponse{Link: rendered.URI})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}
