// Package xui is the sole mediator of all reads and writes to the 3x-ui
// proxy panel's HTTP API. It holds a short-lived authenticated session
// (cookie) and re-logs-in once when the session expires.
//
// The panel has no per-client mutation endpoint: adding or removing a client
// is a read-modify-write of the whole inbound object. That cycle is not
// atomic with respect to concurrent writers; callers are expected to
// serialize mutations per inbound.
package xui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
	"github.com/google/uuid"
)

// Client is an authenticated HTTP client for the panel API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	basePath   string
	username   string
	password   string
	logger     logging.Logger

	// mu guards the login exchange so concurrent callers re-authenticate
	// at most once.
	mu       sync.Mutex
	loggedIn bool
}

// New builds a panel client. baseURL is the panel root
// (e.g. "http://localhost:54321"), basePath the panel's URL prefix
// (e.g. "/panel"). The context deadline of each call bounds the request;
// timeout is the fallback applied via the underlying http.Client.
func New(baseURL, basePath, username, password string, httpClient *http.Client, logger logging.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		basePath:   "/" + strings.Trim(basePath, "/"),
		username:   username,
		password:   password,
		logger:     logger.With("component", "xui_client"),
	}, nil
}

// buildURL joins the base URL, the panel base path and an API path.
func (c *Client) buildURL(path string) string {
	if c.basePath == "/" {
		return c.baseURL + path
	}
	return c.baseURL + c.basePath + path
}

// Login exchanges the operator credentials for a session cookie.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	// The login endpoint lives at the panel root, not under the base path.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observePanelCall("login", outcomeUnavailable)
		return fmt.Errorf("%w: login: %v", common.ErrPanelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observePanelCall("login", outcomeRejected)
		return fmt.Errorf("%w: login status %d", common.ErrPanelAuthFailed, resp.StatusCode)
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		observePanelCall("login", outcomeUnavailable)
		return fmt.Errorf("%w: decode login response: %v", common.ErrPanelUnavailable, err)
	}
	if !result.Success {
		observePanelCall("login", outcomeRejected)
		return fmt.Errorf("%w: %s", common.ErrPanelAuthFailed, result.Msg)
	}

	observePanelCall("login", outcomeOK)
	c.loggedIn = true
	c.logger.Info(ctx, "logged in to panel")
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}
	return c.loginLocked(ctx)
}

// relogin drops the cached session state and authenticates again.
func (c *Client) relogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = false
	return c.loginLocked(ctx)
}

// call performs one API request and decodes the response envelope. A session
// rejection (auth redirect or non-JSON answer) triggers a single re-login
// and retry.
func (c *Client) call(ctx context.Context, op, method, path string, body any) (*apiResponse, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	result, retriable, err := c.callOnce(ctx, op, method, path, body)
	if err != nil && retriable {
		if err := c.relogin(ctx); err != nil {
			return nil, err
		}
		result, _, err = c.callOnce(ctx, op, method, path, body)
	}
	return result, err
}

func (c *Client) callOnce(ctx context.Context, op, method, path string, body any) (result *apiResponse, retriable bool, err error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, false, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observePanelCall(op, outcomeUnavailable)
		return nil, false, fmt.Errorf("%w: %s: %v", common.ErrPanelUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		observePanelCall(op, outcomeRejected)
		return nil, true, fmt.Errorf("%w: %s status %d", common.ErrPanelAuthFailed, op, resp.StatusCode)
	default:
		observePanelCall(op, outcomeRejected)
		return nil, false, fmt.Errorf("%w: %s status %d", common.ErrPanelRejected, op, resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		// An expired session makes the panel answer with its login page.
		observePanelCall(op, outcomeRejected)
		return nil, true, fmt.Errorf("%w: %s: unexpected response", common.ErrPanelAuthFailed, op)
	}

	observePanelCall(op, outcomeOK)
	return &envelope, false, nil
}

// GetInbound fetches one inbound configuration.
func (c *Client) GetInbound(ctx context.Context, inboundID int) (*Inbound, error) {
	raw, err := c.getInboundRaw(ctx, inboundID)
	if err != nil {
		return nil, err
	}

	inbound := &Inbound{}
	if err := json.Unmarshal(raw, inbound); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	return inbound, nil
}

// getInboundRaw returns the inbound as raw JSON so read-modify-write cycles
// preserve fields this client does not model.
func (c *Client) getInboundRaw(ctx context.Context, inboundID int) (json.RawMessage, error) {
	result, err := c.call(ctx, "get_inbound", http.MethodGet, fmt.Sprintf("/api/inbounds/get/%d", inboundID), nil)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: inbound %d: %s", common.ErrorNotFound, inboundID, result.Msg)
	}
	return result.Obj, nil
}

// updateInbound writes the full inbound object back. The panel does not
// support partial updates.
func (c *Client) updateInbound(ctx context.Context, inboundID int, inbound map[string]any) error {
	result, err := c.call(ctx, "update_inbound", http.MethodPost, fmt.Sprintf("/api/inbounds/update/%d", inboundID), inbound)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: update inbound %d: %s", common.ErrPanelRejected, inboundID, result.Msg)
	}
	return nil
}

// clientTemplate builds a new client descriptor for the inbound's client list.
func clientTemplate(protocol, clientID, email string) map[string]any {
	client := map[string]any{
		"id":         clientID,
		"email":      email,
		"limitIp":    0,
		"totalGB":    0,
		"expiryTime": 0,
		"enable":     true,
		"tgId":       "",
		"subId":      "",
		"reset":      0,
	}
	if protocol == "vless" {
		client["flow"] = "xtls-rprx-vision"
	}
	return client
}

// CreateClient appends a new client with a fresh random id to the inbound's
// client list and writes the inbound back in full.
func (c *Client) CreateClient(ctx context.Context, inboundID int, email, protocol string) (*ClientRef, error) {
	raw, err := c.getInboundRaw(ctx, inboundID)
	if err != nil {
		return nil, err
	}

	var inbound map[string]any
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}

	settings := decodeEmbedded(inbound["settings"])
	clients, _ := settings["clients"].([]any)

	clientID := uuid.NewString()
	settings["clients"] = append(clients, clientTemplate(protocol, clientID, email))

	if err := encodeEmbedded(inbound, "settings", settings); err != nil {
		return nil, err
	}
	if err := c.updateInbound(ctx, inboundID, inbound); err != nil {
		return nil, err
	}

	c.logger.Info(ctx, "panel client created", "inbound_id", inboundID, "email", email)
	return &ClientRef{ClientID: clientID, Email: email, Protocol: protocol, InboundID: inboundID}, nil
}

// DeleteClient removes the client with the given email from the inbound.
// Deletion is idempotent: a client that is already absent yields false, nil.
func (c *Client) DeleteClient(ctx context.Context, inboundID int, email string) (bool, error) {
	raw, err := c.getInboundRaw(ctx, inboundID)
	if err != nil {
		return false, err
	}

	var inbound map[string]any
	if err := json.Unmarshal(raw, &inbound); err != nil {
		return false, fmt.Errorf("decode inbound: %w", err)
	}

	settings := decodeEmbedded(inbound["settings"])
	clients, _ := settings["clients"].([]any)

	remaining := make([]any, 0, len(clients))
	for _, entry := range clients {
		client, ok := entry.(map[string]any)
		if ok && client["email"] == email {
			continue
		}
		remaining = append(remaining, entry)
	}
	if len(remaining) == len(clients) {
		return false, nil
	}

	settings["clients"] = remaining
	if err := encodeEmbedded(inbound, "settings", settings); err != nil {
		return false, err
	}
	if err := c.updateInbound(ctx, inboundID, inbound); err != nil {
		return false, err
	}

	c.logger.Info(ctx, "panel client deleted", "inbound_id", inboundID, "email", email)
	return true, nil
}

// GetClientTraffic reads per-client byte counters. Traffic display is
// best-effort: any panel-side miss yields zeros.
func (c *Client) GetClientTraffic(ctx context.Context, email string) (Traffic, error) {
	result, err := c.call(ctx, "client_traffic", http.MethodGet, "/api/inbounds/getClientTraffics/"+url.PathEscape(email), nil)
	if err != nil {
		// A non-auth rejection (404, 500) counts as a miss too; only
		// transport and auth failures surface.
		if errors.Is(err, common.ErrPanelRejected) {
			return Traffic{}, nil
		}
		return Traffic{}, err
	}
	if !result.Success {
		return Traffic{}, nil
	}

	var obj struct {
		Up   int64 `json:"up"`
		Down int64 `json:"down"`
	}
	if err := json.Unmarshal(result.Obj, &obj); err != nil {
		return Traffic{}, nil
	}
	return Traffic{UploadBytes: obj.Up, DownloadBytes: obj.Down}, nil
}

// ListInbounds fetches every inbound configured on the panel.
func (c *Client) ListInbounds(ctx context.Context) ([]Inbound, error) {
	result, err := c.call(ctx, "list_inbounds", http.MethodGet, "/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: list inbounds: %s", common.ErrPanelRejected, result.Msg)
	}

	var inbounds []Inbound
	if err := json.Unmarshal(result.Obj, &inbounds); err != nil {
		return nil, fmt.Errorf("decode inbounds: %w", err)
	}
	return inbounds, nil
}

// OnlineClients returns the emails of clients with a live connection.
// Best-effort: failures yield an empty list.
func (c *Client) OnlineClients(ctx context.Context) []string {
	result, err := c.call(ctx, "online_clients", http.MethodPost, "/api/inbounds/onlines", nil)
	if err != nil || !result.Success {
		return nil
	}

	var emails []string
	if err := json.Unmarshal(result.Obj, &emails); err != nil {
		return nil
	}
	return emails
}

// ServerStatus aggregates clients and traffic across enabled inbounds.
func (c *Client) ServerStatus(ctx context.Context) (ServerStatus, error) {
	inbounds, err := c.ListInbounds(ctx)
	if err != nil {
		return ServerStatus{}, err
	}

	status := ServerStatus{Online: true}
	for _, inbound := range inbounds {
		if !inbound.Enable {
			continue
		}
		status.Inbounds++
		status.UploadBytes += inbound.Up
		status.DownloadBytes += inbound.Down
		status.Clients += countEnabledClients(inbound.Settings)
	}
	return status, nil
}

// HealthCheck is a cheap read used at startup. Failure is a warning for the
// caller, never a hard stop.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.ListInbounds(ctx)
	return err == nil
}

// GetProtocolSettings fetches the inbound and extracts its normalized
// protocol parameters.
func (c *Client) GetProtocolSettings(ctx context.Context, inboundID int) (ProtocolSettings, error) {
	inbound, err := c.GetInbound(ctx, inboundID)
	if err != nil {
		return ProtocolSettings{}, err
	}
	return ExtractSettings(inbound), nil
}

// decodeEmbedded parses a JSON-document-in-a-string field. Absent or
// malformed documents are treated as empty, never fatal.
func decodeEmbedded(value any) map[string]any {
	s, ok := value.(string)
	if !ok || s == "" {
		return map[string]any{}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// encodeEmbedded writes a document back into its string-encoded field.
func encodeEmbedded(inbound map[string]any, field string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	inbound[field] = string(data)
	return nil
}

func countEnabledClients(settings string) int {
	doc := decodeEmbedded(settings)
	clients, _ := doc["clients"].([]any)
	count := 0
	for _, entry := range clients {
		client, ok := entry.(map[string]any)
		if !ok {
			count++
			continue
		}
		if enabled, ok := client["enable"].(bool); !ok || enabled {
			count++
		}
	}
	return count
}
