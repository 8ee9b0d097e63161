package xui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/vpnaccess/internal/common"
	"github.com/dmitrijs2005/vpnaccess/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// panelServer fakes the 3x-ui HTTP API: form login at the root, JSON
// endpoints under the base path, and an "expired session" mode that answers
// API calls with the login page instead of JSON.
type panelServer struct {
	t *testing.T

	mu            sync.Mutex
	loginCount    int
	updateCount   int
	failLogin     bool
	expired       bool
	trafficStatus int
	inbounds      map[int]map[string]any
	lastUpdate    map[string]any
	onlines       []string
	traffic       map[string]apiResponse
}

func newPanelServer(t *testing.T) (*panelServer, *httptest.Server) {
	t.Helper()
	ps := &panelServer{
		t:        t,
		inbounds: make(map[int]map[string]any),
		traffic:  make(map[string]apiResponse),
	}
	srv := httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(srv.Close)
	return ps, srv
}

func (s *panelServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path == "/login" {
		s.loginCount++
		if s.failLogin {
			writeJSON(w, apiResponse{Success: false, Msg: "invalid credentials"})
			return
		}
		s.expired = false
		writeJSON(w, apiResponse{Success: true})
		return
	}

	if s.expired {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>login page</html>")
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/get/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/get/"))
		inbound, ok := s.inbounds[id]
		if !ok {
			writeJSON(w, apiResponse{Success: false, Msg: "record not found"})
			return
		}
		obj, err := json.Marshal(inbound)
		require.NoError(s.t, err)
		writeJSON(w, apiResponse{Success: true, Obj: obj})

	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/update/"):
		s.updateCount++
		var body map[string]any
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		s.lastUpdate = body
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/update/"))
		s.inbounds[id] = body
		writeJSON(w, apiResponse{Success: true})

	case strings.HasPrefix(r.URL.Path, "/panel/api/inbounds/getClientTraffics/"):
		if s.trafficStatus != 0 {
			w.WriteHeader(s.trafficStatus)
			return
		}
		email := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/getClientTraffics/")
		resp, ok := s.traffic[email]
		if !ok {
			writeJSON(w, apiResponse{Success: false, Msg: "no traffic"})
			return
		}
		writeJSON(w, resp)

	case r.URL.Path == "/panel/api/inbounds/list":
		var list []map[string]any
		for _, inbound := range s.inbounds {
			list = append(list, inbound)
		}
		obj, err := json.Marshal(list)
		require.NoError(s.t, err)
		writeJSON(w, apiResponse{Success: true, Obj: obj})

	case r.URL.Path == "/panel/api/inbounds/onlines":
		obj, err := json.Marshal(s.onlines)
		require.NoError(s.t, err)
		writeJSON(w, apiResponse{Success: true, Obj: obj})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := New(srv.URL, "/panel", "admin", "admin", nil, testLogger())
	require.NoError(t, err)
	return client
}

// vlessInbound builds an inbound document with string-encoded settings, an
// existing client and a top-level field this client does not model.
func vlessInbound() map[string]any {
	settings, _ := json.Marshal(map[string]any{
		"clients": []any{
			map[string]any{"id": "old-id", "email": "bob", "enable": true, "custom": "keep-me"},
		},
		"decryption": "none",
	})
	stream, _ := json.Marshal(map[string]any{
		"network":  "tcp",
		"security": "reality",
		"realitySettings": map[string]any{
			"serverNames": []string{"example.com", "alt.example.com"},
			"shortIds":    []string{"ab12"},
			"settings": map[string]any{
				"publicKey":   "pk",
				"fingerprint": "chrome",
				"spiderX":     "/",
			},
		},
	})
	return map[string]any{
		"id":             float64(1),
		"port":           float64(443),
		"protocol":       "vless",
		"remark":         "vpn",
		"enable":         true,
		"up":             float64(100),
		"down":           float64(200),
		"settings":       string(settings),
		"streamSettings": string(stream),
		"sniffing":       `{"enabled":true}`,
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.failLogin = true

	client := newTestClient(t, srv)
	err := client.Login(context.Background())
	require.ErrorIs(t, err, common.ErrPanelAuthFailed)
}

func TestCreateClient_PreservesUnmodeledFields(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.inbounds[1] = vlessInbound()

	client := newTestClient(t, srv)
	ref, err := client.CreateClient(context.Background(), 1, "alice", "vless")
	require.NoError(t, err)
	assert.Equal(t, "alice", ref.Email)
	assert.NotEmpty(t, ref.ClientID)

	// The whole inbound is written back, including fields the client never
	// touches.
	require.NotNil(t, ps.lastUpdate)
	assert.Equal(t, `{"enabled":true}`, ps.lastUpdate["sniffing"])

	settings := decodeEmbedded(ps.lastUpdate["settings"])
	assert.Equal(t, "none", settings["decryption"])
	clients, _ := settings["clients"].([]any)
	require.Len(t, clients, 2)

	existing := clients[0].(map[string]any)
	assert.Equal(t, "keep-me", existing["custom"])

	added := clients[1].(map[string]any)
	assert.Equal(t, ref.ClientID, added["id"])
	assert.Equal(t, "alice", added["email"])
	assert.Equal(t, "xtls-rprx-vision", added["flow"])
}

func TestCreateClient_InboundMissing(t *testing.T) {
	_, srv := newPanelServer(t)

	client := newTestClient(t, srv)
	_, err := client.CreateClient(context.Background(), 99, "alice", "vless")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteClient_Idempotent(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.inbounds[1] = vlessInbound()

	client := newTestClient(t, srv)

	found, err := client.DeleteClient(context.Background(), 1, "bob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, ps.updateCount)

	// Second delete finds nothing and must not write the inbound again.
	found, err = client.DeleteClient(context.Background(), 1, "bob")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, ps.updateCount)
}

func TestGetClientTraffic(t *testing.T) {
	ps, srv := newPanelServer(t)
	obj, _ := json.Marshal(map[string]int64{"up": 123, "down": 456})
	ps.traffic["alice"] = apiResponse{Success: true, Obj: obj}

	client := newTestClient(t, srv)
	traffic, err := client.GetClientTraffic(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(123), traffic.UploadBytes)
	assert.Equal(t, int64(456), traffic.DownloadBytes)
}

func TestGetClientTraffic_MissYieldsZeros(t *testing.T) {
	_, srv := newPanelServer(t)

	client := newTestClient(t, srv)
	traffic, err := client.GetClientTraffic(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, traffic.UploadBytes)
	assert.Zero(t, traffic.DownloadBytes)
}

func TestGetClientTraffic_PanelErrorYieldsZeros(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.trafficStatus = http.StatusInternalServerError

	client := newTestClient(t, srv)
	traffic, err := client.GetClientTraffic(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, traffic.UploadBytes)
	assert.Zero(t, traffic.DownloadBytes)
}

func TestSessionExpiry_ReloginOnce(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.inbounds[1] = vlessInbound()

	client := newTestClient(t, srv)

	// Prime the session, then expire it behind the client's back.
	require.NoError(t, client.Login(context.Background()))
	ps.mu.Lock()
	ps.expired = true
	ps.mu.Unlock()

	inbound, err := client.GetInbound(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "vless", inbound.Protocol)
	assert.Equal(t, 2, ps.loginCount)
}

func TestServerStatus_SkipsDisabledInbounds(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.inbounds[1] = vlessInbound()
	disabled := vlessInbound()
	disabled["id"] = float64(2)
	disabled["enable"] = false
	ps.inbounds[2] = disabled

	client := newTestClient(t, srv)
	status, err := client.ServerStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, 1, status.Inbounds)
	assert.Equal(t, 1, status.Clients)
	assert.Equal(t, int64(100), status.UploadBytes)
	assert.Equal(t, int64(200), status.DownloadBytes)
}

func TestOnlineClients(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.onlines = []string{"alice", "bob"}

	client := newTestClient(t, srv)
	assert.Equal(t, []string{"alice", "bob"}, client.OnlineClients(context.Background()))
}

func TestGetProtocolSettings(t *testing.T) {
	ps, srv := newPanelServer(t)
	ps.inbounds[1] = vlessInbound()

	client := newTestClient(t, srv)
	settings, err := client.GetProtocolSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 443, settings.Port)
	require.NotNil(t, settings.Reality)
	assert.Equal(t, "pk", settings.Reality.PublicKey)
	assert.Equal(t, []string{"example.com", "alt.example.com"}, settings.Reality.ServerNames)
}

func TestHealthCheck(t *testing.T) {
	_, srv := newPanelServer(t)

	client := newTestClient(t, srv)
	assert.True(t, client.HealthCheck(context.Background()))

	srv.Close()
	assert.False(t, client.HealthCheck(context.Background()))
}
