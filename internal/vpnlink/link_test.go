package vpnlink

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vlessProfile() Profile {
	return Profile{
		Protocol: "vless",
		ClientID: "11111111-2222-3333-4444-555555555555",
		Email:    "alice",
		Host:     "1.2.3.4",
		Port:     443,
		Reality: &Reality{
			PublicKey:   "PK",
			Fingerprint: "chrome",
			SNI:         "example.com",
			ShortID:     "abcd",
			SpiderX:     "/",
		},
	}
}

func TestRender_VLESS(t *testing.T) {
	uri, ok := Render(vlessProfile(), Overrides{})
	require.True(t, ok)
	assert.Equal(t,
		"vless://11111111-2222-3333-4444-555555555555@1.2.3.4:443"+
			"?type=tcp&security=reality&pbk=PK&fp=chrome&sni=example.com&sid=abcd&spx=%2F"+
			"&flow=xtls-rprx-vision#alice",
		uri)
}

func TestRender_VLESS_RemarkFragment(t *testing.T) {
	profile := vlessProfile()
	profile.Remark = "main"

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(uri, "#main-alice"))
}

func TestRender_VLESS_SpiderPathEncoding(t *testing.T) {
	profile := vlessProfile()
	profile.Reality.SpiderX = "/path/to/x"

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.Contains(t, uri, "spx=%2Fpath%2Fto%2Fx")
	assert.NotContains(t, uri, "spx=/path")
}

func TestRender_VLESS_SpiderPathSpaceEncoding(t *testing.T) {
	profile := vlessProfile()
	profile.Reality.SpiderX = "/a b"

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.Contains(t, uri, "spx=%2Fa%20b")
	assert.NotContains(t, uri, "+")
}

func TestRender_VLESS_OverridePrecedence(t *testing.T) {
	profile := vlessProfile()
	profile.Reality.SNI = ""
	profile.Reality.DefaultSNI = "default.example.com"

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.Contains(t, uri, "sni=default.example.com")

	uri, ok = Render(profile, Overrides{SNI: "override.example.com"})
	require.True(t, ok)
	assert.Contains(t, uri, "sni=override.example.com")
}

func TestRender_VLESS_ShortIDFallback(t *testing.T) {
	profile := vlessProfile()
	profile.Reality.ShortID = ""
	profile.Reality.DefaultShortID = "ffff"

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.Contains(t, uri, "sid=ffff")
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	profile := vlessProfile()
	profile.Reality.SNI = ""
	profile.Reality.DefaultSNI = "default.example.com"

	_ = Merge(profile, Overrides{SNI: "override.example.com"})

	assert.Equal(t, "", profile.Reality.SNI, "merge must not mutate the caller's Reality")
}

func TestRender_Shadowsocks(t *testing.T) {
	profile := Profile{
		Protocol:    "shadowsocks",
		Email:       "alice",
		Host:        "1.2.3.4",
		Port:        8388,
		Shadowsocks: &Shadowsocks{Method: "aes-256-gcm", Password: "secret"},
	}

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	require.True(t, strings.HasPrefix(uri, "ss://"))

	encoded := strings.TrimPrefix(uri, "ss://")
	encoded, fragment, found := strings.Cut(encoded, "#")
	require.True(t, found)
	assert.Equal(t, "alice", fragment)
	assert.NotContains(t, encoded, "=", "base64url must be unpadded")

	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "aes-256-gcm:secret@1.2.3.4:8388", string(decoded))
}

func TestRender_Shadowsocks_RemarkOnlyFragment(t *testing.T) {
	profile := Profile{
		Protocol:    "shadowsocks",
		Remark:      "main",
		Host:        "1.2.3.4",
		Port:        8388,
		Shadowsocks: &Shadowsocks{Method: "aes-256-gcm", Password: "secret"},
	}

	uri, ok := Render(profile, Overrides{})
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(uri, "#main"))
}

func TestRender_UnknownProtocol(t *testing.T) {
	_, ok := Render(Profile{Protocol: "wireguard"}, Overrides{})
	assert.False(t, ok)
}

func TestRender_Deterministic(t *testing.T) {
	profile := vlessProfile()
	first, ok := Render(profile, Overrides{SNI: "pick.example.com"})
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		again, ok := Render(profile, Overrides{SNI: "pick.example.com"})
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}
