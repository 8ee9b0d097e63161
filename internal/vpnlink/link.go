// Package vpnlink renders client connection URIs from normalized profile
// data. All functions are pure: for fixed inputs the output is byte-identical,
// which QR rendering and round-trip tests rely on.
package vpnlink

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Reality carries the Reality parameters used for VLESS rendering. SNI and
// ShortID are the resolved values; the Default fields are the panel-advertised
// fallbacks applied by Merge.
type Reality struct {
	PublicKey      string
	Fingerprint    string
	SNI            string
	DefaultSNI     string
	ShortID        string
	DefaultShortID string
	SpiderX        string
}

// Shadowsocks carries the inbound-level cipher parameters.
type Shadowsocks struct {
	Method   string
	Password string
}

// Profile is the input to rendering: panel data merged with the local
// profile record.
type Profile struct {
	Protocol    string
	ClientID    string
	Email       string
	Host        string
	Port        int
	Remark      string
	Reality     *Reality
	Shadowsocks *Shadowsocks
}

// Overrides are the per-user settings applied on top of the profile.
// Only the SNI is user-selectable; the short id always falls back to the
// protocol default.
type Overrides struct {
	SNI string
}

// Merge resolves the effective Reality parameters: the user override wins
// over the profile value, which wins over the panel default.
func Merge(profile Profile, overrides Overrides) Profile {
	if profile.Reality == nil {
		return profile
	}

	reality := *profile.Reality
	if overrides.SNI != "" {
		reality.SNI = overrides.SNI
	}
	if reality.SNI == "" {
		reality.SNI = reality.DefaultSNI
	}
	if reality.ShortID == "" {
		reality.ShortID = reality.DefaultShortID
	}

	profile.Reality = &reality
	return profile
}

// Render produces the connection URI for the profile's protocol. The second
// return value is false when the protocol has no renderer; callers must treat
// that as "cannot render", not as an error.
func Render(profile Profile, overrides Overrides) (string, bool) {
	switch profile.Protocol {
	case "vless":
		return renderVLESS(Merge(profile, overrides)), true
	case "shadowsocks":
		return renderShadowsocks(profile), true
	default:
		return "", false
	}
}

func renderVLESS(profile Profile) string {
	reality := profile.Reality
	if reality == nil {
		reality = &Reality{}
	}

	fragment := profile.Email
	if profile.Remark != "" {
		fragment = profile.Remark + "-" + profile.Email
	}

	// The spider path appears as a query value and must be percent-encoded
	// ("/" → "%2F").
	return fmt.Sprintf(
		"vless://%s@%s:%d?type=tcp&security=reality&pbk=%s&fp=%s&sni=%s&sid=%s&spx=%s&flow=xtls-rprx-vision#%s",
		profile.ClientID, profile.Host, profile.Port,
		reality.PublicKey, reality.Fingerprint, reality.SNI, reality.ShortID,
		escapeSpiderPath(reality.SpiderX), fragment)
}

// escapeSpiderPath percent-encodes everything outside the unreserved set,
// rendering a space as "%20". "+" only means space in form encoding and
// some clients take it literally inside a URI.
func escapeSpiderPath(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func renderShadowsocks(profile Profile) string {
	ss := profile.Shadowsocks
	if ss == nil {
		ss = &Shadowsocks{}
	}

	var fragment string
	switch {
	case profile.Remark != "" && profile.Email != "":
		fragment = profile.Remark + "-" + profile.Email
	case profile.Remark != "":
		fragment = profile.Remark
	default:
		fragment = profile.Email
	}

	userinfo := fmt.Sprintf("%s:%s@%s:%d", ss.Method, ss.Password, profile.Host, profile.Port)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(userinfo))

	return fmt.Sprintf("ss://%s#%s", encoded, fragment)
}
