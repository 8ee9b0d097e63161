package xui

import "encoding/json"

// RealitySettings are the Reality parameters a client needs to complete the
// TLS-camouflage handshake.
type RealitySettings struct {
	PublicKey string
	// Fingerprint is the protocol-level value, falling back to the
	// stream-level one, then to "chrome".
	Fingerprint string
	// ServerNames is the full ordered SNI candidate list; the first entry
	// is the default and the rest are user-selectable.
	ServerNames []string
	ShortID     string
	SpiderX     string
}

// DefaultSNI returns the first configured server name, or "".
func (r *RealitySettings) DefaultSNI() string {
	if len(r.ServerNames) == 0 {
		return ""
	}
	return r.ServerNames[0]
}

// ShadowsocksSettings are the inbound-level cipher parameters.
type ShadowsocksSettings struct {
	Method   string
	Password string
}

// ProtocolSettings is the normalized view of an inbound's connection
// parameters. Exactly one of Reality/Shadowsocks is set for supported
// protocols; both are nil for unsupported ones, which downstream code treats
// as "no link available".
type ProtocolSettings struct {
	Port        int
	Remark      string
	Protocol    string
	Reality     *RealitySettings
	Shadowsocks *ShadowsocksSettings
}

// streamSettings mirrors the subset of the stream-settings document the
// adapter reads. Everything else in the blob is ignored.
type streamSettings struct {
	Fingerprint     string `json:"fingerprint"`
	RealitySettings struct {
		ServerNames []string `json:"serverNames"`
		ShortIDs    []string `json:"shortIds"`
		Settings    struct {
			PublicKey   string `json:"publicKey"`
			Fingerprint string `json:"fingerprint"`
			SpiderX     string `json:"spiderX"`
		} `json:"settings"`
	} `json:"realitySettings"`
}

// ExtractSettings normalizes an inbound's protocol parameters. It is a pure
// transformation: absent or malformed sub-documents degrade to empty values
// and unknown protocols yield a settings object with no protocol section.
func ExtractSettings(inbound *Inbound) ProtocolSettings {
	settings := ProtocolSettings{
		Port:     inbound.Port,
		Remark:   inbound.Remark,
		Protocol: inbound.Protocol,
	}

	switch inbound.Protocol {
	case "vless":
		settings.Reality = extractReality(inbound.StreamSettings)
	case "shadowsocks":
		settings.Shadowsocks = extractShadowsocks(inbound.Settings)
	}

	return settings
}

func extractReality(raw string) *RealitySettings {
	var stream streamSettings
	if raw != "" {
		// Malformed stream settings degrade to defaults below.
		_ = json.Unmarshal([]byte(raw), &stream)
	}

	reality := &RealitySettings{
		PublicKey:   stream.RealitySettings.Settings.PublicKey,
		Fingerprint: stream.RealitySettings.Settings.Fingerprint,
		ServerNames: stream.RealitySettings.ServerNames,
		SpiderX:     stream.RealitySettings.Settings.SpiderX,
	}
	if reality.Fingerprint == "" {
		reality.Fingerprint = stream.Fingerprint
	}
	if reality.Fingerprint == "" {
		reality.Fingerprint = "chrome"
	}
	if len(stream.RealitySettings.ShortIDs) > 0 {
		reality.ShortID = stream.RealitySettings.ShortIDs[0]
	}
	if reality.SpiderX == "" {
		reality.SpiderX = "/"
	}
	return reality
}

func extractShadowsocks(raw string) *ShadowsocksSettings {
	var settings struct {
		Method   string `json:"method"`
		Password string `json:"password"`
	}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &settings)
	}
	return &ShadowsocksSettings{Method: settings.Method, Password: settings.Password}
}
