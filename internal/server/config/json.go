package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/vpnaccess/internal/flagx"
	"github.com/dmitrijs2005/vpnaccess/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "10s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	PanelURL              string         `json:"panel_url"`
	PanelBasePath         string         `json:"panel_base_path"`
	PanelUsername         string         `json:"panel_username"`
	PanelPassword         string         `json:"panel_password"`
	PanelTimeout          timex.Duration `json:"panel_timeout"`
	VPNHost               string         `json:"vpn_host"`
	BotToken              string         `json:"bot_token"`
	AdminIDs              []int64        `json:"admin_ids"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	Protocols             []Protocol     `json:"protocols"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.PanelURL = c.PanelURL
	config.PanelBasePath = c.PanelBasePath
	config.PanelUsername = c.PanelUsername
	config.PanelPassword = c.PanelPassword
	config.PanelTimeout = time.Duration(c.PanelTimeout.Duration)
	config.VPNHost = c.VPNHost
	config.BotToken = c.BotToken
	config.AdminIDs = c.AdminIDs
	config.SecretKey = c.SecretKey
	config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	if len(c.Protocols) > 0 {
		config.Protocols = c.Protocols
	}
}
