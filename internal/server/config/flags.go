package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vpnaccess/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   operator token HMAC secret key
//	-l int      operator token validity, minutes
//	-x string   panel base URL (e.g., "http://localhost:54321")
//	-b string   panel base path (e.g., "/panel")
//	-u string   panel username
//	-p string   panel password
//	-o int      panel call timeout, seconds
//	-n string   public VPN host
//	-t string   Telegram bot token
//	-i string   comma-separated operator Telegram IDs
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
//   - The protocol table has no flag form; it comes from defaults or JSON.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-l", "-x", "-b", "-u", "-p", "-o", "-n", "-t", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run HTTP API")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("l", int(config.TokenValidityDuration.Minutes()), "operator token validity (in minutes)")

	fs.StringVar(&config.PanelURL, "x", config.PanelURL, "panel base URL")
	fs.StringVar(&config.PanelBasePath, "b", config.PanelBasePath, "panel base path")
	fs.StringVar(&config.PanelUsername, "u", config.PanelUsername, "panel username")
	fs.StringVar(&config.PanelPassword, "p", config.PanelPassword, "panel password")

	panelTimeout := fs.Int("o", int(config.PanelTimeout.Seconds()), "panel call timeout (in seconds)")

	fs.StringVar(&config.VPNHost, "n", config.VPNHost, "public VPN host")
	fs.StringVar(&config.BotToken, "t", config.BotToken, "Telegram bot token")

	adminIDs := fs.String("i", "", "comma-separated operator Telegram IDs")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	config.PanelTimeout = time.Duration(*panelTimeout) * time.Second

	if *adminIDs != "" {
		config.AdminIDs = parseAdminIDs(*adminIDs)
	}
}

// parseAdminIDs splits a comma-separated list of Telegram IDs, skipping
// blanks and malformed entries.
func parseAdminIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
