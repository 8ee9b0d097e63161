package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/vpnaccess/internal/server/config"
)

const adminHelpText = `
Operator commands:
/pending - list pending requests
/approve <id> <protocol> - approve a request
/reject <id> [comment] - reject a request
/users - list users with active access
/status - panel summary
/online - currently connected clients`

func helpText(protocols []config.Protocol) string {
	return `Commands:
/request - ask for VPN access
/link - your connection string
/qr - your connection string as a QR code
/stats - your traffic counters
/switch <protocol> - change protocol
/sni - choose a camouflage domain
/revoke - give up your access

` + protocolList(protocols)
}

func protocolList(protocols []config.Protocol) string {
	var sb strings.Builder
	sb.WriteString("Available protocols:\n")
	for _, p := range protocols {
		fmt.Fprintf(&sb, "%s - %s", p.Name, p.Label)
		if p.Recommended {
			sb.WriteString(" (recommended)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseApproveArgs(args string, protocols []config.Protocol) (int64, string, error) {
	fields := strings.Fields(args)
	usage := fmt.Errorf("Usage: /approve <request id> <protocol>")

	if len(fields) == 0 || len(fields) > 2 {
		return 0, "", usage
	}

	requestID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, "", usage
	}

	// A missing protocol falls back to the recommended one.
	if len(fields) == 1 {
		for _, p := range protocols {
			if p.Recommended {
				return requestID, p.Name, nil
			}
		}
		return 0, "", usage
	}
	return requestID, fields[1], nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
