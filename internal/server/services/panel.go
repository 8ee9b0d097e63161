package services

import (
	"context"

	"github.com/dmitrijs2005/vpnaccess/internal/xui"
)

// PanelAPI is the subset of the panel client the services use. It exists so
// tests can substitute a fake panel.
type PanelAPI interface {
	CreateClient(ctx context.Context, inboundID int, email, protocol string) (*xui.ClientRef, error)
	DeleteClient(ctx context.Context, inboundID int, email string) (bool, error)
	GetClientTraffic(ctx context.Context, email string) (xui.Traffic, error)
	GetProtocolSettings(ctx context.Context, inboundID int) (xui.ProtocolSettings, error)
	ServerStatus(ctx context.Context) (xui.ServerStatus, error)
	OnlineClients(ctx context.Context) []string
	HealthCheck(ctx context.Context) bool
}
