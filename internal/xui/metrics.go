package xui

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

var panelRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vpnaccess_panel_requests_total",
	Help: "Panel API calls by operation and outcome.",
}, []string{"op", "outcome"})

func observePanelCall(op, outcome string) {
	panelRequestsTotal.WithLabelValues(op, outcome).Inc()
}
