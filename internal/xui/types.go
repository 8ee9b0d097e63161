package xui

import "encoding/json"

// apiResponse is the envelope every panel endpoint answers with.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound is one listening configuration on the panel. Settings and
// StreamSettings are JSON documents encoded as strings inside the outer JSON;
// they are decoded by the settings adapter and must be re-encoded symmetrically
// when the inbound is written back.
type Inbound struct {
	ID             int    `json:"id"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	Up             int64  `json:"up"`
	Down           int64  `json:"down"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

// ClientRef identifies a credential created inside an inbound. Email is the
// panel-side lookup key for later deletes and traffic reads.
type ClientRef struct {
	ClientID  string `json:"client_id"`
	Email     string `json:"email"`
	Protocol  string `json:"protocol"`
	InboundID int    `json:"inbound_id"`
}

// Traffic is a per-client byte counter. Reads are best-effort: a panel-side
// miss yields zeros, not an error.
type Traffic struct {
	UploadBytes   int64
	DownloadBytes int64
}

// ServerStatus aggregates enabled inbounds, their clients and traffic.
type ServerStatus struct {
	Online        bool
	Inbounds      int
	Clients       int
	UploadBytes   int64
	DownloadBytes int64
}
