package models

// Traffic is a best-effort per-client byte counter read from the panel.
type Traffic struct {
	UploadBytes   int64
	DownloadBytes int64
}

// ServerStatus is an aggregate over all enabled inbounds on the panel.
type ServerStatus struct {
	Online        bool
	Inbounds      int
	Clients       int
	UploadBytes   int64
	DownloadBytes int64
}
