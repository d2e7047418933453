package dto

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type ConfigResponse struct {
	SiteID string `json:"site_id"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	SiteID   string `json:"site_id"`
	Version  string `json:"version"`
}
