package models

// SubmitResponse is the body returned by POST /api/analyze
type SubmitResponse struct {
	ID     AnalysisID     `json:"id"`
	Status AnalysisStatus `json:"status"`
}

// ErrorResponse represents an error response.
// The analysis service and the proxy both use the "error" key.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// HealthResponse is served by the health endpoints
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
