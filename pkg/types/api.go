package types

// RunsResponse wraps the run listing returned by GET /runs.
type RunsResponse struct {
	Runs []RunMeta `json:"runs"`
}

// DatasetInfo describes one discoverable measurements file.
type DatasetInfo struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
}
