package domain

// Document upload statuses.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// NoInformationAnswer is returned when retrieval produced no context.
const NoInformationAnswer = "No relevant information found in the uploaded documents."

// UploadedDocument reports the outcome for one uploaded document.
type UploadedDocument struct {
	Filename string `json:"filename"`
	DocID    int    `json:"doc_id"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Error    string `json:"error,omitempty"`
}

// UploadResult is returned by the upload operation.
type UploadResult struct {
	Documents []UploadedDocument `json:"documents"`
}

// Source is a citation attached to an answer.
type Source struct {
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Snippet    string  `json:"snippet"`
	Distance   float64 `json:"distance"`
}

// QueryMetrics is the subset of metrics reported alongside an answer.
type QueryMetrics struct {
	LatencySeconds    float64 `json:"latency_seconds"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	TotalQueries      int     `json:"total_queries"`
}

// Answer is returned by the ask operation.
type Answer struct {
	Answer  string       `json:"answer"`
	Sources []Source     `json:"sources"`
	Metrics QueryMetrics `json:"metrics"`
}

// Metrics is a point-in-time view of the process-wide counters.
type Metrics struct {
	TotalUploads      int     `json:"total_uploads"`
	TotalQueries      int     `json:"total_queries"`
	LatencySum        float64 `json:"-"`
	LatencyCount      int     `json:"-"`
	AvgLatencySeconds float64 `json:"avg_query_latency_seconds"`
	IndexedChunks     int     `json:"indexed_chunks"`
}
