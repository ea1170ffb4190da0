package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a try-on job in a transport-friendly format.
type Job struct {
	ID              int64       `json:"id"`
	ClientID        string      `json:"clientId"`
	Status          string      `json:"status"`
	PersonImageURL  string      `json:"personImageUrl"`
	GarmentImageURL string      `json:"garmentImageUrl"`
	GarmentType     string      `json:"garmentType,omitempty"`
	Category        string      `json:"category,omitempty"`
	Progress        JobProgress `json:"progress"`
	ResultImageURL  string      `json:"resultImageUrl,omitempty"`
	HistoryID       string      `json:"historyId,omitempty"`
	ErrorMessage    string      `json:"errorMessage,omitempty"`
	FalRequestID    string      `json:"falRequestId,omitempty"`
	Attempts        int         `json:"attempts"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	UpdatedAt       string      `json:"updatedAt,omitempty"`
}

// JobProgress captures where a job sits in the fal.ai queue.
type JobProgress struct {
	QueuePosition int    `json:"queuePosition"`
	Message       string `json:"message"`
}

// TryOnResult is one history entry.
type TryOnResult struct {
	ID              string         `json:"id"`
	PersonImageURL  string         `json:"personImageUrl"`
	GarmentImageURL string         `json:"garmentImageUrl"`
	ResultImageURL  string         `json:"resultImageUrl"`
	IsFavorite      bool           `json:"isFavorite"`
	CreatedAt       string         `json:"createdAt,omitempty"`
	GarmentType     string         `json:"garmentType,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// TryOnResponse is returned by the synchronous try-on endpoint.
type TryOnResponse struct {
	Success        bool   `json:"success"`
	ResultImageURL string `json:"resultImageUrl,omitempty"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	HistoryID      string `json:"historyId,omitempty"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	Message  string `json:"message"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

// ServerInfo is served at the root path.
type ServerInfo struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// StatusResponse summarizes dispatcher state.
type StatusResponse struct {
	Running   bool           `json:"running"`
	Workers   int            `json:"workers"`
	JobStats  map[string]int `json:"jobStats"`
	Completed int            `json:"completed"`
	Failed    int            `json:"failed"`
	LastError string         `json:"lastError,omitempty"`
	LastJob   *Job           `json:"lastJob,omitempty"`
	Fal       FalHealth      `json:"fal"`
}

// FalHealth mirrors readiness reporting for the fal.ai queue.
type FalHealth struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// ErrorResponse is the failure envelope for every endpoint.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// HistoryListResponse wraps a collection of history entries.
type HistoryListResponse struct {
	Results []TryOnResult `json:"results"`
}

// HistoryItemResponse wraps a single history entry.
type HistoryItemResponse struct {
	Result TryOnResult `json:"result"`
}

// FavoriteRequest is the body of the favorite toggle endpoint. IsFavorite is
// required; nil means the field was absent.
type FavoriteRequest struct {
	IsFavorite *bool `json:"isFavorite"`
}
