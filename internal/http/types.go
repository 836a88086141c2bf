package http

// RecommendBooksRequest is the request body for POST /recommend/books.
type RecommendBooksRequest struct {
	UserID *int64 `json:"user_id"`
}

// BooksBatchResponse is the response body for GET /recommend/books/all.
type BooksBatchResponse struct {
	Status    string `json:"status"`
	UserCount int    `json:"user_count"`
	Timestamp string `json:"timestamp"`
}

// GoalsBatchResponse is the response body for GET /recommend/goals/all.
type GoalsBatchResponse struct {
	Status        string `json:"status"`
	UserCount     int    `json:"user_count"`
	InactiveCount int    `json:"inactive_count"`
	ReportRows    int    `json:"report_rows"`
	Timestamp     string `json:"timestamp"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Database       string `json:"database,omitempty"`
	IndexDocuments int    `json:"index_documents"` // -1 when unknown
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
