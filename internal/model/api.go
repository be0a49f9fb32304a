package model

import "time"

// Error codes for the HTTP error envelope.
const (
	ErrCodeInvalidContext   = "INVALID_CONTEXT"
	ErrCodeInvalidFeedback  = "INVALID_FEEDBACK"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNotReady         = "NOT_READY"
	ErrCodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// APIError is the error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains request metadata included in error responses.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ResolveRequest is the body of POST /resolve-intent.
type ResolveRequest struct {
	CommandText string           `json:"command_text" validate:"required,min=1,max=2000"`
	Context     *ContextSnapshot `json:"context,omitempty"`
}

// AuditTrail is the audit portion of a resolve response: which factors fired
// and what every Stage-1 candidate scored.
type AuditTrail struct {
	InputText           string             `json:"input_text"`
	ActiveFactors       []ResolutionFactor `json:"active_factors"`
	AllScores           map[string]float64 `json:"all_scores"`
	ResolutionTimestamp time.Time          `json:"resolution_timestamp"`
}

// ResolveResponse is the body of a successful POST /resolve-intent, fallback
// results included.
type ResolveResponse struct {
	ResolvedIntent       string             `json:"resolved_intent"`
	ConfidenceScore      float64            `json:"confidence_score"`
	ContributingFactors  []ResolutionFactor `json:"contributing_factors"`
	AlternativeIntents   map[string]float64 `json:"alternative_intents"`
	AuditTrail           AuditTrail         `json:"audit_trail"`
	RequestID            string             `json:"request_id"`
	ProcessingTimeMillis float64            `json:"processing_time_ms"`
}

// FeedbackRequest is the body of POST /feedback. The simplified shape
// (request_id, user_correction, was_successful) is canonical; the legacy
// correct_intent/notes fields are accepted and preserved but never change
// routing.
type FeedbackRequest struct {
	RequestID      string `json:"request_id" validate:"required,uuid"`
	UserCorrection string `json:"user_correction" validate:"required_without=CorrectIntent,max=100"`
	WasSuccessful  *bool  `json:"was_successful" validate:"required"`

	// Legacy fields from the richer feedback shape.
	CorrectIntent string `json:"correct_intent,omitempty" validate:"omitempty,max=100"`
	Notes         string `json:"notes,omitempty"`
}

// Correction is the effective correction: user_correction when given, else
// the legacy correct_intent.
func (r FeedbackRequest) Correction() string {
	if r.UserCorrection != "" {
		return r.UserCorrection
	}
	return r.CorrectIntent
}

// FeedbackResponse is the body of a successful POST /feedback.
type FeedbackResponse struct {
	Success        bool           `json:"success"`
	RequestID      string         `json:"request_id"`
	ActionTaken    FeedbackAction `json:"action_taken"`
	UserCorrection string         `json:"user_correction"`
	Message        string         `json:"message"`
	LearningStatus LearningStats  `json:"learning_status"`
	Timestamp      time.Time      `json:"timestamp"`
}

// StatsResponse is the body of GET /feedback/stats.
type StatsResponse struct {
	LearningStats
	Now time.Time `json:"now"`
}

// ReviewQueueResponse is the body of GET /feedback/review-queue.
type ReviewQueueResponse struct {
	PendingReviews int          `json:"pending_reviews"`
	Items          []ReviewItem `json:"items"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Ready         bool   `json:"ready"`
	CorpusIntents int    `json:"corpus_intents"`
	MemoryRecords int    `json:"memory_records"`
	PendingReview int    `json:"pending_review"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
