package model

import "time"

// CandidateSource identifies which Stage-1 index produced a candidate.
type CandidateSource string

const (
	SourceCorpus CandidateSource = "corpus"
	SourceMemory CandidateSource = "memory"
)

// SemanticCandidate is a Stage-1 retrieval result: an intent with the base
// score derived from vector similarity, before any contextual adjustment.
type SemanticCandidate struct {
	IntentID  string          `json:"intent_id"`
	BaseScore float64         `json:"base_score"`
	Source    CandidateSource `json:"source"`
}

// FactorInfluence classifies how a factor affected a candidate.
type FactorInfluence string

const (
	InfluenceBoost    FactorInfluence = "boost"
	InfluencePenalty  FactorInfluence = "penalty"
	InfluenceHardStop FactorInfluence = "hard_stop"
)

// ResolutionFactor records one matrix factor's effect on a candidate.
// Delta is always in [-1,1]; hard-stops carry a zero delta.
type ResolutionFactor struct {
	FactorName string          `json:"factor_name"`
	Delta      float64         `json:"delta"`
	Influence  FactorInfluence `json:"influence"`
}

// VerifiedIntent is the final result of a resolution. Fallbacks are a
// first-class variant of this type, not an error: callers pattern-match on
// FallbackUsed, and a fallback carries its reason as a synthetic factor in
// ActiveFactors.
type VerifiedIntent struct {
	IntentID         string              `json:"intent_id"`
	Confidence       float64             `json:"confidence"`
	Stage1Candidates []SemanticCandidate `json:"stage1_candidates"`
	Stage2Passed     bool                `json:"stage2_passed"`
	ActiveFactors    []ResolutionFactor  `json:"active_factors"`
	FactorDeltas     map[string]float64  `json:"factor_deltas"`
	FallbackUsed     bool                `json:"fallback_used"`
	RequestID        string              `json:"request_id"`
	// AlternativeScores holds the adjusted score of every Stage-2 survivor
	// other than the winner.
	AlternativeScores map[string]float64 `json:"alternative_scores,omitempty"`
	// Stage1Scores holds the base score of every Stage-1 candidate, for the
	// audit trail.
	Stage1Scores map[string]float64 `json:"stage1_scores,omitempty"`
	// InputText is the normalised input the engine actually scored.
	InputText  string    `json:"input_text"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Fallback reasons recorded as the synthetic factor of a fallback result.
const (
	FallbackNoSurvivors     = "no_candidates_survived"
	FallbackBelowConfidence = "below_confidence_floor"
)

// GoldenRecord is one positive-feedback reinforcement persisted into Fast
// Memory. Immutable once created.
type GoldenRecord struct {
	RecordID           string    `json:"record_id"`
	OriginalInput      string    `json:"original_input"`
	Embedding          []float32 `json:"embedding"`
	ResolvedIntentID   string    `json:"resolved_intent_id"`
	ConfidenceAtTime   float64   `json:"confidence_at_time"`
	ContextFingerprint string    `json:"context_fingerprint"`
	CreatedAt          time.Time `json:"created_at"`
}

// ReviewItemStatus is the adjudication state of a review item.
type ReviewItemStatus string

const (
	ReviewPending  ReviewItemStatus = "pending"
	ReviewReviewed ReviewItemStatus = "reviewed"
)

// ReviewItem is one negative-feedback entry awaiting human adjudication.
type ReviewItem struct {
	ItemID           string           `json:"item_id"`
	RequestID        string           `json:"request_id"`
	OriginalInput    string           `json:"original_input"`
	ResolvedIntentID string           `json:"resolved_intent_id"`
	UserCorrection   string           `json:"user_correction"`
	ConfidenceAtTime float64          `json:"confidence_at_time"`
	CreatedAt        time.Time        `json:"created_at"`
	Status           ReviewItemStatus `json:"status"`
	// Notes preserves the richer legacy feedback fields when a client sends
	// them; it never changes routing.
	Notes string `json:"notes,omitempty"`
}

// LearningStats are the live feedback counters. Invariant:
// Correct + Incorrect = Total.
type LearningStats struct {
	TotalFeedbacks     int64     `json:"total_feedbacks"`
	CorrectFeedbacks   int64     `json:"correct_feedbacks"`
	IncorrectFeedbacks int64     `json:"incorrect_feedbacks"`
	LastUpdate         time.Time `json:"last_update"`
}

// FeedbackAction is the routing outcome of a feedback submission.
type FeedbackAction string

const (
	ActionLoggedForLearning   FeedbackAction = "logged_for_learning"
	ActionQueuedForReview     FeedbackAction = "queued_for_review"
	ActionLoggedWithoutMemory FeedbackAction = "logged_without_memory"
)

// FeedbackReceipt is returned by the feedback manager.
type FeedbackReceipt struct {
	Action FeedbackAction `json:"action"`
	Stats  LearningStats  `json:"stats_snapshot"`
}
