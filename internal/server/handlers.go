package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/feedback"
	"github.com/sphota-ai/sphota/internal/model"
	"github.com/sphota-ai/sphota/internal/resolver"
	"github.com/sphota-ai/sphota/internal/reviewqueue"
)

// statusClientClosedRequest is the nginx convention for a client that went
// away mid-request; it keeps cancelled requests out of the 2xx access logs.
const statusClientClosedRequest = 499

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	resolver *resolver.Resolver
	feedback *feedback.Manager
	reviews  *reviewqueue.Store
	corpus   *corpus.Corpus
	memory   *fastmemory.Store
	validate *validator.Validate
	logger   *slog.Logger

	version   string
	maxBody   int64
	startedAt time.Time
	ready     atomic.Bool
}

// HandlersDeps wires a Handlers.
type HandlersDeps struct {
	Resolver            *resolver.Resolver
	Feedback            *feedback.Manager
	Reviews             *reviewqueue.Store
	Corpus              *corpus.Corpus
	Memory              *fastmemory.Store
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set. The service starts not-ready; call
// SetReady once the corpus is embedded and memory replayed.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		resolver:  deps.Resolver,
		feedback:  deps.Feedback,
		reviews:   deps.Reviews,
		corpus:    deps.Corpus,
		memory:    deps.Memory,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    deps.Logger,
		version:   deps.Version,
		maxBody:   deps.MaxRequestBodyBytes,
		startedAt: time.Now(),
	}
}

// SetReady flips the readiness gate. Endpoints other than /health return 503
// until this is called.
func (h *Handlers) SetReady() { h.ready.Store(true) }

// Ready reports whether startup has completed.
func (h *Handlers) Ready() bool { return h.ready.Load() }

// requireReady guards an endpoint behind the readiness gate.
func (h *Handlers) requireReady(w http.ResponseWriter, r *http.Request) bool {
	if h.ready.Load() {
		return true
	}
	writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeNotReady, "service is starting")
	return false
}

// HandleResolve handles POST /resolve-intent.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !h.requireReady(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req model.ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body: "+err.Error())
		return
	}
	// Only the command text is validated here; context ranges are the
	// resolver's job, so they come back as INVALID_CONTEXT.
	if err := h.validate.Var(req.CommandText, "required,min=1,max=2000"); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "command_text must be 1-2000 characters")
		return
	}

	var snap model.ContextSnapshot
	if req.Context != nil {
		snap = *req.Context
	}

	start := time.Now()
	result, err := h.resolver.Resolve(r.Context(), req.CommandText, snap)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidContext):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidContext, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, http.StatusGatewayTimeout, model.ErrCodeDeadlineExceeded, "resolution deadline exceeded")
		case errors.Is(err, context.Canceled):
			w.WriteHeader(statusClientClosedRequest)
		default:
			h.logger.Error("resolve failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, model.ResolveResponse{
		ResolvedIntent:      result.IntentID,
		ConfidenceScore:     result.Confidence,
		ContributingFactors: result.ActiveFactors,
		AlternativeIntents:  result.AlternativeScores,
		AuditTrail: model.AuditTrail{
			InputText:           result.InputText,
			ActiveFactors:       result.ActiveFactors,
			AllScores:           result.Stage1Scores,
			ResolutionTimestamp: result.ResolvedAt,
		},
		RequestID:            result.RequestID,
		ProcessingTimeMillis: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// HandleFeedback handles POST /feedback.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if !h.requireReady(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req model.FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidFeedback, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidFeedback, "invalid feedback: "+err.Error())
		return
	}

	receipt, err := h.feedback.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidFeedback):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidFeedback, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, http.StatusGatewayTimeout, model.ErrCodeDeadlineExceeded, "feedback deadline exceeded")
		case errors.Is(err, context.Canceled):
			w.WriteHeader(statusClientClosedRequest)
		default:
			h.logger.Error("feedback failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, model.FeedbackResponse{
		Success:        true,
		RequestID:      req.RequestID,
		ActionTaken:    receipt.Action,
		UserCorrection: req.Correction(),
		Message:        feedbackMessage(receipt.Action),
		LearningStatus: receipt.Stats,
		Timestamp:      time.Now().UTC(),
	})
}

func feedbackMessage(action model.FeedbackAction) string {
	switch action {
	case model.ActionLoggedForLearning:
		return "reinforcement stored; future similar inputs will score higher"
	case model.ActionQueuedForReview:
		return "feedback queued for review"
	case model.ActionLoggedWithoutMemory:
		return "feedback recorded; no memory update (request expired or intent unknown)"
	default:
		return string(action)
	}
}

// HandleStats handles GET /feedback/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireReady(w, r) {
		return
	}
	stats, err := h.reviews.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, model.StatsResponse{LearningStats: stats, Now: time.Now().UTC()})
}

// HandleReviewQueue handles GET /feedback/review-queue.
func (h *Handlers) HandleReviewQueue(w http.ResponseWriter, r *http.Request) {
	if !h.requireReady(w, r) {
		return
	}
	items, err := h.reviews.ListPending(r.Context())
	if err != nil {
		h.logger.Error("review queue read failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, model.ReviewQueueResponse{PendingReviews: len(items), Items: items})
}

// HandleMarkReviewed handles POST /feedback/review-queue/{item_id}/reviewed.
func (h *Handlers) HandleMarkReviewed(w http.ResponseWriter, r *http.Request) {
	if !h.requireReady(w, r) {
		return
	}
	itemID := r.PathValue("item_id")
	if err := h.reviews.MarkReviewed(r.Context(), itemID); err != nil {
		if errors.Is(err, reviewqueue.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no pending review item "+itemID)
			return
		}
		h.logger.Error("mark reviewed failed", "error", err, "item_id", itemID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"item_id": itemID, "status": string(model.ReviewReviewed)})
}

// HandleHealth handles GET /health. Always 200; readiness is a field, not a
// status code, so probes can distinguish starting from dead.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pending := 0
	if h.ready.Load() {
		if n, err := h.reviews.PendingCount(r.Context()); err == nil {
			pending = n
		}
	}
	status := "starting"
	if h.ready.Load() {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:        status,
		Version:       h.version,
		Ready:         h.ready.Load(),
		CorpusIntents: h.corpus.Len(),
		MemoryRecords: h.memory.Count(),
		PendingReview: pending,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}
