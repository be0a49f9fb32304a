// Package feedback implements the reinforcement loop: positive feedback
// becomes a golden record in Fast Memory, negative feedback becomes a review
// item, and both update the learning counters.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/model"
	"github.com/sphota-ai/sphota/internal/resolver"
)

// PendingSource looks up the per-request state the resolver left behind.
type PendingSource interface {
	Pending(requestID string) (resolver.Pending, bool)
	ConsumePending(requestID string)
}

// ReviewStore is the durable side of the loop: review items and counters.
type ReviewStore interface {
	AppendReview(ctx context.Context, item model.ReviewItem) (model.LearningStats, error)
	RecordSuccess(ctx context.Context, at time.Time) (model.LearningStats, error)
}

// Manager routes feedback submissions. Safe for concurrent use.
type Manager struct {
	logger  *slog.Logger
	pending PendingSource
	memory  *fastmemory.Store
	store   ReviewStore
	corpus  *corpus.Corpus

	newID func() string
	now   func() time.Time
}

var feedbackMeter = otel.GetMeterProvider().Meter("sphota/feedback")

// New wires a manager.
func New(logger *slog.Logger, pending PendingSource, memory *fastmemory.Store,
	store ReviewStore, c *corpus.Corpus) *Manager {
	return &Manager{
		logger:  logger,
		pending: pending,
		memory:  memory,
		store:   store,
		corpus:  c,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// SetIDSource overrides review-item id generation, for reproducible tests.
func (m *Manager) SetIDSource(fn func() string) { m.newID = fn }

// SetClock overrides the time source, for reproducible tests.
func (m *Manager) SetClock(fn func() time.Time) { m.now = fn }

// Submit validates and routes one feedback message.
//
// was_successful=true reinforces: if the request is still pending and the
// correction names a known intent, a golden record is inserted into Fast
// Memory. An expired request id or unknown intent still counts as correct
// feedback and returns "logged_without_memory" rather than an error.
//
// was_successful=false queues a review item; Fast Memory is untouched.
func (m *Manager) Submit(ctx context.Context, req model.FeedbackRequest) (model.FeedbackReceipt, error) {
	if err := ctx.Err(); err != nil {
		return model.FeedbackReceipt{}, err
	}
	if err := validate(req); err != nil {
		return model.FeedbackReceipt{}, err
	}

	now := m.now().UTC()
	var (
		receipt model.FeedbackReceipt
		err     error
	)
	if *req.WasSuccessful {
		receipt, err = m.reinforce(ctx, req, now)
	} else {
		receipt, err = m.queueForReview(ctx, req, now)
	}
	if err != nil {
		return model.FeedbackReceipt{}, err
	}

	if counter, merr := feedbackMeter.Int64Counter("sphota.feedback"); merr == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("action", string(receipt.Action))))
	}
	return receipt, nil
}

func validate(req model.FeedbackRequest) error {
	if _, err := uuid.Parse(req.RequestID); err != nil {
		return fmt.Errorf("%w: request_id %q is not a UUID", model.ErrInvalidFeedback, req.RequestID)
	}
	correction := req.Correction()
	if correction == "" {
		return fmt.Errorf("%w: user_correction is required", model.ErrInvalidFeedback)
	}
	if utf8.RuneCountInString(correction) > 100 {
		return fmt.Errorf("%w: user_correction exceeds 100 characters", model.ErrInvalidFeedback)
	}
	if req.WasSuccessful == nil {
		return fmt.Errorf("%w: was_successful is required", model.ErrInvalidFeedback)
	}
	return nil
}

func (m *Manager) reinforce(ctx context.Context, req model.FeedbackRequest, now time.Time) (model.FeedbackReceipt, error) {
	action := model.ActionLoggedWithoutMemory
	correction := req.Correction()

	pend, found := m.pending.Pending(req.RequestID)
	_, known := m.corpus.ByID(correction)

	switch {
	case !found:
		m.logger.Info("reinforcement without pending record",
			"request_id", req.RequestID, "correction", correction)
	case !known:
		m.logger.Info("reinforcement names unknown intent",
			"request_id", req.RequestID, "correction", correction,
			"error", model.ErrUnknownIntent)
	default:
		rec := model.GoldenRecord{
			RecordID:           m.newID(),
			OriginalInput:      pend.NormalizedInput,
			Embedding:          pend.Embedding,
			ResolvedIntentID:   correction,
			ConfidenceAtTime:   pend.Confidence,
			ContextFingerprint: pend.ContextFingerprint,
			CreatedAt:          now,
		}
		if err := m.memory.Insert(rec); err != nil {
			return model.FeedbackReceipt{}, fmt.Errorf("insert golden record: %w", err)
		}
		m.pending.ConsumePending(req.RequestID)
		action = model.ActionLoggedForLearning
		m.logger.Info("golden record stored",
			"request_id", req.RequestID, "record_id", rec.RecordID, "intent_id", correction)
	}

	stats, err := m.store.RecordSuccess(ctx, now)
	if err != nil {
		return model.FeedbackReceipt{}, fmt.Errorf("record success: %w", err)
	}
	return model.FeedbackReceipt{Action: action, Stats: stats}, nil
}

func (m *Manager) queueForReview(ctx context.Context, req model.FeedbackRequest, now time.Time) (model.FeedbackReceipt, error) {
	item := model.ReviewItem{
		ItemID:         m.newID(),
		RequestID:      req.RequestID,
		UserCorrection: req.Correction(),
		CreatedAt:      now,
		Status:         model.ReviewPending,
		Notes:          legacyNotes(req),
	}
	if pend, found := m.pending.Pending(req.RequestID); found {
		item.OriginalInput = pend.NormalizedInput
		item.ResolvedIntentID = pend.ResolvedIntentID
		item.ConfidenceAtTime = pend.Confidence
	}

	stats, err := m.store.AppendReview(ctx, item)
	if err != nil {
		return model.FeedbackReceipt{}, fmt.Errorf("append review item: %w", err)
	}
	m.logger.Info("feedback queued for review",
		"request_id", req.RequestID, "item_id", item.ItemID)
	return model.FeedbackReceipt{Action: model.ActionQueuedForReview, Stats: stats}, nil
}

// legacyNotes folds the richer legacy fields into the item's notes so they
// survive without influencing routing.
func legacyNotes(req model.FeedbackRequest) string {
	notes := req.Notes
	if req.CorrectIntent != "" && req.UserCorrection != "" && req.CorrectIntent != req.UserCorrection {
		suffix := "correct_intent=" + req.CorrectIntent
		if notes != "" {
			notes += "; " + suffix
		} else {
			notes = suffix
		}
	}
	return notes
}
