// Package resolver implements the two-stage hybrid resolution pipeline:
// Stage 1 retrieves semantic candidates from the corpus and Fast Memory,
// Stage 2 validates them against the Context Resolution Matrix and picks a
// winner or falls back.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/sphota-ai/sphota/internal/corpus"
	"github.com/sphota-ai/sphota/internal/crm"
	"github.com/sphota-ai/sphota/internal/embedding"
	"github.com/sphota-ai/sphota/internal/fastmemory"
	"github.com/sphota-ai/sphota/internal/model"
	"github.com/sphota-ai/sphota/internal/normalize"
)

// Tuning holds the resolver's scoring knobs. Zero values are replaced by the
// contract defaults.
type Tuning struct {
	// MemoryAlpha scales the base-score boost a memory hit contributes.
	MemoryAlpha float64
	// ConfidenceFloor is the minimum adjusted score a winner needs; below it
	// the resolver falls back.
	ConfidenceFloor float64
	// MemoryTopK is how many memory hits Stage 1 consults.
	MemoryTopK int
	// Stage1TopK is how many candidates survive into Stage 2.
	Stage1TopK int
}

func (t Tuning) withDefaults() Tuning {
	if t.MemoryAlpha == 0 {
		t.MemoryAlpha = 0.2
	}
	if t.ConfidenceFloor == 0 {
		t.ConfidenceFloor = 0.6
	}
	if t.MemoryTopK == 0 {
		t.MemoryTopK = 5
	}
	if t.Stage1TopK == 0 {
		t.Stage1TopK = 5
	}
	return t
}

// Resolver runs resolutions. Safe for concurrent use; all mutable state lives
// behind the memory store and the pending cache.
type Resolver struct {
	corpus   *corpus.Corpus
	memory   *fastmemory.Store
	matrix   *crm.Matrix
	embedder embedding.Provider
	norm     *normalize.Normalizer
	pending  *PendingCache
	logger   *slog.Logger
	tuning   Tuning

	// embedGroup collapses concurrent embeds of identical normalised text
	// into one provider call.
	embedGroup singleflight.Group

	// newID mints request ids. Swappable for deterministic tests.
	newID func() string
}

var engineMeter = otel.GetMeterProvider().Meter("sphota/resolver")

// New wires a resolver. pending may be shared with the feedback manager.
func New(logger *slog.Logger, c *corpus.Corpus, mem *fastmemory.Store, matrix *crm.Matrix,
	embedder embedding.Provider, norm *normalize.Normalizer, pending *PendingCache, tuning Tuning) *Resolver {
	return &Resolver{
		corpus:   c,
		memory:   mem,
		matrix:   matrix,
		embedder: embedder,
		norm:     norm,
		pending:  pending,
		logger:   logger,
		tuning:   tuning.withDefaults(),
		newID:    uuid.NewString,
	}
}

// SetIDSource overrides request-id generation. Tests use this for
// reproducible ids; production keeps the UUID default.
func (r *Resolver) SetIDSource(fn func() string) { r.newID = fn }

type scoredCandidate struct {
	cand     model.SemanticCandidate
	adjusted float64
	factors  []model.ResolutionFactor
}

// Resolve maps one input to a verified intent. Fallback is a first-class
// result, not an error: the only errors are invalid context and an expired
// deadline, both surfaced before any side effect.
func (r *Resolver) Resolve(ctx context.Context, rawInput string, snap model.ContextSnapshot) (model.VerifiedIntent, error) {
	if err := ctx.Err(); err != nil {
		return model.VerifiedIntent{}, err
	}
	if err := snap.Validate(); err != nil {
		return model.VerifiedIntent{}, err
	}

	text, fidelity := r.norm.Normalize(rawInput)
	snap = snap.WithFidelity(fidelity)

	// The flight may be shared with other requests, so the provider call must
	// not die with whichever caller happens to cancel first.
	v, err, _ := r.embedGroup.Do(text, func() (any, error) {
		return r.embedder.Embed(context.WithoutCancel(ctx), text)
	})
	if err != nil {
		return model.VerifiedIntent{}, fmt.Errorf("embed input: %w", err)
	}
	vec := v.([]float32)

	candidates := r.stage1(vec)
	stage1Scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		stage1Scores[c.IntentID] = c.BaseScore
	}

	survivors := r.stage2(candidates, snap)

	// The deadline gate sits after all scoring and before the pending-cache
	// write, so an expired request leaves no state behind.
	if err := ctx.Err(); err != nil {
		return model.VerifiedIntent{}, err
	}

	requestID := r.newID()
	now := time.Now().UTC()

	result := model.VerifiedIntent{
		Stage1Candidates: candidates,
		Stage1Scores:     stage1Scores,
		RequestID:        requestID,
		InputText:        text,
		ResolvedAt:       now,
	}

	if len(survivors) == 0 {
		r.fillFallback(&result, model.FallbackNoSurvivors)
	} else {
		winner := survivors[0]
		if winner.adjusted < r.tuning.ConfidenceFloor {
			r.fillFallback(&result, model.FallbackBelowConfidence)
		} else {
			result.IntentID = winner.cand.IntentID
			result.Confidence = winner.adjusted
			result.Stage2Passed = true
			result.ActiveFactors = winner.factors
			result.FactorDeltas = deltasOf(winner.factors)
			if len(survivors) > 1 {
				alt := make(map[string]float64, len(survivors)-1)
				for _, s := range survivors[1:] {
					alt[s.cand.IntentID] = s.adjusted
				}
				result.AlternativeScores = alt
			}
		}
	}

	r.pending.Put(Pending{
		RequestID:          requestID,
		NormalizedInput:    text,
		Embedding:          vec,
		ResolvedIntentID:   result.IntentID,
		Confidence:         result.Confidence,
		ContextFingerprint: snap.Fingerprint(),
		CreatedAt:          now,
	})

	outcome := "resolved"
	if result.FallbackUsed {
		outcome = "fallback"
	}
	if counter, err := engineMeter.Int64Counter("sphota.resolutions"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if hist, err := engineMeter.Int64Histogram("sphota.stage1.candidates"); err == nil {
		hist.Record(ctx, int64(len(candidates)))
	}

	r.logger.Debug("resolved intent",
		"request_id", requestID,
		"intent_id", result.IntentID,
		"confidence", result.Confidence,
		"fallback", result.FallbackUsed,
		"candidates", len(candidates),
		"survivors", len(survivors))

	return result, nil
}

// Pending exposes the pending-record lookup for the feedback path.
func (r *Resolver) Pending(requestID string) (Pending, bool) {
	return r.pending.Get(requestID)
}

// ConsumePending removes a pending record once feedback has used it.
func (r *Resolver) ConsumePending(requestID string) {
	r.pending.Remove(requestID)
}

// stage1 scores every corpus intent by its best example similarity, folds in
// memory reinforcement, and keeps the top candidates. Ties break by intent id
// so resolution is reproducible.
func (r *Resolver) stage1(vec []float32) []model.SemanticCandidate {
	intents := r.corpus.All()
	base := make([]model.SemanticCandidate, len(intents))
	for i := range intents {
		best := 0.0
		for _, ex := range r.corpus.ExampleVectors(i) {
			if sim := embedding.Cosine(vec, ex); sim > best {
				best = sim
			}
		}
		base[i] = model.SemanticCandidate{
			IntentID:  intents[i].ID,
			BaseScore: best,
			Source:    model.SourceCorpus,
		}
	}

	idx := make(map[string]int, len(base))
	for i, c := range base {
		idx[c.IntentID] = i
	}
	for _, hit := range r.memory.Query(vec, r.tuning.MemoryTopK) {
		i, known := idx[hit.Record.ResolvedIntentID]
		if !known {
			// Record predates a corpus change; harmless, skip it.
			continue
		}
		base[i].BaseScore += r.tuning.MemoryAlpha * hit.Similarity
		if base[i].BaseScore > 1 {
			base[i].BaseScore = 1
		}
		base[i].Source = model.SourceMemory
	}

	sort.Slice(base, func(i, j int) bool {
		if base[i].BaseScore != base[j].BaseScore {
			return base[i].BaseScore > base[j].BaseScore
		}
		return base[i].IntentID < base[j].IntentID
	})
	if r.tuning.Stage1TopK < len(base) {
		base = base[:r.tuning.Stage1TopK]
	}
	return base
}

// stage2 runs the matrix over each candidate, drops hard-stops, and orders
// survivors: adjusted score descending, then more active factors, then
// intent id ascending.
func (r *Resolver) stage2(candidates []model.SemanticCandidate, snap model.ContextSnapshot) []scoredCandidate {
	survivors := make([]scoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		in, ok := r.corpus.ByID(cand.IntentID)
		if !ok {
			continue
		}
		adjusted, factors, hardStopped := r.matrix.Score(cand, in, snap)
		if hardStopped {
			r.logger.Debug("candidate hard-stopped",
				"intent_id", cand.IntentID, "factor", factors[0].FactorName)
			continue
		}
		survivors = append(survivors, scoredCandidate{cand: cand, adjusted: adjusted, factors: factors})
	}

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].adjusted != survivors[j].adjusted {
			return survivors[i].adjusted > survivors[j].adjusted
		}
		if len(survivors[i].factors) != len(survivors[j].factors) {
			return len(survivors[i].factors) > len(survivors[j].factors)
		}
		return survivors[i].cand.IntentID < survivors[j].cand.IntentID
	})
	return survivors
}

func (r *Resolver) fillFallback(result *model.VerifiedIntent, reason string) {
	result.IntentID = model.FallbackIntentID
	result.Confidence = 0
	result.FallbackUsed = true
	result.ActiveFactors = []model.ResolutionFactor{{
		FactorName: reason,
		Influence:  model.InfluenceHardStop,
	}}
	result.FactorDeltas = map[string]float64{}
}

func deltasOf(factors []model.ResolutionFactor) map[string]float64 {
	m := make(map[string]float64, len(factors))
	for _, f := range factors {
		m[f.FactorName] = f.Delta
	}
	return m
}
