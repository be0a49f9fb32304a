// Package crm implements the Context Resolution Matrix: the Stage-2 scoring
// pass that adjusts a semantic candidate's base score against twelve
// contextual factors.
//
// Score is a pure function. The factor table is closed and ordered; the first
// hard-stop short-circuits the candidate to zero. Absent context fields
// contribute nothing, on both the boost and the hard-stop side.
package crm

import (
	"sort"

	"github.com/sphota-ai/sphota/internal/model"
)

// Canonical factor names, in evaluation order.
const (
	FactorAssociationHistory   = "association_history"
	FactorConflictMarkers      = "conflict_markers"
	FactorGoalAlignment        = "goal_alignment"
	FactorSituationContext     = "situation_context"
	FactorLinguisticIndicators = "linguistic_indicators"
	FactorSemanticCapacity     = "semantic_capacity"
	FactorSocialPropriety      = "social_propriety"
	FactorLocationContext      = "location_context"
	FactorTemporalContext      = "temporal_context"
	FactorUserProfile          = "user_profile"
	FactorProsodicFeatures     = "prosodic_features"
	FactorInputFidelity        = "input_fidelity"
)

// Weights are the additive factor weights. Defaults are part of the scoring
// contract; overriding them changes result ordering, so treat overrides as a
// corpus-level decision, not a per-request one.
type Weights struct {
	AssociationHistory   float64
	GoalAlignment        float64
	SituationContext     float64
	LinguisticIndicators float64
	SemanticCapacity     float64
	HelpfulLocation      float64
	TemporalWindow       float64
	PreferredProfile     float64
	ProsodicMatch        float64
}

// DefaultWeights returns the contract defaults.
func DefaultWeights() Weights {
	return Weights{
		AssociationHistory:   0.15,
		GoalAlignment:        0.20,
		SituationContext:     0.15,
		LinguisticIndicators: 0.08,
		SemanticCapacity:     0.12,
		HelpfulLocation:      0.09,
		TemporalWindow:       0.15,
		PreferredProfile:     0.12,
		ProsodicMatch:        0.08,
	}
}

// Matrix scores candidates. Stateless and safe for concurrent use.
type Matrix struct {
	w Weights
}

// New returns a matrix with the default weights.
func New() *Matrix { return &Matrix{w: DefaultWeights()} }

// NewWithWeights returns a matrix with custom weights.
func NewWithWeights(w Weights) *Matrix { return &Matrix{w: w} }

// step is one factor evaluation. A non-nil delta or hardStop is recorded in
// the output; newScore carries the running score forward.
type step struct {
	delta     float64
	influence model.FactorInfluence
	hardStop  bool
	newScore  float64
}

type factorSpec struct {
	name  string
	apply func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step
}

func noop(score float64) step { return step{newScore: score} }

func boost(score, delta float64) step {
	return step{delta: delta, influence: model.InfluenceBoost, newScore: score + delta}
}

// factors is the closed table, in canonical order.
var factors = []factorSpec{
	{FactorAssociationHistory, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		for _, seen := range ctx.AssociationHistory {
			if in.HasAssociation(seen) {
				return boost(score, m.w.AssociationHistory)
			}
		}
		return noop(score)
	}},
	{FactorConflictMarkers, func(_ *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if _, stopped := in.ForbiddenBy(ctx.ConflictMarkers); stopped {
			return step{influence: model.InfluenceHardStop, hardStop: true}
		}
		return noop(score)
	}},
	{FactorGoalAlignment, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.GoalAlignment != nil && in.RequiredPurpose != nil && *in.RequiredPurpose == *ctx.GoalAlignment {
			return boost(score, m.w.GoalAlignment)
		}
		return noop(score)
	}},
	{FactorSituationContext, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.SituationContext != nil && in.RequiredSituation != nil && *in.RequiredSituation == *ctx.SituationContext {
			return boost(score, m.w.SituationContext)
		}
		return noop(score)
	}},
	{FactorLinguisticIndicators, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.LinguisticIndicators != nil && in.LinguisticPreference != nil && *in.LinguisticPreference == *ctx.LinguisticIndicators {
			return boost(score, m.w.LinguisticIndicators)
		}
		return noop(score)
	}},
	{FactorSemanticCapacity, func(m *Matrix, score float64, _ *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.SemanticCapacity == nil || *ctx.SemanticCapacity == 0 {
			return noop(score)
		}
		return boost(score, m.w.SemanticCapacity*(*ctx.SemanticCapacity))
	}},
	{FactorSocialPropriety, func(_ *Matrix, score float64, _ *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.SocialPropriety == nil || *ctx.SocialPropriety >= 0 {
			return noop(score)
		}
		mult := 1 + *ctx.SocialPropriety
		if mult < 0.1 {
			mult = 0.1
		}
		after := score * mult
		return step{delta: after - score, influence: model.InfluencePenalty, newScore: after}
	}},
	{FactorLocationContext, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.LocationContext == nil {
			return noop(score)
		}
		if in.RequiredLocation != nil && *in.RequiredLocation != *ctx.LocationContext {
			return step{influence: model.InfluenceHardStop, hardStop: true}
		}
		if in.HelpfulLocation != nil && *in.HelpfulLocation == *ctx.LocationContext {
			return boost(score, m.w.HelpfulLocation)
		}
		return noop(score)
	}},
	{FactorTemporalContext, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.TemporalContext != nil && in.ActiveWindow != nil && in.ActiveWindow.Contains(*ctx.TemporalContext) {
			return boost(score, m.w.TemporalWindow)
		}
		return noop(score)
	}},
	{FactorUserProfile, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.UserProfile == nil {
			return noop(score)
		}
		if in.RequiredProfile != nil && *in.RequiredProfile != *ctx.UserProfile {
			return step{influence: model.InfluenceHardStop, hardStop: true}
		}
		for _, p := range in.PreferredProfiles {
			if p == *ctx.UserProfile {
				return boost(score, m.w.PreferredProfile)
			}
		}
		return noop(score)
	}},
	{FactorProsodicFeatures, func(m *Matrix, score float64, in *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.ProsodicFeatures != nil && in.ProsodicPreference != nil && *in.ProsodicPreference == *ctx.ProsodicFeatures {
			return boost(score, m.w.ProsodicMatch)
		}
		return noop(score)
	}},
	{FactorInputFidelity, func(_ *Matrix, score float64, _ *model.Intent, ctx model.ContextSnapshot) step {
		if ctx.InputFidelity == nil || *ctx.InputFidelity >= 1 {
			return noop(score)
		}
		after := score * (0.5 + 0.5*(*ctx.InputFidelity))
		return step{delta: after - score, influence: model.InfluencePenalty, newScore: after}
	}},
}

// Score applies the factor table to one candidate. The returned factor list
// holds every factor with a non-zero delta plus any hard-stop, hard-stop
// first, then |delta| descending, ties in canonical factor order. Deltas are
// clamped to [-1,1] and the adjusted score to [0,1].
func (m *Matrix) Score(cand model.SemanticCandidate, in *model.Intent, ctx model.ContextSnapshot) (float64, []model.ResolutionFactor, bool) {
	type recorded struct {
		model.ResolutionFactor
		order int
	}

	score := cand.BaseScore
	var active []recorded
	hardStopped := false

	for i, spec := range factors {
		st := spec.apply(m, score, in, ctx)
		if st.hardStop {
			active = append(active, recorded{
				ResolutionFactor: model.ResolutionFactor{
					FactorName: spec.name,
					Influence:  model.InfluenceHardStop,
				},
				order: i,
			})
			hardStopped = true
			score = 0
			break
		}
		if st.delta != 0 {
			active = append(active, recorded{
				ResolutionFactor: model.ResolutionFactor{
					FactorName: spec.name,
					Delta:      clamp(st.delta, -1, 1),
					Influence:  st.influence,
				},
				order: i,
			})
		}
		score = st.newScore
	}

	sort.SliceStable(active, func(i, j int) bool {
		hi := active[i].Influence == model.InfluenceHardStop
		hj := active[j].Influence == model.InfluenceHardStop
		if hi != hj {
			return hi
		}
		ai, aj := abs(active[i].Delta), abs(active[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return active[i].order < active[j].order
	})

	out := make([]model.ResolutionFactor, len(active))
	for i, r := range active {
		out[i] = r.ResolutionFactor
	}
	return clamp(score, 0, 1), out, hardStopped
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
