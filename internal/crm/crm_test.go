package crm

import (
	"math"
	"testing"
	"time"

	"github.com/sphota-ai/sphota/internal/model"
)

func strp(v string) *string    { return &v }
func fp(v float64) *float64    { return &v }
func cand(base float64) model.SemanticCandidate {
	return model.SemanticCandidate{IntentID: "x", BaseScore: base, Source: model.SourceCorpus}
}

func scoreOf(t *testing.T, base float64, in model.Intent, ctx model.ContextSnapshot) (float64, []model.ResolutionFactor, bool) {
	t.Helper()
	return New().Score(cand(base), &in, ctx)
}

func findFactor(factors []model.ResolutionFactor, name string) (model.ResolutionFactor, bool) {
	for _, f := range factors {
		if f.FactorName == name {
			return f, true
		}
	}
	return model.ResolutionFactor{}, false
}

func TestEmptyContextNoFactors(t *testing.T) {
	in := model.Intent{
		ID:                "x",
		RequiredLocation:  strp("bank"),
		RequiredPurpose:   strp("finance"),
		RequiredProfile:   strp("analyst"),
		LinguisticPreference: strp("command"),
	}
	adjusted, factors, hardStopped := scoreOf(t, 0.8, in, model.ContextSnapshot{})
	if hardStopped {
		t.Fatal("absent context fields must not hard-stop")
	}
	if len(factors) != 0 {
		t.Fatalf("absent context fields must contribute nothing, got %v", factors)
	}
	if adjusted != 0.8 {
		t.Fatalf("score should pass through unchanged, got %v", adjusted)
	}
}

func TestAssociationHistoryBoost(t *testing.T) {
	in := model.Intent{ID: "x", AssociatedIntents: []string{"y"}}
	ctx := model.ContextSnapshot{AssociationHistory: []string{"z", "y"}}
	adjusted, factors, _ := scoreOf(t, 0.5, in, ctx)
	f, ok := findFactor(factors, FactorAssociationHistory)
	if !ok || f.Delta != 0.15 || f.Influence != model.InfluenceBoost {
		t.Fatalf("expected +0.15 association boost, got %v", factors)
	}
	if math.Abs(adjusted-0.65) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.65", adjusted)
	}
}

func TestConflictMarkersHardStop(t *testing.T) {
	in := model.Intent{ID: "x", ForbiddenWhenConflicts: []string{"cancel"}}
	ctx := model.ContextSnapshot{
		ConflictMarkers: []string{"cancel"},
		GoalAlignment:   strp("finance"), // would boost, but the stop is first
	}
	adjusted, factors, hardStopped := scoreOf(t, 0.9, in, ctx)
	if !hardStopped || adjusted != 0 {
		t.Fatalf("expected hard stop with score 0, got (%v,%v)", adjusted, hardStopped)
	}
	if len(factors) == 0 || factors[0].FactorName != FactorConflictMarkers ||
		factors[0].Influence != model.InfluenceHardStop {
		t.Fatalf("hard-stop factor must lead the list, got %v", factors)
	}
}

func TestGoalAndSituationBoosts(t *testing.T) {
	in := model.Intent{ID: "x",
		RequiredPurpose:   strp("finance"),
		RequiredSituation: strp("commute"),
	}
	ctx := model.ContextSnapshot{
		GoalAlignment:    strp("finance"),
		SituationContext: strp("commute"),
	}
	adjusted, factors, _ := scoreOf(t, 0.5, in, ctx)
	if math.Abs(adjusted-0.85) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.5+0.20+0.15", adjusted)
	}
	if f, _ := findFactor(factors, FactorGoalAlignment); f.Delta != 0.20 {
		t.Fatalf("goal delta = %v, want 0.20", f.Delta)
	}
	if f, _ := findFactor(factors, FactorSituationContext); f.Delta != 0.15 {
		t.Fatalf("situation delta = %v, want 0.15", f.Delta)
	}
	// Mismatched tags contribute nothing.
	_, factors, _ = scoreOf(t, 0.5, in, model.ContextSnapshot{GoalAlignment: strp("leisure")})
	if len(factors) != 0 {
		t.Fatalf("mismatched goal must not fire, got %v", factors)
	}
}

func TestLinguisticAndProsodicBoosts(t *testing.T) {
	in := model.Intent{ID: "x",
		LinguisticPreference: strp("command"),
		ProsodicPreference:   strp("urgent"),
	}
	ctx := model.ContextSnapshot{
		LinguisticIndicators: strp("command"),
		ProsodicFeatures:     strp("urgent"),
	}
	adjusted, _, _ := scoreOf(t, 0.5, in, ctx)
	if math.Abs(adjusted-0.66) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.5+0.08+0.08", adjusted)
	}
}

func TestSemanticCapacityScales(t *testing.T) {
	in := model.Intent{ID: "x"}
	adjusted, factors, _ := scoreOf(t, 0.5, in, model.ContextSnapshot{SemanticCapacity: fp(0.5)})
	if math.Abs(adjusted-0.56) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.5+0.12*0.5", adjusted)
	}
	f, _ := findFactor(factors, FactorSemanticCapacity)
	if math.Abs(f.Delta-0.06) > 1e-9 {
		t.Fatalf("delta = %v, want 0.06", f.Delta)
	}
	// Zero capacity contributes nothing.
	_, factors, _ = scoreOf(t, 0.5, in, model.ContextSnapshot{SemanticCapacity: fp(0)})
	if _, ok := findFactor(factors, FactorSemanticCapacity); ok {
		t.Fatal("zero capacity must not record a factor")
	}
}

func TestSocialProprietyPenalty(t *testing.T) {
	in := model.Intent{ID: "x"}
	adjusted, factors, _ := scoreOf(t, 0.8, in, model.ContextSnapshot{SocialPropriety: fp(-0.5)})
	if math.Abs(adjusted-0.4) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.8*0.5", adjusted)
	}
	f, ok := findFactor(factors, FactorSocialPropriety)
	if !ok || f.Influence != model.InfluencePenalty || math.Abs(f.Delta+0.4) > 1e-9 {
		t.Fatalf("expected penalty delta -0.4, got %v", factors)
	}

	// The multiplier floors at 0.1.
	adjusted, _, _ = scoreOf(t, 1.0, in, model.ContextSnapshot{SocialPropriety: fp(-1)})
	if math.Abs(adjusted-0.1) > 1e-9 {
		t.Fatalf("adjusted = %v, want floor 0.1", adjusted)
	}

	// Non-negative propriety contributes nothing.
	_, factors, _ = scoreOf(t, 0.8, in, model.ContextSnapshot{SocialPropriety: fp(0.5)})
	if len(factors) != 0 {
		t.Fatalf("positive propriety must not fire, got %v", factors)
	}
}

func TestLocationContext(t *testing.T) {
	in := model.Intent{ID: "x",
		RequiredLocation: strp("bank"),
		HelpfulLocation:  strp("bank"),
	}

	// Matching required location: no stop, helpful boost applies.
	adjusted, factors, hardStopped := scoreOf(t, 0.5, in, model.ContextSnapshot{LocationContext: strp("bank")})
	if hardStopped {
		t.Fatal("matching location must not stop")
	}
	if math.Abs(adjusted-0.59) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.5+0.09", adjusted)
	}
	if f, _ := findFactor(factors, FactorLocationContext); f.Delta != 0.09 {
		t.Fatalf("location delta = %v, want 0.09", f.Delta)
	}

	// Wrong location with a requirement: hard stop.
	_, _, hardStopped = scoreOf(t, 0.5, in, model.ContextSnapshot{LocationContext: strp("home")})
	if !hardStopped {
		t.Fatal("required location mismatch must stop")
	}

	// Absent location context: requirement dormant.
	_, _, hardStopped = scoreOf(t, 0.5, in, model.ContextSnapshot{})
	if hardStopped {
		t.Fatal("absent location must not stop")
	}
}

func TestTemporalContextWindow(t *testing.T) {
	in := model.Intent{ID: "x", ActiveWindow: &model.TimeWindow{Start: "09:00", End: "17:00"}}
	inside := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC)

	adjusted, _, _ := scoreOf(t, 0.5, in, model.ContextSnapshot{TemporalContext: &inside})
	if math.Abs(adjusted-0.65) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.5+0.15", adjusted)
	}
	_, factors, _ := scoreOf(t, 0.5, in, model.ContextSnapshot{TemporalContext: &outside})
	if len(factors) != 0 {
		t.Fatalf("outside the window nothing fires, got %v", factors)
	}
}

func TestUserProfile(t *testing.T) {
	in := model.Intent{ID: "x",
		RequiredProfile:   strp("analyst"),
		PreferredProfiles: []string{"analyst", "manager"},
	}

	adjusted, _, hardStopped := scoreOf(t, 0.5, in, model.ContextSnapshot{UserProfile: strp("analyst")})
	if hardStopped || math.Abs(adjusted-0.62) > 1e-9 {
		t.Fatalf("matching profile: (%v,%v), want (0.62,false)", adjusted, hardStopped)
	}
	_, _, hardStopped = scoreOf(t, 0.5, in, model.ContextSnapshot{UserProfile: strp("guest")})
	if !hardStopped {
		t.Fatal("required profile mismatch must stop")
	}
	_, _, hardStopped = scoreOf(t, 0.5, in, model.ContextSnapshot{})
	if hardStopped {
		t.Fatal("absent profile must not stop")
	}
}

func TestInputFidelityPenalty(t *testing.T) {
	in := model.Intent{ID: "x"}

	adjusted, factors, _ := scoreOf(t, 0.8, in, model.ContextSnapshot{InputFidelity: fp(0)})
	if math.Abs(adjusted-0.4) > 1e-9 {
		t.Fatalf("adjusted = %v, want 0.8*0.5", adjusted)
	}
	f, ok := findFactor(factors, FactorInputFidelity)
	if !ok || f.Influence != model.InfluencePenalty || f.Delta >= 0 {
		t.Fatalf("expected negative fidelity penalty, got %v", factors)
	}

	// Perfect fidelity contributes nothing.
	_, factors, _ = scoreOf(t, 0.8, in, model.ContextSnapshot{InputFidelity: fp(1)})
	if len(factors) != 0 {
		t.Fatalf("fidelity 1 must not fire, got %v", factors)
	}
}

func TestFactorOrdering(t *testing.T) {
	in := model.Intent{ID: "x",
		RequiredPurpose:      strp("finance"),
		HelpfulLocation:      strp("bank"),
		LinguisticPreference: strp("command"),
	}
	ctx := model.ContextSnapshot{
		GoalAlignment:        strp("finance"), // +0.20
		LocationContext:      strp("bank"),    // +0.09
		LinguisticIndicators: strp("command"), // +0.08
	}
	_, factors, _ := scoreOf(t, 0.5, in, ctx)
	want := []string{FactorGoalAlignment, FactorLocationContext, FactorLinguisticIndicators}
	if len(factors) != len(want) {
		t.Fatalf("expected %d factors, got %v", len(want), factors)
	}
	for i, name := range want {
		if factors[i].FactorName != name {
			t.Fatalf("position %d: got %s, want %s (|delta| descending)", i, factors[i].FactorName, name)
		}
	}
}

func TestFactorOrderingTieBreaksCanonical(t *testing.T) {
	// association_history and situation_context both carry +0.15; the
	// canonical table order puts association first.
	in := model.Intent{ID: "x",
		AssociatedIntents: []string{"prev"},
		RequiredSituation: strp("commute"),
	}
	ctx := model.ContextSnapshot{
		AssociationHistory: []string{"prev"},
		SituationContext:   strp("commute"),
	}
	_, factors, _ := scoreOf(t, 0.5, in, ctx)
	if len(factors) != 2 ||
		factors[0].FactorName != FactorAssociationHistory ||
		factors[1].FactorName != FactorSituationContext {
		t.Fatalf("tie-break violated: %v", factors)
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	in := model.Intent{ID: "x",
		RequiredPurpose:   strp("finance"),
		RequiredSituation: strp("commute"),
		HelpfulLocation:   strp("bank"),
	}
	ctx := model.ContextSnapshot{
		GoalAlignment:    strp("finance"),
		SituationContext: strp("commute"),
		LocationContext:  strp("bank"),
		SemanticCapacity: fp(1),
	}
	adjusted, _, _ := scoreOf(t, 0.95, in, ctx)
	if adjusted != 1 {
		t.Fatalf("adjusted = %v, want clamp to 1", adjusted)
	}
}

func TestScoreIsPure(t *testing.T) {
	in := model.Intent{ID: "x", RequiredPurpose: strp("finance")}
	ctx := model.ContextSnapshot{GoalAlignment: strp("finance"), InputFidelity: fp(0.9)}
	m := New()

	a1, f1, h1 := m.Score(cand(0.7), &in, ctx)
	a2, f2, h2 := m.Score(cand(0.7), &in, ctx)
	if a1 != a2 || h1 != h2 || len(f1) != len(f2) {
		t.Fatal("Score must be a pure function")
	}
	for i := range f1 {
		if f1[i] != f2[i] {
			t.Fatal("factor lists differ between identical calls")
		}
	}
}

func TestDeltasWithinRange(t *testing.T) {
	in := model.Intent{ID: "x"}
	ctx := model.ContextSnapshot{SocialPropriety: fp(-1), InputFidelity: fp(0)}
	_, factors, _ := scoreOf(t, 1.0, in, ctx)
	for _, f := range factors {
		if f.Delta < -1 || f.Delta > 1 {
			t.Fatalf("delta %v outside [-1,1]", f.Delta)
		}
	}
}
