package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ContextSnapshot carries the twelve contextual signals evaluated by the
// resolution matrix. All fields are optional; a nil field means the signal is
// not present and contributes nothing. The snapshot is immutable for the
// lifetime of one request.
type ContextSnapshot struct {
	AssociationHistory   []string   `json:"association_history,omitempty"`
	ConflictMarkers      []string   `json:"conflict_markers,omitempty"`
	GoalAlignment        *string    `json:"goal_alignment,omitempty"`
	SituationContext     *string    `json:"situation_context,omitempty"`
	LinguisticIndicators *string    `json:"linguistic_indicators,omitempty"`
	SemanticCapacity     *float64   `json:"semantic_capacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	SocialPropriety      *float64   `json:"social_propriety,omitempty" validate:"omitempty,gte=-1,lte=1"`
	LocationContext      *string    `json:"location_context,omitempty"`
	TemporalContext      *time.Time `json:"temporal_context,omitempty"`
	UserProfile          *string    `json:"user_profile,omitempty"`
	ProsodicFeatures     *string    `json:"prosodic_features,omitempty"`
	InputFidelity        *float64   `json:"input_fidelity,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Validate checks every numeric field against its declared range. Returns
// ErrInvalidContext (wrapped) on the first violation.
func (c ContextSnapshot) Validate() error {
	if c.SemanticCapacity != nil && (*c.SemanticCapacity < 0 || *c.SemanticCapacity > 1) {
		return fmt.Errorf("%w: semantic_capacity %v outside [0,1]", ErrInvalidContext, *c.SemanticCapacity)
	}
	if c.SocialPropriety != nil && (*c.SocialPropriety < -1 || *c.SocialPropriety > 1) {
		return fmt.Errorf("%w: social_propriety %v outside [-1,1]", ErrInvalidContext, *c.SocialPropriety)
	}
	if c.InputFidelity != nil && (*c.InputFidelity < 0 || *c.InputFidelity > 1) {
		return fmt.Errorf("%w: input_fidelity %v outside [0,1]", ErrInvalidContext, *c.InputFidelity)
	}
	return nil
}

// WithFidelity returns a copy with input_fidelity set to f when the snapshot
// does not already carry one. The normaliser-computed fidelity is the default.
func (c ContextSnapshot) WithFidelity(f float64) ContextSnapshot {
	if c.InputFidelity == nil {
		c.InputFidelity = &f
	}
	return c
}

// Fingerprint is the canonical serialisation of the location/purpose/user
// subset of the context, stored on golden records so reinforcements remain
// attributable to the situation they were observed in.
func (c ContextSnapshot) Fingerprint() string {
	var parts []string
	if c.LocationContext != nil {
		parts = append(parts, "location="+*c.LocationContext)
	}
	if c.GoalAlignment != nil {
		parts = append(parts, "purpose="+*c.GoalAlignment)
	}
	if c.UserProfile != nil {
		parts = append(parts, "user="+*c.UserProfile)
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
