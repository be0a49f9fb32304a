// Package model defines the core data types for the intent-resolution engine:
// the static intent catalogue, the per-request context snapshot, the resolution
// result, and the persistent feedback records.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a daily activity window declared by an intent, "HH:MM" 24h
// format, end-exclusive. Windows may wrap midnight (Start > End).
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether the wall-clock time of t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Wraps midnight, e.g. 22:00–06:00.
	return minute >= start || minute < end
}

// Validate checks both clock fields parse.
func (w TimeWindow) Validate() error {
	if _, err := parseClock(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := parseClock(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Intent is one entry of the static intent catalogue. Created at corpus load,
// never mutated afterwards; safe to share across goroutines.
type Intent struct {
	ID       string   `json:"id"`
	PureText string   `json:"pure_text"`
	Examples []string `json:"examples"`

	// Context preferences. Nil means the intent does not care.
	RequiredLocation  *string `json:"required_location,omitempty"`
	HelpfulLocation   *string `json:"helpful_location,omitempty"`
	RequiredPurpose   *string `json:"required_purpose,omitempty"`
	RequiredSituation *string `json:"required_situation,omitempty"`

	// Relations to other intents. Stored as ids, not structural references,
	// so association graphs may contain cycles.
	AssociatedIntents []string `json:"associated_intents,omitempty"`

	// Conflict tokens that eliminate this intent when present in the context.
	ForbiddenWhenConflicts []string `json:"forbidden_when_conflicts,omitempty"`

	// Optional matrix preferences.
	LinguisticPreference *string     `json:"linguistic_preference,omitempty"`
	ProsodicPreference   *string     `json:"prosodic_preference,omitempty"`
	RequiredProfile      *string     `json:"required_profile,omitempty"`
	PreferredProfiles    []string    `json:"preferred_profiles,omitempty"`
	ActiveWindow         *TimeWindow `json:"active_window,omitempty"`
}

// HasAssociation reports whether id is the intent itself or one of its
// associated intents.
func (in *Intent) HasAssociation(id string) bool {
	if in.ID == id {
		return true
	}
	for _, a := range in.AssociatedIntents {
		if a == id {
			return true
		}
	}
	return false
}

// ForbiddenBy reports whether any of the given conflict markers appears in
// the intent's forbidden set.
func (in *Intent) ForbiddenBy(markers []string) (string, bool) {
	for _, m := range markers {
		for _, f := range in.ForbiddenWhenConflicts {
			if m == f {
				return m, true
			}
		}
	}
	return "", false
}

// FallbackIntentID is the reserved pseudo-intent returned when no candidate
// clears the confidence floor. It never appears in the corpus.
const FallbackIntentID = "__fallback_uncertain__"
