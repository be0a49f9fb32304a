// Package normalize pre-processes raw command text before embedding:
// lowercasing, whitespace collapsing, punctuation stripping, and token-level
// slang expansion against a curated map. It also computes the input-fidelity
// score that the resolution matrix uses as the default fidelity signal.
package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Normalizer performs deterministic text normalisation. Safe for concurrent
// use; the slang map is never mutated after construction.
type Normalizer struct {
	slang map[string]string
}

// New creates a Normalizer with the given slang map. The map is copied.
func New(slang map[string]string) *Normalizer {
	m := make(map[string]string, len(slang))
	for k, v := range slang {
		m[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &Normalizer{slang: m}
}

// LoadSlangMap reads a JSON object of {"slang": "canonical"} pairs.
func LoadSlangMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("normalize: read slang map: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("normalize: parse slang map: %w", err)
	}
	return m, nil
}

// Normalize lowercases, collapses whitespace, strips punctuation except
// apostrophes, and expands slang tokens. It returns the normalised text and
// the input-fidelity score in [0,1]: fidelity drops by half a point per
// substituted-token fraction, so fully slang input bottoms out at 0.5.
//
// Pure function: identical input always yields identical output.
func (n *Normalizer) Normalize(raw string) (string, float64) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			return unicode.ToLower(r)
		case r == '\'':
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return ' '
		}
	}, raw)

	tokens := strings.Fields(cleaned)
	if len(tokens) == 0 {
		return "", 1
	}

	substitutions := 0
	for i, tok := range tokens {
		if canon, ok := n.slang[tok]; ok && canon != tok {
			tokens[i] = canon
			substitutions++
		}
	}

	fidelity := 1 - (float64(substitutions)/float64(len(tokens)))*0.5
	if fidelity < 0 {
		fidelity = 0
	}
	if fidelity > 1 {
		fidelity = 1
	}
	return strings.Join(tokens, " "), fidelity
}
