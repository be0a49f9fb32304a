// Package corpus loads and indexes the static intent catalogue.
//
// The corpus is read once from a JSON file at startup, validated, and then
// never mutated: concurrent readers need no synchronisation. Example phrases
// are embedded ahead of time so Stage-1 scoring is a pure in-memory scan.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sphota-ai/sphota/internal/embedding"
	"github.com/sphota-ai/sphota/internal/model"
)

// Corpus is the immutable intent catalogue plus the precomputed example
// embeddings used by Stage 1.
type Corpus struct {
	intents []model.Intent
	byID    map[string]*model.Intent

	// exampleVecs[i] holds one embedding per example of intents[i], in
	// declaration order. Populated by EmbedExamples; nil before that.
	exampleVecs [][][]float32
	modelID     string
}

// Load reads and validates an intent corpus from a JSON file (an array of
// intent objects). Any structural problem is a model.ErrCorpus: duplicate or
// empty id, an intent without examples, or an associated_intents reference to
// an unknown id.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrCorpus, path, err)
	}
	var intents []model.Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrCorpus, path, err)
	}
	return New(intents)
}

// New validates intents and builds the lookup index. Intents are stored in
// id order so iteration is deterministic regardless of file order.
func New(intents []model.Intent) (*Corpus, error) {
	sorted := make([]model.Intent, len(intents))
	copy(sorted, intents)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]*model.Intent, len(sorted))
	for i := range sorted {
		in := &sorted[i]
		if in.ID == "" {
			return nil, fmt.Errorf("%w: intent with empty id", model.ErrCorpus)
		}
		if in.ID == model.FallbackIntentID {
			return nil, fmt.Errorf("%w: intent id %q is reserved", model.ErrCorpus, in.ID)
		}
		if _, dup := byID[in.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate intent id %q", model.ErrCorpus, in.ID)
		}
		if len(in.Examples) == 0 {
			return nil, fmt.Errorf("%w: intent %q has no examples", model.ErrCorpus, in.ID)
		}
		if in.ActiveWindow != nil {
			if err := in.ActiveWindow.Validate(); err != nil {
				return nil, fmt.Errorf("%w: intent %q active_window: %v", model.ErrCorpus, in.ID, err)
			}
		}
		byID[in.ID] = in
	}

	// Associations are resolved by id, not by reference, so cycles are fine —
	// but every referenced id must exist.
	for i := range sorted {
		for _, assoc := range sorted[i].AssociatedIntents {
			if _, ok := byID[assoc]; !ok {
				return nil, fmt.Errorf("%w: intent %q references unknown associated intent %q", model.ErrCorpus, sorted[i].ID, assoc)
			}
		}
	}

	return &Corpus{intents: sorted, byID: byID}, nil
}

// EmbedExamples precomputes one embedding per example phrase using a bounded
// worker pool. Must be called exactly once, before the corpus is shared;
// afterwards the corpus is immutable.
func (c *Corpus) EmbedExamples(ctx context.Context, provider embedding.Provider, normalize func(string) string) error {
	vecs := make([][][]float32, len(c.intents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range c.intents {
		vecs[i] = make([][]float32, len(c.intents[i].Examples))
		for j, example := range c.intents[i].Examples {
			i, j, example := i, j, example
			g.Go(func() error {
				text := example
				if normalize != nil {
					text = normalize(example)
				}
				vec, err := provider.Embed(gctx, text)
				if err != nil {
					return fmt.Errorf("embed example %d of intent %q: %w", j, c.intents[i].ID, err)
				}
				vecs[i][j] = vec
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.exampleVecs = vecs
	c.modelID = provider.ModelID()
	return nil
}

// All returns the intents in id order. Callers must not mutate the slice.
func (c *Corpus) All() []model.Intent { return c.intents }

// Len returns the number of intents.
func (c *Corpus) Len() int { return len(c.intents) }

// ByID returns the intent with the given id, or false.
func (c *Corpus) ByID(id string) (*model.Intent, bool) {
	in, ok := c.byID[id]
	return in, ok
}

// ExampleVectors returns the precomputed embeddings for the i-th intent of
// All(). Panics if EmbedExamples has not run — that is a wiring bug, not a
// runtime condition.
func (c *Corpus) ExampleVectors(i int) [][]float32 {
	if c.exampleVecs == nil {
		panic("corpus: ExampleVectors called before EmbedExamples")
	}
	return c.exampleVecs[i]
}

// ModelID returns the embedding model the example vectors were computed with.
func (c *Corpus) ModelID() string { return c.modelID }
