// Package ttp identifies ATT&CK techniques in report text. Detection is
// two-tier: a deterministic keyword engine matches technique names literally,
// and a remote multi-label classifier covers text that only paraphrases the
// behavior. Keyword matches are precise and cheap, so the classifier is
// consulted only when the keyword pass finds nothing.
package ttp

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"github.com/styx8114/attackmap/internal/taxonomy"
)

// Method tags which detection strategy produced an identification.
type Method string

const (
	// MethodKeyword means the deterministic name match found techniques.
	MethodKeyword Method = "keyword"
	// MethodModel means the classifier fallback was consulted.
	MethodModel Method = "model"
	// MethodNone means neither strategy produced (or could produce) results.
	MethodNone Method = "none"
)

// DefaultThreshold is the sigmoid probability above which a classifier
// label counts as detected.
const DefaultThreshold = 0.3

// Technique is a single identified technique instance.
type Technique struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Identification is the result of one Identify call. Degraded is set when
// the classifier would have been consulted but none is configured, so
// callers can tell "found nothing" from "model matching was disabled".
type Identification struct {
	Techniques []Technique
	Method     Method
	Degraded   bool
	Reason     string
}

// Identifier matches technique names against text with an Aho-Corasick
// automaton built once from the taxonomy, falling back to a classifier.
// Safe for concurrent use after construction.
type Identifier struct {
	tax        *taxonomy.Taxonomy
	trie       *ahocorasick.Trie
	byName     map[string][]string // lowercased technique name to IDs
	classifier Classifier
	threshold  float64
	verbose    bool
}

// NewIdentifier builds the automaton from the taxonomy's technique names.
// classifier may be nil, which disables the model fallback.
func NewIdentifier(tax *taxonomy.Taxonomy, classifier Classifier, threshold float64, verbose bool) *Identifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	byName := make(map[string][]string, len(tax.Techniques))
	for id, name := range tax.Techniques {
		key := strings.ToLower(name)
		if key == "" {
			continue
		}
		byName[key] = append(byName[key], id)
	}

	patterns := make([]string, 0, len(byName))
	for name := range byName {
		patterns = append(patterns, name)
	}
	sort.Strings(patterns)

	trie := ahocorasick.NewTrieBuilder().AddStrings(patterns).Build()

	return &Identifier{
		tax:        tax,
		trie:       trie,
		byName:     byName,
		classifier: classifier,
		threshold:  threshold,
		verbose:    verbose,
	}
}

// Identify runs the keyword pass and, only if it yields nothing, the
// classifier. It never returns an error: model unavailability or failure
// degrades to an empty result with the degraded flag set.
func (id *Identifier) Identify(ctx context.Context, text string) Identification {
	if found := id.matchKeywords(text); len(found) > 0 {
		return Identification{Techniques: found, Method: MethodKeyword}
	}

	if id.classifier == nil {
		return Identification{
			Method:   MethodNone,
			Degraded: true,
			Reason:   "classifier not configured; model matching disabled",
		}
	}

	found, err := id.classify(ctx, text)
	if err != nil {
		if id.verbose {
			fmt.Fprintf(os.Stderr, "[ttp] classifier failed: %v\n", err)
		}
		return Identification{
			Method:   MethodModel,
			Degraded: true,
			Reason:   fmt.Sprintf("classifier unavailable: %v", err),
		}
	}
	return Identification{Techniques: found, Method: MethodModel}
}

// matchKeywords returns every technique whose name appears, case-insensitively,
// as a literal substring of text. Results are ordered by technique ID.
func (id *Identifier) matchKeywords(text string) []Technique {
	matches := id.trie.MatchString(strings.ToLower(text))
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var ids []string
	for _, m := range matches {
		for _, tid := range id.byName[m.MatchString()] {
			if !seen[tid] {
				seen[tid] = true
				ids = append(ids, tid)
			}
		}
	}
	sort.Strings(ids)

	found := make([]Technique, 0, len(ids))
	for _, tid := range ids {
		found = append(found, Technique{ID: tid, Description: id.tax.Techniques[tid]})
	}
	return found
}

// classify scores text with the remote model and keeps every label whose
// sigmoid probability exceeds the threshold.
func (id *Identifier) classify(ctx context.Context, text string) ([]Technique, error) {
	logits, err := id.classifier.Classify(ctx, text)
	if err != nil {
		return nil, err
	}

	var ids []string
	for label, logit := range logits {
		if sigmoid(logit) > id.threshold {
			ids = append(ids, label)
		}
	}
	sort.Strings(ids)

	found := make([]Technique, 0, len(ids))
	for _, tid := range ids {
		desc, ok := id.tax.Techniques[tid]
		if !ok {
			desc = "Unknown"
		}
		found = append(found, Technique{ID: tid, Description: desc})
	}
	return found, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
