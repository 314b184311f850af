// Package timeline correlates dates found in report text with the techniques
// identified in their surrounding sentences.
package timeline

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/styx8114/attackmap/internal/ttp"
)

// DefaultWindow is the number of sentences kept on each side of a date
// occurrence when building its context.
const DefaultWindow = 2

// Event is one dated observation. It is retained only when its raw date
// parsed and at least one technique was identified in its context.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	TTPs      []string  `json:"TTPs"`
	Context   string    `json:"context"`
}

// datePatterns covers the date forms that threat reports commonly use:
// month-name-day-year, ISO, slash-delimited, and day-month-name-year.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},\s+\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	regexp.MustCompile(`\b\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{4}\b`),
}

// ExtractDates returns the deduplicated date-like substrings of text.
// The result is sorted on the raw matched strings, which is deliberately not
// chronological across differing formats; event order downstream comes from
// context discovery, and chronological sorting is a visualization concern.
func ExtractDates(text string) []string {
	set := make(map[string]struct{})
	for _, pat := range datePatterns {
		for _, m := range pat.FindAllString(text, -1) {
			set[m] = struct{}{}
		}
	}

	dates := make([]string, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Builder extracts dates, gathers their sentence contexts, and identifies
// techniques in each context.
// Safe for concurrent use after construction.
type Builder struct {
	identifier *ttp.Identifier
	tokenizer  *sentences.DefaultSentenceTokenizer
	window     int
}

// NewBuilder creates a Builder. window 0 uses DefaultWindow.
func NewBuilder(identifier *ttp.Identifier, window int) (*Builder, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Builder{
		identifier: identifier,
		tokenizer:  tokenizer,
		window:     window,
	}, nil
}

type dateContext struct {
	date    string
	context string
}

// Build assembles the timeline for the full document text. Empty text or no
// dates yields an empty timeline, never an error. Events keep the order their
// contexts were discovered in.
func (b *Builder) Build(ctx context.Context, text string) []Event {
	dates := ExtractDates(text)
	if len(dates) == 0 {
		return nil
	}

	var events []Event
	for _, dc := range b.gatherContexts(text, dates) {
		ident := b.identifier.Identify(ctx, dc.context)
		if len(ident.Techniques) == 0 {
			continue
		}

		ts, err := dateparse.ParseAny(dc.date)
		if err != nil {
			continue
		}

		ids := make([]string, 0, len(ident.Techniques))
		for _, t := range ident.Techniques {
			ids = append(ids, t.ID)
		}
		events = append(events, Event{
			Timestamp: ts,
			TTPs:      ids,
			Context:   dc.context,
		})
	}
	return events
}

// gatherContexts finds, for every date, each sentence containing it
// literally and joins a window of sentences around that occurrence. A date
// appearing in several sentences yields several pairs; no deduplication.
func (b *Builder) gatherContexts(text string, dates []string) []dateContext {
	sents := b.splitSentences(text)

	var contexts []dateContext
	for _, date := range dates {
		for i, sent := range sents {
			if !strings.Contains(sent, date) {
				continue
			}
			start := i - b.window
			if start < 0 {
				start = 0
			}
			end := i + b.window + 1
			if end > len(sents) {
				end = len(sents)
			}
			contexts = append(contexts, dateContext{
				date:    date,
				context: strings.Join(sents[start:end], " "),
			})
		}
	}
	return contexts
}

func (b *Builder) splitSentences(text string) []string {
	var out []string
	for _, s := range b.tokenizer.Tokenize(text) {
		trimmed := strings.TrimSpace(s.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
