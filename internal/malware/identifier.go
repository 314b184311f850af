// Package malware finds known malware family names in report text and
// enriches each match with the techniques the family is known to use.
package malware

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/styx8114/attackmap/internal/taxonomy"
)

// Match is one identified malware family. Name is title-cased for display;
// matching itself is case-insensitive.
type Match struct {
	Name string   `json:"name"`
	TTPs []string `json:"ttps"`
}

// Identifier searches text for every known malware name with word-boundary
// patterns, so a name never matches as a substring of an unrelated word.
// Safe for concurrent use after construction.
type Identifier struct {
	tax      *taxonomy.Taxonomy
	names    []string // sorted, lowercased
	patterns map[string]*regexp.Regexp
	titler   cases.Caser
}

// NewIdentifier precompiles one pattern per malware name in the taxonomy.
func NewIdentifier(tax *taxonomy.Taxonomy) *Identifier {
	names := make([]string, 0, len(tax.MalwareNames))
	patterns := make(map[string]*regexp.Regexp, len(tax.MalwareNames))
	for name := range tax.MalwareNames {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil {
			continue
		}
		names = append(names, name)
		patterns[name] = re
	}
	sort.Strings(names)

	return &Identifier{
		tax:      tax,
		names:    names,
		patterns: patterns,
		titler:   cases.Title(language.English),
	}
}

// Identify returns every malware family whose name appears in the text,
// ordered by name. Families without known technique associations get an
// empty (non-nil) descriptor list.
func (id *Identifier) Identify(text string) []Match {
	lower := strings.ToLower(text)

	var matches []Match
	for _, name := range id.names {
		if !id.patterns[name].MatchString(lower) {
			continue
		}
		ttps := id.tax.MalwareTTPs[name]
		if ttps == nil {
			ttps = []string{}
		}
		matches = append(matches, Match{
			Name: id.titler.String(name),
			TTPs: ttps,
		})
	}
	return matches
}
