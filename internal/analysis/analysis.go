// Package analysis sequences the extraction pipeline over one document:
// text extraction, report-level technique identification, malware
// identification, and timeline construction.
package analysis

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/styx8114/attackmap/internal/malware"
	"github.com/styx8114/attackmap/internal/pdftext"
	"github.com/styx8114/attackmap/internal/taxonomy"
	"github.com/styx8114/attackmap/internal/timeline"
	"github.com/styx8114/attackmap/internal/ttp"
)

// Result is the aggregate outcome for one analyzed document. The three
// collection fields are always non-nil so the serialized shapes the
// visualization collaborator consumes stay stable. Error is set when no text
// could be extracted or an unexpected failure occurred; Degraded lists the
// stages that ran with reduced accuracy.
type Result struct {
	ReportTTPs []ttp.Technique  `json:"report_ttps"`
	Malware    []malware.Match  `json:"malware"`
	Timeline   []timeline.Event `json:"timeline"`
	Error      string           `json:"error,omitempty"`
	Degraded   []string         `json:"degraded,omitempty"`
}

// Orchestrator wires the pipeline components around one shared taxonomy.
// Construct once, reuse across documents; all components are read-only after
// construction.
type Orchestrator struct {
	tax      *taxonomy.Taxonomy
	ttps     *ttp.Identifier
	malware  *malware.Identifier
	timeline *timeline.Builder
	verbose  bool
}

// New builds an Orchestrator. classifier may be nil, disabling the model
// fallback; threshold and window 0 select the package defaults.
func New(tax *taxonomy.Taxonomy, classifier ttp.Classifier, threshold float64, window int, verbose bool) (*Orchestrator, error) {
	identifier := ttp.NewIdentifier(tax, classifier, threshold, verbose)

	builder, err := timeline.NewBuilder(identifier, window)
	if err != nil {
		return nil, fmt.Errorf("analysis: timeline builder: %w", err)
	}

	return &Orchestrator{
		tax:      tax,
		ttps:     identifier,
		malware:  malware.NewIdentifier(tax),
		timeline: builder,
		verbose:  verbose,
	}, nil
}

// Analyze runs the pipeline over one PDF stream. It never panics out:
// unexpected failures are reported as a generic internal error without
// leaking detail. Each extraction stage runs independently; one stage
// degrading never aborts the others.
func (o *Orchestrator) Analyze(ctx context.Context, stream io.ReadSeeker) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			if o.verbose {
				fmt.Fprintf(os.Stderr, "[analysis] panic recovered: %v\n", r)
			}
			res = emptyResult()
			res.Error = "internal analysis failure"
		}
	}()

	res = emptyResult()

	text := pdftext.Extract(stream)
	if strings.TrimSpace(text) == "" {
		res.Error = "no text extracted from the PDF"
		return res
	}

	if o.tax.Degraded() {
		res.Degraded = append(res.Degraded, "taxonomy: "+o.tax.DegradedReason)
	}

	ident := o.ttps.Identify(ctx, text)
	res.ReportTTPs = append(res.ReportTTPs, ident.Techniques...)
	if ident.Degraded {
		res.Degraded = append(res.Degraded, "ttp: "+ident.Reason)
	}
	if o.verbose {
		fmt.Fprintf(os.Stderr, "[analysis] report-level techniques: %d (method: %s)\n", len(ident.Techniques), ident.Method)
	}

	res.Malware = append(res.Malware, o.malware.Identify(text)...)
	res.Timeline = append(res.Timeline, o.timeline.Build(ctx, text)...)

	if o.verbose {
		fmt.Fprintf(os.Stderr, "[analysis] malware: %d, timeline events: %d\n", len(res.Malware), len(res.Timeline))
	}

	return res
}

func emptyResult() *Result {
	return &Result{
		ReportTTPs: []ttp.Technique{},
		Malware:    []malware.Match{},
		Timeline:   []timeline.Event{},
	}
}
