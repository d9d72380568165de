/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: dashboard.go
Description: Documentation generator for Kronos Explorer runs. Renders one device run as
an HTML report, converts it to Markdown and writes the raw run as JSON. Pages and fields
whose extraction or execution failed are called out explicitly so a reader can tell
"no constraints found" apart from "extraction failed".
*/

package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

const maxValueLen = 48

// Artifacts are the files written for one run
type Artifacts struct {
	Dir      string `json:"dir"`
	HTML     string `json:"html"`
	Markdown string `json:"markdown"`
	JSON     string `json:"json"`
}

// Paths lists the written files
func (a *Artifacts) Paths() []string {
	return []string{a.HTML, a.Markdown, a.JSON}
}

// Generator writes the documentation artifact of a device run
type Generator struct {
	outputDir string
	logger    *logrus.Logger
	templates *template.Template
	markdown  *converter.Converter
	policy    *bluemonday.Policy
	now       func() time.Time
}

// ReportData is the view model of the HTML template
type ReportData struct {
	Title       string
	GeneratedAt time.Time
	Run         *interfaces.DeviceRun
	Summary     Summary
	Viewports   []ViewportView
}

// Summary aggregates counts across viewports
type Summary struct {
	Pages        int
	Completed    int
	Partial      int
	Failed       int
	Skipped      int
	TestCases    int
	Observations int
	Outcomes     []OutcomeCount
}

// OutcomeCount is the number of observations with one outcome
type OutcomeCount struct {
	Outcome interfaces.Outcome
	Count   int
}

// ViewportView is one viewport section of the report
type ViewportView struct {
	Name       string
	Status     interfaces.RunStatus
	Error      string
	ProbeError string
	Snapshots  int
	AuthProbes []ProbeView
	Pages      []PageView
}

// ProbeView is one authentication probe row
type ProbeView struct {
	Credential   interfaces.CredentialKind
	ErrorVisible bool
	Banner       bool
	StillOnAuth  bool
	Message      string
	Failure      string
}

// PageView is one page section of the report
type PageView struct {
	Path            string
	Title           string
	URL             string
	Status          interfaces.PageStatus
	Notes           []string
	ProbingDenied   bool
	Reauthenticated int
	Snapshots       int
	// RulesMissing means extraction never produced a rule set
	RulesMissing       bool
	ExtractionFailures []StepFailure
	Constraints        []ConstraintView
	Validators         []string
	Templates          []string
	EventRules         []string
	DynamicRules       []string
	MultiStep          bool
	TestCases          int
	Observations       []ObservationView
	// UnexecutedFields have synthesized test cases with no observation
	UnexecutedFields []string
}

// StepFailure is a rule extraction step that did not complete
type StepFailure struct {
	Step    string
	Message string
}

// ConstraintView is one extracted field constraint
type ConstraintView struct {
	Field  string
	Kind   interfaces.ConstraintKind
	Detail string
}

// ObservationView is one executed test case
type ObservationView struct {
	Field        string
	Category     interfaces.TestCategory
	Value        string
	Outcome      interfaces.Outcome
	Message      string
	Strategy     string
	Matched      bool
	SaveDisabled string
	Recovered    bool
	Failed       bool
}

// NewGenerator creates a generator writing under outputDir
func NewGenerator(outputDir string, logger *logrus.Logger) *Generator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	funcs := template.FuncMap{
		"statusClass": statusClass,
		"timestamp":   func(t time.Time) string { return t.Format("2006-01-02 15:04:05 MST") },
		"duration":    func(a, b time.Time) string { return b.Sub(a).Round(time.Second).String() },
		"yesno": func(b bool) string {
			if b {
				return "yes"
			}
			return "no"
		},
	}
	return &Generator{
		outputDir: outputDir,
		logger:    logger,
		templates: template.Must(template.New("report").Funcs(funcs).Parse(reportTemplate)),
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// WithClock replaces the generation timestamp source, for tests
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Document writes every artifact and returns their paths
func (g *Generator) Document(run *interfaces.DeviceRun) ([]string, error) {
	artifacts, err := g.Generate(run)
	if err != nil {
		return nil, err
	}
	return artifacts.Paths(), nil
}

// Generate renders the run and writes report.html, report.md and run.json
// into <output>/<device>/<run id>/
func (g *Generator) Generate(run *interfaces.DeviceRun) (*Artifacts, error) {
	if run == nil {
		return nil, fmt.Errorf("no run to document")
	}
	dir := filepath.Join(g.outputDir, snapshot.SafeName(run.Device), snapshot.SafeName(run.RunID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	a := &Artifacts{
		Dir:      dir,
		HTML:     filepath.Join(dir, "report.html"),
		Markdown: filepath.Join(dir, "report.md"),
		JSON:     filepath.Join(dir, "run.json"),
	}

	data := g.prepare(run)
	var page bytes.Buffer
	if err := g.templates.Execute(&page, data); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	if err := os.WriteFile(a.HTML, page.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write html report: %w", err)
	}

	md, err := g.markdown.ConvertString(page.String())
	if err != nil {
		return nil, fmt.Errorf("failed to convert report to markdown: %w", err)
	}
	if err := os.WriteFile(a.Markdown, []byte(strings.TrimSpace(md)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write markdown report: %w", err)
	}

	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	if err := os.WriteFile(a.JSON, raw, 0644); err != nil {
		return nil, fmt.Errorf("failed to write run json: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"run_id": run.RunID,
		"device": run.Device,
		"dir":    dir,
		"pages":  data.Summary.Pages,
	}).Info("Documentation written")
	return a, nil
}

// clean reduces device-captured text to plain text
func (g *Generator) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(g.policy.Sanitize(s)))
}

func (g *Generator) prepare(run *interfaces.DeviceRun) *ReportData {
	data := &ReportData{
		Title:       fmt.Sprintf("%s (%s)", g.clean(run.Name), run.Device),
		GeneratedAt: g.now(),
		Run:         run,
	}
	outcomes := map[interfaces.Outcome]int{}

	for _, vr := range run.Viewports {
		vv := ViewportView{
			Name:       vr.Viewport,
			Status:     vr.Status,
			Error:      vr.Error,
			ProbeError: vr.AuthProbeError,
			Snapshots:  vr.Snapshots,
		}
		for _, p := range vr.AuthProbes {
			vv.AuthProbes = append(vv.AuthProbes, ProbeView{
				Credential:   p.CredentialKind,
				ErrorVisible: p.ErrorVisible,
				Banner:       p.BannerVisible,
				StillOnAuth:  p.StillOnAuthSurface,
				Message:      g.clean(p.ErrorMessage),
				Failure:      p.ProbeError,
			})
		}
		for i := range vr.Pages {
			pv := g.page(&vr.Pages[i])
			vv.Pages = append(vv.Pages, pv)

			data.Summary.Pages++
			switch pv.Status {
			case interfaces.PageCompleted:
				data.Summary.Completed++
			case interfaces.PagePartial:
				data.Summary.Partial++
			case interfaces.PageFailed:
				data.Summary.Failed++
			case interfaces.PageSkipped:
				data.Summary.Skipped++
			}
			data.Summary.TestCases += pv.TestCases
			data.Summary.Observations += len(pv.Observations)
			for _, o := range pv.Observations {
				outcomes[o.Outcome]++
			}
		}
		data.Viewports = append(data.Viewports, vv)
	}

	for outcome, n := range outcomes {
		data.Summary.Outcomes = append(data.Summary.Outcomes, OutcomeCount{Outcome: outcome, Count: n})
	}
	sort.Slice(data.Summary.Outcomes, func(i, j int) bool {
		return data.Summary.Outcomes[i].Outcome < data.Summary.Outcomes[j].Outcome
	})
	return data
}

func (g *Generator) page(p *interfaces.PageResult) PageView {
	pv := PageView{
		Path:            p.Path,
		Title:           p.Title,
		URL:             p.URL,
		Status:          p.Status,
		ProbingDenied:   p.ProbingDenied,
		Reauthenticated: p.Reauthenticated,
		Snapshots:       len(p.Snapshots),
		TestCases:       len(p.TestCases),
	}
	if p.Failure != "" {
		pv.Notes = append(pv.Notes, "Failure: "+p.Failure)
	}
	if p.SkipReason != "" {
		pv.Notes = append(pv.Notes, "Not probed: "+p.SkipReason)
	}

	if p.Status != interfaces.PageSkipped {
		if p.Rules == nil {
			pv.RulesMissing = true
		} else {
			g.rules(p.Rules, &pv)
		}
	}

	executed := map[string]bool{}
	for _, o := range p.Observations {
		executed[o.TestCase.ID()] = true
		ov := ObservationView{
			Field:     o.TestCase.FieldID,
			Category:  o.TestCase.Category,
			Value:     truncate(o.TestCase.InvalidValue),
			Outcome:   o.Outcome,
			Message:   g.clean(o.ErrorMessage),
			Strategy:  o.ErrorStrategy,
			Matched:   o.MatchedExpected,
			Recovered: o.Recovered,
			Failed: o.Outcome == interfaces.OutcomeExecutionFailed ||
				o.Outcome == interfaces.OutcomeFieldNotFound || !o.Recovered,
		}
		switch {
		case o.SaveActionDisabled == nil:
			ov.SaveDisabled = "n/a"
		case *o.SaveActionDisabled:
			ov.SaveDisabled = "disabled"
		default:
			ov.SaveDisabled = "enabled"
		}
		if !o.Recovered && o.RecoveryError != "" {
			ov.Message = strings.TrimSpace(ov.Message + " (recovery failed: " + o.RecoveryError + ")")
		}
		pv.Observations = append(pv.Observations, ov)
	}

	missing := map[string]bool{}
	for _, tc := range p.TestCases {
		if !executed[tc.ID()] && !missing[tc.FieldID] {
			missing[tc.FieldID] = true
			pv.UnexecutedFields = append(pv.UnexecutedFields, tc.FieldID)
		}
	}
	sort.Strings(pv.UnexecutedFields)
	return pv
}

func (g *Generator) rules(rs *interfaces.ValidationRuleSet, pv *PageView) {
	for step, msg := range rs.Failures {
		pv.ExtractionFailures = append(pv.ExtractionFailures, StepFailure{Step: step, Message: msg})
	}
	sort.Slice(pv.ExtractionFailures, func(i, j int) bool {
		return pv.ExtractionFailures[i].Step < pv.ExtractionFailures[j].Step
	})

	for _, c := range rs.DeclarativeConstraints {
		pv.Constraints = append(pv.Constraints, ConstraintView{Field: c.FieldID, Kind: c.Kind, Detail: constraintDetail(c)})
	}
	for _, v := range rs.ScriptedValidators {
		pv.Validators = append(pv.Validators, v.Name)
	}
	for _, t := range rs.ErrorMessageTemplates {
		pv.Templates = append(pv.Templates, g.clean(t))
	}
	for _, r := range rs.EventTriggeredRules {
		msgs := make([]string, 0, len(r.ObservedMessages))
		for _, m := range r.ObservedMessages {
			msgs = append(msgs, g.clean(m))
		}
		pv.EventRules = append(pv.EventRules, fmt.Sprintf("%s on %s: %s", r.FieldID, r.Event, strings.Join(msgs, "; ")))
	}
	for _, d := range rs.DynamicRuleDiffs {
		attrs := make([]string, 0, len(d.ChangedAttributes))
		for name, change := range d.ChangedAttributes {
			attrs = append(attrs, fmt.Sprintf("%s %q -> %q", name, change.From, change.To))
		}
		sort.Strings(attrs)
		pv.DynamicRules = append(pv.DynamicRules, fmt.Sprintf("%s when %s %s: %s",
			d.FieldID, d.TriggeringControl, d.Action, strings.Join(attrs, ", ")))
	}
	pv.MultiStep = rs.MultiStep != nil && rs.MultiStep.Detected
}

func constraintDetail(c interfaces.FieldConstraint) string {
	var parts []string
	if c.BoundValue != "" {
		parts = append(parts, c.BoundValue)
	}
	if c.Min != nil {
		parts = append(parts, fmt.Sprintf("min %g", *c.Min))
	}
	if c.Max != nil {
		parts = append(parts, fmt.Sprintf("max %g", *c.Max))
	}
	if len(c.Options) > 0 {
		parts = append(parts, "options "+strings.Join(c.Options, ", "))
	}
	if c.InputType != "" {
		parts = append(parts, "type "+c.InputType)
	}
	return strings.Join(parts, "; ")
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxValueLen {
		return s
	}
	return fmt.Sprintf("%s... (%d chars)", string(r[:maxValueLen]), len(r))
}

func statusClass(status any) string {
	switch fmt.Sprint(status) {
	case "completed":
		return "ok"
	case "partial", "skipped":
		return "warn"
	default:
		return "bad"
	}
}
