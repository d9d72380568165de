/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: extractor.go
Description: Validation rule extractor. Combines declarative attribute extraction,
scripted-validator discovery, error-template mining, event-triggered probing, dynamic
rule diffing and multi-step detection into one ValidationRuleSet per page. Each
sub-procedure is fault-isolated; failures are recorded on the rule set and only a lost
surface aborts extraction.
*/

package analysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// Sub-procedure names used as Failures keys
const (
	StepDeclarative = "declarative"
	StepScripted    = "scripted_validators"
	StepTemplates   = "error_templates"
	StepEvents      = "event_triggered"
	StepDynamic     = "dynamic_rules"
	StepMultiStep   = "multi_step"
)

// ExtractorConfig bounds the probing done during extraction
type ExtractorConfig struct {
	// EventSettle is the wait after each dispatched event or control change
	EventSettle time.Duration
	// EventFieldCap limits event-triggered probing to the first N fields
	EventFieldCap int
	// ControlCap limits dynamic analysis to the first N controls of each kind
	ControlCap int
	// ExcerptLen bounds scripted-validator source excerpts
	ExcerptLen int
	// MaxValidators bounds scripted-validator discovery
	MaxValidators int
}

// DefaultExtractorConfig returns the standard probing bounds
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		EventSettle:   300 * time.Millisecond,
		EventFieldCap: 10,
		ControlCap:    5,
		ExcerptLen:    500,
		MaxValidators: 100,
	}
}

// Scale stretches the event settle by a capability multiplier
func (c ExtractorConfig) Scale(multiplier float64) ExtractorConfig {
	if multiplier > 0 {
		c.EventSettle = time.Duration(float64(c.EventSettle) * multiplier)
	}
	return c
}

// Extractor derives a ValidationRuleSet from a loaded surface
type Extractor struct {
	config ExtractorConfig
	logger *logrus.Logger
	sleep  web.Sleeper
	now    func() time.Time
}

// NewExtractor creates an extractor
func NewExtractor(config ExtractorConfig, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Extractor{config: config, logger: logger, sleep: web.Wait, now: time.Now}
}

// WithSleeper replaces the settle wait, for tests
func (e *Extractor) WithSleeper(sleep web.Sleeper) *Extractor {
	e.sleep = sleep
	return e
}

// Extract runs every sub-procedure against the surface. The returned error
// is non-nil only for a lost surface or a cancelled context.
func (e *Extractor) Extract(ctx context.Context, s web.Surface) (*interfaces.ValidationRuleSet, error) {
	rs := &interfaces.ValidationRuleSet{
		ExtractedAt:            e.now(),
		Fields:                 map[string]interfaces.FieldAttributes{},
		DeclarativeConstraints: []interfaces.FieldConstraint{},
		ScriptedValidators:     []interfaces.ScriptedValidator{},
		ErrorMessageTemplates:  []string{},
		EventTriggeredRules:    []interfaces.EventRule{},
		DynamicRuleDiffs:       []interfaces.DynamicRuleDiff{},
	}

	steps := []struct {
		name string
		run  func(context.Context, web.Surface, *interfaces.ValidationRuleSet) error
	}{
		{StepDeclarative, e.declarative},
		{StepScripted, e.scriptedValidators},
		{StepTemplates, e.errorTemplates},
		{StepEvents, e.eventTriggered},
		{StepDynamic, e.dynamicRules},
		{StepMultiStep, e.multiStep},
	}
	for _, step := range steps {
		if err := step.run(ctx, s, rs); err != nil {
			if web.IsFatal(err) || ctx.Err() != nil {
				return rs, fmt.Errorf("%s: %w", step.name, err)
			}
			if rs.Failures == nil {
				rs.Failures = make(map[string]string)
			}
			rs.Failures[step.name] = err.Error()
			e.logger.WithError(err).WithField("step", step.name).Warn("Rule extraction step failed")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"constraints": len(rs.DeclarativeConstraints),
		"validators":  len(rs.ScriptedValidators),
		"templates":   len(rs.ErrorMessageTemplates),
		"event_rules": len(rs.EventTriggeredRules),
		"dynamic":     len(rs.DynamicRuleDiffs),
		"failures":    len(rs.Failures),
	}).Info("Validation rules extracted")
	return rs, nil
}

func (e *Extractor) readFieldSet(ctx context.Context, s web.Surface) (*FieldSet, error) {
	html, err := s.Content(ctx)
	if err != nil {
		return nil, err
	}
	return ReadFieldSet(html)
}

func (e *Extractor) declarative(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	fs, err := e.readFieldSet(ctx, s)
	if err != nil {
		return err
	}
	rs.DeclarativeConstraints = fs.Constraints()
	rs.Fields = fs.Constrained(rs.DeclarativeConstraints)
	return nil
}

var validatorNameHints = []string{"validate", "check", "verify"}

func (e *Extractor) scriptedValidators(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	fns, err := s.GlobalFunctions(ctx, web.FunctionQuery{
		NameContains: validatorNameHints,
		ExcerptLen:   e.config.ExcerptLen,
		MaxResults:   e.config.MaxValidators,
	})
	if err != nil {
		return err
	}
	for _, fn := range fns {
		rs.ScriptedValidators = append(rs.ScriptedValidators, interfaces.ScriptedValidator{
			Name:          fn.Name,
			SourceExcerpt: fn.Source,
		})
	}
	sort.Slice(rs.ScriptedValidators, func(i, j int) bool {
		return rs.ScriptedValidators[i].Name < rs.ScriptedValidators[j].Name
	})
	return nil
}

var templatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]*(?i:error|invalid|required|must|cannot|failed|denied)[^"]*)"`),
	regexp.MustCompile(`'([^']*(?i:error|invalid|required|must|cannot|failed|denied)[^']*)'`),
}

// MineTemplates returns the deduplicated, sorted error-like string literals in scripts
func MineTemplates(scripts []string) []string {
	set := make(map[string]bool)
	for _, src := range scripts {
		for _, re := range templatePatterns {
			for _, m := range re.FindAllStringSubmatch(src, -1) {
				if n := len([]rune(m[1])); n > 5 && n < 200 {
					set[m[1]] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for msg := range set {
		out = append(out, msg)
	}
	sort.Strings(out)
	return out
}

func (e *Extractor) errorTemplates(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	html, err := s.Content(ctx)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse page structure: %w", err)
	}
	var scripts []string
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		scripts = append(scripts, sel.Text())
	})
	rs.ErrorMessageTemplates = MineTemplates(scripts)
	return nil
}
