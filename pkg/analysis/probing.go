/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: probing.go
Description: Interactive rule discovery. Event-triggered analysis dispatches blur, focus,
change and input on the first fields and records newly visible validation text; dynamic
analysis toggles auxiliary controls, diffs the declarative attribute maps and restores
every control to the state it was found in. Multi-step detection only counts wizard
indicators and navigation controls.
*/

package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// EventErrorSelector is where event-bound validation text is rendered
const EventErrorSelector = ".error, .validation-error, .invalid-feedback"

var probeEvents = []string{"blur", "focus", "change", "input"}

var nonTextTypes = map[string]bool{
	"checkbox": true,
	"radio":    true,
	"select":   true,
	"file":     true,
	"hidden":   true,
	"submit":   true,
	"button":   true,
	"reset":    true,
	"image":    true,
}

func elementType(el web.Element) string {
	if el.Tag == "select" || el.Tag == "textarea" {
		return el.Tag
	}
	if el.Type == "" {
		return "text"
	}
	return el.Type
}

// probeValue is the plausible invalid value injected into an empty field
func probeValue(typ string) string {
	switch typ {
	case "email":
		return "invalid-email"
	case "number":
		return "abc"
	default:
		return "test"
	}
}

func (e *Extractor) visibleErrors(ctx context.Context, s web.Surface) (map[string]bool, error) {
	texts, err := web.VisibleTexts(ctx, s, web.CSS(EventErrorSelector))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(texts))
	for _, t := range texts {
		set[t] = true
	}
	return set, nil
}

func (e *Extractor) eventTriggered(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	controls, err := s.Query(ctx, web.CSS(formControls))
	if err != nil {
		return err
	}

	probed := 0
	for i, el := range controls {
		if probed >= e.config.EventFieldCap {
			break
		}
		id := el.Identifier()
		typ := elementType(el)
		if id == "" || skippedInputTypes[typ] {
			continue
		}
		probed++
		loc := web.CSS(formControls).At(i)

		rules, err := e.probeField(ctx, s, loc, id, typ, el)
		if err != nil {
			if web.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			e.logger.WithError(err).WithField("field", id).Debug("Event probing failed for field")
			continue
		}
		rs.EventTriggeredRules = append(rs.EventTriggeredRules, rules...)
	}
	return nil
}

func (e *Extractor) probeField(ctx context.Context, s web.Surface, loc web.Locator, id, typ string, el web.Element) ([]interfaces.EventRule, error) {
	injected := false
	if el.Value == "" && !nonTextTypes[typ] && el.Enabled {
		if err := s.Fill(ctx, loc, probeValue(typ)); err != nil && !errors.Is(err, web.ErrInputRejected) {
			return nil, err
		}
		injected = true
	}

	var rules []interfaces.EventRule
	for _, event := range probeEvents {
		before, err := e.visibleErrors(ctx, s)
		if err != nil {
			return rules, err
		}
		if err := s.DispatchEvent(ctx, loc, event); err != nil {
			return rules, err
		}
		if err := e.sleep(ctx, e.config.EventSettle); err != nil {
			return rules, err
		}
		after, err := e.visibleErrors(ctx, s)
		if err != nil {
			return rules, err
		}
		var fresh []string
		for _, t := range sortedKeys(after) {
			if !before[t] {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) > 0 {
			rules = append(rules, interfaces.EventRule{FieldID: id, Event: event, ObservedMessages: fresh})
		}
	}

	if injected {
		if err := s.SetValue(ctx, loc, el.Value); err != nil && !errors.Is(err, web.ErrInputRejected) {
			return rules, fmt.Errorf("restore %s: %w", id, err)
		}
	}
	return rules, nil
}

// dynamicGroup is one kind of auxiliary control toggled during dynamic analysis
type dynamicGroup struct {
	css    string
	action string
}

var dynamicGroups = []dynamicGroup{
	{css: "input[type='checkbox']", action: "check"},
	{css: "input[type='radio']", action: "check"},
	{css: "select", action: "select_option"},
	{css: "input[type='text'], input[type='email'], input[type='number'], input:not([type])", action: "fill"},
}

const dynamicFillValue = "test_value"

// mutation undoes one control change
type mutation struct {
	action string
	undo   func(ctx context.Context) error
}

func (e *Extractor) dynamicRules(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	initial, err := e.readFieldSet(ctx, s)
	if err != nil {
		return err
	}

	for _, group := range dynamicGroups {
		controls, err := s.Query(ctx, web.CSS(group.css))
		if err != nil {
			return err
		}
		for i, el := range controls {
			if i >= e.config.ControlCap {
				break
			}
			id := el.Identifier()
			if id == "" || !el.Enabled {
				continue
			}
			loc := web.CSS(group.css).At(i)

			m, err := e.mutate(ctx, s, group, loc, el)
			if err != nil {
				if web.IsFatal(err) || ctx.Err() != nil {
					return err
				}
				e.logger.WithError(err).WithField("control", id).Debug("Dynamic probe could not change control")
				continue
			}
			if m == nil {
				continue
			}

			diffErr := e.recordDiff(ctx, s, initial, id, m.action, rs)

			if err := m.undo(ctx); err != nil {
				return fmt.Errorf("restore control %s: %w", id, err)
			}
			if err := e.sleep(ctx, e.config.EventSettle); err != nil {
				return err
			}
			if diffErr != nil {
				return diffErr
			}
			e.verifyRestored(ctx, s, initial, id)
		}
	}
	return nil
}

// mutate changes one control and returns how to undo it, or nil when the
// control offers no alternative state
func (e *Extractor) mutate(ctx context.Context, s web.Surface, group dynamicGroup, loc web.Locator, el web.Element) (*mutation, error) {
	switch {
	case group.action == "check" && el.Type == "checkbox":
		orig := el.Checked
		action := "check"
		if orig {
			action = "uncheck"
		}
		if err := s.SetChecked(ctx, loc, !orig); err != nil {
			return nil, err
		}
		return &mutation{action: action, undo: func(ctx context.Context) error {
			return s.SetChecked(ctx, loc, orig)
		}}, nil

	case group.action == "check" && el.Type == "radio":
		if el.Checked {
			return nil, nil
		}
		groupLoc := web.CSS(fmt.Sprintf(`input[type="radio"][name=%s]`, web.QuoteAttr(el.Name)))
		if el.Name == "" {
			groupLoc = loc
		}
		members, err := s.Query(ctx, groupLoc)
		if err != nil {
			return nil, err
		}
		prev := -1
		for j, mem := range members {
			if mem.Checked {
				prev = j
				break
			}
		}
		if err := s.SetChecked(ctx, loc, true); err != nil {
			return nil, err
		}
		return &mutation{action: "check", undo: func(ctx context.Context) error {
			if prev >= 0 {
				return s.SetChecked(ctx, groupLoc.At(prev), true)
			}
			return s.SetChecked(ctx, loc, false)
		}}, nil

	case group.action == "select_option":
		if len(el.Options) < 2 {
			return nil, nil
		}
		orig := el.Value
		next := ""
		for _, opt := range el.Options {
			if opt != orig {
				next = opt
				break
			}
		}
		if err := s.SelectOption(ctx, loc, next); err != nil {
			return nil, err
		}
		return &mutation{action: "select_option", undo: func(ctx context.Context) error {
			return s.SelectOption(ctx, loc, orig)
		}}, nil

	case group.action == "fill":
		orig := el.Value
		if err := s.Fill(ctx, loc, dynamicFillValue); err != nil {
			if !errors.Is(err, web.ErrInputRejected) {
				return nil, err
			}
		}
		return &mutation{action: "fill", undo: func(ctx context.Context) error {
			if err := s.SetValue(ctx, loc, orig); err != nil {
				return err
			}
			return s.DispatchEvent(ctx, loc, "change")
		}}, nil
	}
	return nil, nil
}

func (e *Extractor) recordDiff(ctx context.Context, s web.Surface, initial *FieldSet, control, action string, rs *interfaces.ValidationRuleSet) error {
	if err := e.sleep(ctx, e.config.EventSettle); err != nil {
		return err
	}
	current, err := e.readFieldSet(ctx, s)
	if err != nil {
		return err
	}
	diffs := DiffFieldSets(initial, current)
	for _, field := range sortedKeys(diffs) {
		rs.DynamicRuleDiffs = append(rs.DynamicRuleDiffs, interfaces.DynamicRuleDiff{
			FieldID:           field,
			TriggeringControl: control,
			Action:            action,
			ChangedAttributes: diffs[field],
		})
	}
	return nil
}

func (e *Extractor) verifyRestored(ctx context.Context, s web.Surface, initial *FieldSet, control string) {
	after, err := e.readFieldSet(ctx, s)
	if err != nil {
		return
	}
	if residue := DiffFieldSets(initial, after); len(residue) > 0 {
		e.logger.WithFields(logrus.Fields{
			"control": control,
			"fields":  strings.Join(sortedKeys(residue), ","),
		}).Warn("Control restore left attribute changes behind")
	}
}

var stepIndicatorSelectors = []string{
	".step", ".wizard-step", ".form-step", ".progress", ".step-indicator",
	"[data-step]", ".tab-pane", ".accordion", ".collapse",
}

var navigationLocators = []web.Locator{
	web.CSS("button").WithText("Next"),
	web.CSS("button").WithText("Previous"),
	web.CSS("button").WithText("Continue"),
	web.CSS("button").WithText("Back"),
	web.CSS(".next"),
	web.CSS(".previous"),
	web.CSS(".continue"),
	web.CSS(".back"),
	web.CSS("[data-toggle='tab']"),
	web.CSS("[data-target*='step']"),
}

func countLocator(ctx context.Context, s web.Surface, loc web.Locator) (*interfaces.SelectorCount, error) {
	els, err := s.Query(ctx, loc)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	sc := &interfaces.SelectorCount{Selector: loc.String(), Count: len(els)}
	for _, el := range els {
		if el.Visible {
			sc.Visible++
		}
	}
	return sc, nil
}

func (e *Extractor) multiStep(ctx context.Context, s web.Surface, rs *interfaces.ValidationRuleSet) error {
	ms := &interfaces.MultiStepAnalysis{}
	for _, sel := range stepIndicatorSelectors {
		sc, err := countLocator(ctx, s, web.CSS(sel))
		if err != nil {
			return err
		}
		if sc != nil {
			ms.StepIndicators = append(ms.StepIndicators, *sc)
		}
	}
	for _, loc := range navigationLocators {
		sc, err := countLocator(ctx, s, loc)
		if err != nil {
			return err
		}
		if sc != nil {
			ms.NavigationControls = append(ms.NavigationControls, *sc)
		}
	}
	ms.Detected = len(ms.StepIndicators) > 0 || len(ms.NavigationControls) > 0
	rs.MultiStep = ms
	return nil
}
