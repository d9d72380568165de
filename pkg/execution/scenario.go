/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scenario.go
Description: Error scenario executor. Applies one synthesized test case to a field,
triggers the page's event-bound validation, reads the save control and error regions
through ordered matcher strategies, and records the result as an ErrorObservation.
Every execution is paired with a recovery that reloads the canonical page URL.
*/

package execution

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// ExecutorConfig holds the settle intervals of a scenario
type ExecutorConfig struct {
	// Settle is the wait after change/blur before the page is read
	Settle time.Duration
	// CancelSettle is the wait after clicking a cancel control
	CancelSettle time.Duration
	// RecoverySettle is the wait after the recovery reload
	RecoverySettle time.Duration
	// HintLength bounds the error locator hint
	HintLength int
	// Evidence captures a snapshot of every error state when a session is set
	Evidence bool
}

// DefaultExecutorConfig returns the standard settle intervals
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Settle:         500 * time.Millisecond,
		CancelSettle:   500 * time.Millisecond,
		RecoverySettle: time.Second,
		HintLength:     30,
		Evidence:       true,
	}
}

// Scale stretches every interval by a capability multiplier
func (c ExecutorConfig) Scale(multiplier float64) ExecutorConfig {
	if multiplier <= 0 {
		return c
	}
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * multiplier) }
	c.Settle = scale(c.Settle)
	c.CancelSettle = scale(c.CancelSettle)
	c.RecoverySettle = scale(c.RecoverySettle)
	return c
}

// FieldNotFound is the diagnostic recorded when no strategy locates the field
const FieldNotFound = "field not found"

var nonBlank = regexp.MustCompile(`\S`)

// SaveStrategies locate the page's save/submit control
var SaveStrategies = []web.Strategy{
	{Name: "save_text", Locator: web.CSS("button").WithText("Save")},
	{Name: "submit", Locator: web.CSS("button[type='submit']")},
	{Name: "save_id", Locator: web.CSS("#button_save")},
}

// CancelStrategies locate a visible cancel/discard control
var CancelStrategies = []web.Strategy{
	{Name: "cancel_text", Locator: web.CSS("button").WithText("Cancel"), VisibleOnly: true},
	{Name: "cancel_id", Locator: web.CSS("#button_cancel"), VisibleOnly: true},
	{Name: "default_button", Locator: web.CSS("button.btn-default"), VisibleOnly: true},
}

var globalErrorSelectors = []struct{ name, css string }{
	{"error", ".error"},
	{"alert_danger", ".alert-danger"},
	{"text_danger", ".text-danger"},
	{"role_alert", "[role='alert']"},
	{"validation_error", ".validation-error"},
	{"field_error", ".field-error"},
	{"has_error", ".has-error"},
	{"invalid_feedback", ".invalid-feedback"},
}

// ErrorStrategies returns the error-region strategies for a field:
// field-scoped matches first, then page-global regions
func ErrorStrategies(fieldID string) []web.Strategy {
	q := web.QuoteAttr(fieldID)
	scoped := []struct{ name, css string }{
		{"label_for", fmt.Sprintf(".error[for=%s]", q)},
		{"sibling", web.IDSelector(fieldID) + " + .error"},
		{"dash_id", web.IDSelector(fieldID + "-error")},
		{"underscore_id", web.IDSelector(fieldID + "_error")},
		{"data_field", fmt.Sprintf("[data-field=%s].error", q)},
	}
	var out []web.Strategy
	for _, sc := range scoped {
		out = append(out, web.Strategy{Name: "field:" + sc.name, Locator: web.CSS(sc.css), VisibleOnly: true, Pattern: nonBlank})
	}
	for _, g := range globalErrorSelectors {
		out = append(out, web.Strategy{Name: "page:" + g.name, Locator: web.CSS(g.css), VisibleOnly: true, Pattern: nonBlank})
	}
	return out
}

// Executor runs error scenarios against a surface
type Executor struct {
	config  ExecutorConfig
	session *snapshot.Session
	logger  *logrus.Logger
	sleep   web.Sleeper
	now     func() time.Time
}

// NewExecutor creates an executor. session may be nil, in which case no
// evidence snapshots are taken.
func NewExecutor(config ExecutorConfig, session *snapshot.Session, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{config: config, session: session, logger: logger, sleep: web.Wait, now: time.Now}
}

// WithSleeper replaces the settle wait, for tests
func (e *Executor) WithSleeper(sleep web.Sleeper) *Executor {
	e.sleep = sleep
	return e
}

func classify(obs *interfaces.ErrorObservation) interfaces.Outcome {
	switch {
	case obs.ErrorDetected:
		return interfaces.OutcomeErrorShown
	case obs.SaveActionDisabled != nil && *obs.SaveActionDisabled:
		return interfaces.OutcomeSaveBlocked
	case obs.InputRejected:
		return interfaces.OutcomeInputRejected
	default:
		return interfaces.OutcomeValidationMissing
	}
}

// Execute applies tc to its field and observes the page's reaction.
// Expected negatives are recorded on the observation; the error return is
// reserved for a lost surface or a cancelled context.
func (e *Executor) Execute(ctx context.Context, s web.Surface, page string, tc interfaces.TestCase) (*interfaces.ErrorObservation, error) {
	obs := &interfaces.ErrorObservation{
		TestCase:        tc,
		Page:            page,
		Timestamp:       e.now(),
		ConsoleMessages: []interfaces.ConsoleMessage{},
	}
	// open the console window
	s.ConsoleMessages()

	field, err := web.FirstMatch(ctx, s, web.FieldStrategies(tc.FieldID))
	if err != nil {
		return obs, err
	}
	if !field.Found {
		obs.ErrorMessage = FieldNotFound
		obs.Outcome = interfaces.OutcomeFieldNotFound
		e.logger.WithFields(logrus.Fields{"page": page, "field": tc.FieldID}).Warn("Test target field not found")
		return obs, nil
	}
	obs.BaselineValue = field.Element.Value

	if err := e.apply(ctx, s, field, tc.InvalidValue, obs); err != nil {
		if web.IsFatal(err) || ctx.Err() != nil {
			return obs, err
		}
		obs.ErrorMessage = fmt.Sprintf("could not set value: %v", err)
		obs.Outcome = interfaces.OutcomeExecutionFailed
		return obs, nil
	}

	for _, event := range []string{"change", "blur"} {
		if err := s.DispatchEvent(ctx, field.Locator, event); err != nil {
			if web.IsFatal(err) {
				return obs, err
			}
			e.logger.WithError(err).WithField("event", event).Debug("Event dispatch failed")
		}
	}
	if err := e.sleep(ctx, e.config.Settle); err != nil {
		return obs, err
	}

	save, err := web.FirstMatch(ctx, s, SaveStrategies)
	if err != nil {
		return obs, err
	}
	if save.Found {
		disabled := !save.Element.Enabled
		obs.SaveActionDisabled = &disabled
	}

	region, err := web.FirstMatch(ctx, s, ErrorStrategies(tc.FieldID))
	if err != nil {
		return obs, err
	}
	if region.Found {
		text := strings.TrimSpace(region.Element.Text)
		obs.ErrorDetected = true
		obs.ErrorMessage = text
		obs.ErrorStrategy = region.Strategy
		obs.ErrorLocatorHint = web.LocatorHint(text, e.config.HintLength)
		if re, err := regexp.Compile("(?i)" + tc.ExpectedErrorPattern); err == nil {
			obs.MatchedExpected = re.MatchString(text)
		}
	}

	if msgs := s.ConsoleMessages(); len(msgs) > 0 {
		obs.ConsoleMessages = msgs
	}
	obs.Outcome = classify(obs)

	if e.config.Evidence && e.session != nil {
		state := snapshot.SafeName(fmt.Sprintf("error_%s_%s_%s", page, tc.FieldID, tc.Category))
		snap, err := e.session.Capture(ctx, s, state, string(obs.Outcome), nil)
		if err != nil {
			if web.IsFatal(err) {
				return obs, err
			}
			e.logger.WithError(err).WithField("test_case", tc.ID()).Warn("Failed to capture error state")
		} else {
			obs.SnapshotRefs = append(obs.SnapshotRefs, snap.Refs)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"page":      page,
		"test_case": tc.ID(),
		"outcome":   obs.Outcome,
		"message":   obs.ErrorMessage,
	}).Info("Test case executed")
	return obs, nil
}

// apply sets the invalid value, falling back to a direct assignment when
// the input layer refuses it
func (e *Executor) apply(ctx context.Context, s web.Surface, field web.Match, value string, obs *interfaces.ErrorObservation) error {
	var err error
	if field.Element.Tag == "select" {
		err = s.SelectOption(ctx, field.Locator, value)
	} else {
		err = s.Fill(ctx, field.Locator, value)
	}
	if err == nil {
		return nil
	}
	if web.IsFatal(err) {
		return err
	}
	if errors.Is(err, web.ErrInputRejected) {
		obs.InputRejected = true
	}
	e.logger.WithError(err).WithField("field", field.Element.Identifier()).Debug("Fill refused, assigning value directly")
	return s.SetValue(ctx, field.Locator, value)
}

// Recover returns the surface to its baseline: a best-effort cancel, then an
// unconditional reload of the canonical URL
func (e *Executor) Recover(ctx context.Context, s web.Surface, canonicalURL string) error {
	cancel, err := web.FirstMatch(ctx, s, CancelStrategies)
	if err != nil {
		return err
	}
	if cancel.Found {
		if err := s.Click(ctx, cancel.Locator); err != nil {
			if web.IsFatal(err) {
				return err
			}
			e.logger.WithError(err).Debug("Cancel click failed")
		} else if err := e.sleep(ctx, e.config.CancelSettle); err != nil {
			return err
		}
	}

	if err := s.Goto(ctx, canonicalURL); err != nil {
		return fmt.Errorf("recovery navigation to %s: %w", canonicalURL, err)
	}
	if err := s.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("recovery load of %s: %w", canonicalURL, err)
	}
	return e.sleep(ctx, e.config.RecoverySettle)
}

// Run executes tc and always recovers afterwards. The recovery outcome is
// recorded on the observation; a fatal error from either step is returned.
func (e *Executor) Run(ctx context.Context, s web.Surface, page, canonicalURL string, tc interfaces.TestCase) (*interfaces.ErrorObservation, error) {
	obs, execErr := e.Execute(ctx, s, page, tc)
	if execErr != nil && web.IsFatal(execErr) {
		return obs, execErr
	}

	recErr := e.Recover(ctx, s, canonicalURL)
	if recErr != nil {
		obs.RecoveryError = recErr.Error()
		e.logger.WithError(recErr).WithField("test_case", tc.ID()).Warn("Recovery failed")
	} else {
		obs.Recovered = true
	}

	if execErr != nil {
		return obs, execErr
	}
	if recErr != nil && (web.IsFatal(recErr) || ctx.Err() != nil) {
		return obs, recErr
	}
	if e.session != nil {
		e.session.RecordObservation(ctx, obs)
	}
	return obs, nil
}
