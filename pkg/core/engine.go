/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: Exploration orchestrator. Drives one device through every viewport profile:
authentication probe, two-level login, then per page navigate, monitor, extract,
synthesize, and execute each test case followed by recovery. Owns session
re-authentication, the per-device budget, the failure-rate abort policy and the final
documentation step. One surface is driven strictly sequentially.
*/

package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/kronos-explorer/pkg/analysis"
	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/capability"
	"github.com/kleascm/kronos-explorer/pkg/execution"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/monitoring"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/strategies"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNavigationFailed aborts a run when a page stays unreachable after re-authentication
	ErrNavigationFailed = errors.New("navigation failed after re-authentication")
	// ErrFailureRate aborts a run whose failures exceed the configured rate
	ErrFailureRate = errors.New("failure rate exceeded")

	errSessionExpired  = errors.New("session expired")
	errBudgetExhausted = errors.New("device budget exhausted")
	errRecoveryFailed  = errors.New("recovery failed")
)

// Engine explores devices. It holds no per-device state, so one engine may
// explore several devices concurrently, each with its own surfaces.
type Engine struct {
	config    Config
	registry  *capability.Registry
	allow     *strategies.AllowList
	store     *snapshot.Store
	docs      Documenter
	logger    *logrus.Logger
	reporters []Reporter

	now   func() time.Time
	sleep web.Sleeper
	newID func() string
}

// NewEngine creates an engine. A nil registry or allow-list falls back to the built-ins.
func NewEngine(config Config, registry *capability.Registry, allow *strategies.AllowList, store *snapshot.Store, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if registry == nil {
		registry = capability.DefaultRegistry()
	}
	if allow == nil {
		allow = strategies.DefaultAllowList()
	}
	if config.MaxReauth <= 0 {
		config.MaxReauth = 1
	}
	return &Engine{
		config:   config,
		registry: registry,
		allow:    allow,
		store:    store,
		logger:   logger,
		now:      time.Now,
		sleep:    web.Wait,
		newID:    func() string { return uuid.New().String() },
	}
}

// SetDocumenter sets the writer of the final documentation artifact
func (e *Engine) SetDocumenter(d Documenter) {
	e.docs = d
}

// AddReporter registers a Reporter for live progress events
func (e *Engine) AddReporter(r Reporter) {
	e.reporters = append(e.reporters, r)
}

// WithClock replaces the time source and sleeper of every component, for tests
func (e *Engine) WithClock(now func() time.Time, sleep web.Sleeper) *Engine {
	e.now = now
	e.sleep = sleep
	return e
}

// ExploreDevice runs the full exploration of one device. Device-level faults
// end up in the returned run's Status and Error; the error return is
// reserved for invocation misuse.
func (e *Engine) ExploreDevice(ctx context.Context, dev Device, open SurfaceOpener) (*interfaces.DeviceRun, error) {
	if dev.Address == "" {
		return nil, errors.New("device address is required")
	}
	if open == nil {
		return nil, errors.New("surface opener is required")
	}
	if e.store == nil {
		return nil, errors.New("snapshot store is required")
	}

	run := &interfaces.DeviceRun{
		RunID:      e.newID(),
		Device:     dev.Address,
		Name:       dev.Label(),
		Model:      dev.Model,
		Multiplier: e.registry.Lookup(dev.Model).Multiplier(),
		Status:     interfaces.RunCompleted,
		Viewports:  []interfaces.ViewportRun{},
		StartedAt:  e.now(),
	}
	if catalog := e.store.Catalog(); catalog != nil {
		if err := catalog.BeginRun(ctx, run); err != nil {
			e.logger.WithError(err).Warn("Failed to record run start")
		}
	}

	var deadline time.Time
	runCtx := ctx
	if e.config.Budget > 0 {
		deadline = run.StartedAt.Add(e.config.Budget)
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.Budget)
		defer cancel()
	}

	e.logger.WithFields(logrus.Fields{
		"run_id":     run.RunID,
		"device":     dev.Address,
		"model":      dev.Model,
		"multiplier": run.Multiplier,
		"viewports":  len(e.config.Viewports),
	}).Info("Starting device exploration")

	for _, vp := range e.config.Viewports {
		x := &explorer{engine: e, dev: dev, vp: vp, run: run, deadline: deadline, state: StateIdle}
		if x.expired(runCtx) {
			run.Status = interfaces.RunPartial
			run.Error = fmt.Sprintf("%v before viewport %s", errBudgetExhausted, vp.Name)
			break
		}
		vr := x.explore(runCtx, open)
		run.Viewports = append(run.Viewports, *vr)
		if vr.Status == interfaces.RunAborted {
			run.Status = interfaces.RunAborted
			run.Error = fmt.Sprintf("viewport %s: %s", vp.Name, vr.Error)
			break
		}
		if vr.Status == interfaces.RunPartial {
			run.Status = interfaces.RunPartial
			if run.Error == "" {
				run.Error = fmt.Sprintf("viewport %s: %s", vp.Name, vr.Error)
			}
		}
	}

	e.document(context.WithoutCancel(ctx), run)
	return run, nil
}

// document writes the documentation artifact once, after every viewport finished
func (e *Engine) document(ctx context.Context, run *interfaces.DeviceRun) {
	e.notifyState(run.Name, "", StateIdle, StateDocumenting)
	run.FinishedAt = e.now()

	if e.docs != nil {
		paths, err := e.docs.Document(run)
		if err != nil {
			e.logger.WithError(err).WithField("device", run.Device).Error("Failed to write documentation")
		}
		run.Reports = paths
	}
	if catalog := e.store.Catalog(); catalog != nil {
		if err := catalog.FinishRun(ctx, run); err != nil {
			e.logger.WithError(err).Warn("Failed to record run result")
		}
	}

	final := StateDone
	if run.Status == interfaces.RunAborted {
		final = StateAborted
	}
	e.notifyState(run.Name, "", StateDocumenting, final)
	for _, r := range e.reporters {
		r.OnRunFinished(run)
	}
}

func (e *Engine) notifyState(device, viewport string, from, to State) {
	for _, r := range e.reporters {
		r.OnStateChange(device, viewport, from, to)
	}
}

// explorer carries the state of one viewport run
type explorer struct {
	engine   *Engine
	dev      Device
	vp       Viewport
	run      *interfaces.DeviceRun
	result   *interfaces.ViewportRun
	deadline time.Time
	state    State

	surface web.Surface
	session *snapshot.Session
	caps    *snapshot.Capabilities
	profile capability.Profile
	timings Timings

	login     *auth.Login
	monitor   *monitoring.StateMonitor
	extractor *analysis.Extractor
	executor  *execution.Executor

	lastRefresh time.Time
	attempts    int
	failures    int
}

func (x *explorer) transition(to State) {
	if x.state == to {
		return
	}
	from := x.state
	x.state = to
	x.engine.logger.WithFields(logrus.Fields{
		"device":   x.dev.Address,
		"viewport": x.vp.Name,
		"from":     from,
		"to":       to,
	}).Debug("State transition")
	x.engine.notifyState(x.run.Name, x.vp.Name, from, to)
}

func (x *explorer) expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return !x.deadline.IsZero() && !x.engine.now().Before(x.deadline)
}

// configure binds every component to the profile's scaled timings
func (x *explorer) configure(profile capability.Profile) {
	e := x.engine
	x.profile = profile
	x.timings = e.config.Timings.Scale(profile.Multiplier())
	x.login = auth.NewLogin(x.timings.Login, e.config.Credentials, e.logger).WithSleeper(e.sleep)
	x.monitor = monitoring.NewStateMonitor(x.session, e.logger).WithClock(e.now, e.sleep)
	x.extractor = analysis.NewExtractor(x.timings.Extractor, e.logger).WithSleeper(e.sleep)
	x.executor = execution.NewExecutor(x.timings.Executor, x.session, e.logger).WithSleeper(e.sleep)
}

func (x *explorer) abort(err error) {
	x.result.Status = interfaces.RunAborted
	x.result.Error = err.Error()
	x.transition(StateAborted)
	x.engine.logger.WithError(err).WithFields(logrus.Fields{
		"device":   x.dev.Address,
		"viewport": x.vp.Name,
	}).Error("Viewport run aborted")
}

func (x *explorer) partial(reason string) {
	x.result.Status = interfaces.RunPartial
	if x.result.Error == "" {
		x.result.Error = reason
	}
	x.engine.logger.WithFields(logrus.Fields{
		"device":   x.dev.Address,
		"viewport": x.vp.Name,
		"reason":   reason,
	}).Warn("Viewport run incomplete")
}

func (x *explorer) explore(ctx context.Context, open SurfaceOpener) *interfaces.ViewportRun {
	e := x.engine
	x.result = &interfaces.ViewportRun{
		Viewport:  x.vp.Name,
		Status:    interfaces.RunCompleted,
		Pages:     []interfaces.PageResult{},
		StartedAt: e.now(),
	}
	defer func() {
		x.result.FinishedAt = e.now()
		if x.session != nil {
			x.result.Snapshots = x.session.Count()
			x.writeCapabilities()
		}
	}()

	session, err := e.store.Session(x.run.RunID, x.dev.Address, x.vp.Name)
	if err != nil {
		x.abort(err)
		return x.result
	}
	x.session = session
	x.caps = snapshot.NewCapabilities(x.dev.Address)

	surface, err := open(ctx, x.vp)
	if err != nil {
		x.abort(fmt.Errorf("open surface: %w", err))
		return x.result
	}
	defer surface.Close()
	x.surface = surface
	x.configure(e.registry.Lookup(x.run.Model))

	if err := x.authenticate(ctx, true); err != nil {
		if x.expired(ctx) {
			x.partial(fmt.Sprintf("%v during authentication", errBudgetExhausted))
		} else {
			x.abort(err)
		}
		return x.result
	}

	x.explorePages(ctx)
	return x.result
}

// authenticate establishes both authentication levels. The first call also
// captures the login surface, runs the wrong-credential probe and reads the
// dashboard.
func (x *explorer) authenticate(ctx context.Context, first bool) error {
	e := x.engine
	x.transition(StateAuthenticating)
	base := x.dev.BaseURL()

	if first {
		if err := x.preauth(ctx, base); err != nil {
			return err
		}
	}

	if err := x.login.Authenticate(ctx, x.surface, base, x.vp.Mobile); err != nil {
		return err
	}
	if _, err := x.monitor.Collect(ctx, x.surface, x.timings.authWatch("config_unlock")); err != nil {
		return err
	}
	x.lastRefresh = e.now()

	if first {
		return x.dashboard(ctx, base)
	}
	return nil
}

func (x *explorer) preauth(ctx context.Context, base string) error {
	e := x.engine
	if err := x.surface.Goto(ctx, base); err != nil {
		return fmt.Errorf("open login surface: %w", err)
	}
	if err := e.sleep(ctx, x.timings.NavigationSettle); err != nil {
		return err
	}
	if _, err := x.session.Capture(ctx, x.surface, "preauth_login", "Initial login page", nil); err != nil {
		if web.IsFatal(err) {
			return err
		}
		e.logger.WithError(err).Warn("Failed to capture login surface")
	}
	x.pageCaptures(ctx, "preauth_login")

	if !e.config.ProbeAuth {
		return nil
	}
	prober := auth.NewProber(x.timings.Probe, e.config.Credentials, x.session, e.logger).WithSleeper(e.sleep)
	results, err := prober.Probe(ctx, x.surface, base)
	x.result.AuthProbes = results
	if err != nil {
		if web.IsFatal(err) || ctx.Err() != nil {
			return fmt.Errorf("authentication probe: %w", err)
		}
		x.result.AuthProbeError = err.Error()
	}
	if _, err := x.session.WriteArtifact("auth_errors", "results", results); err != nil {
		e.logger.WithError(err).Warn("Failed to write authentication probe results")
	}
	for i := range results {
		for _, r := range e.reporters {
			r.OnAuthProbe(x.run.Name, x.vp.Name, &results[i])
		}
	}
	return nil
}

// dashboard captures the unlocked dashboard and, when the model was not
// configured, reads it from the device information table
func (x *explorer) dashboard(ctx context.Context, base string) error {
	e := x.engine
	if err := x.surface.Goto(ctx, base); err != nil {
		if web.IsFatal(err) {
			return err
		}
		e.logger.WithError(err).Warn("Failed to open dashboard")
		return nil
	}
	if err := e.sleep(ctx, x.timings.NavigationSettle); err != nil {
		return err
	}
	if _, err := x.session.Capture(ctx, x.surface, "dashboard", "Dashboard after config unlock", nil); err != nil {
		if web.IsFatal(err) {
			return err
		}
		e.logger.WithError(err).Warn("Failed to capture dashboard")
	}

	tables := x.pageCaptures(ctx, "dashboard")
	info := snapshot.ExtractDeviceInfo(tables)
	x.caps.SetDeviceInfo(info)
	if info.Firmware != "" {
		x.run.Firmware = info.Firmware
	}
	if x.run.Model == "" && info.Model != "" {
		x.run.Model = info.Model
		x.configure(e.registry.Lookup(info.Model))
		x.run.Multiplier = x.profile.Multiplier()
		e.logger.WithFields(logrus.Fields{
			"device":     x.dev.Address,
			"model":      info.Model,
			"known":      e.registry.Known(info.Model),
			"multiplier": x.run.Multiplier,
		}).Info("Device model detected")
	}
	return nil
}

// pageCaptures stores forms.json and tables.json for the current page and
// feeds the forms to capability discovery
func (x *explorer) pageCaptures(ctx context.Context, state string) []snapshot.TableCapture {
	html, err := x.surface.Content(ctx)
	if err != nil {
		x.engine.logger.WithError(err).WithField("state", state).Warn("Failed to read page for form capture")
		return nil
	}
	forms, tables, err := x.session.WritePageCaptures(state, html)
	if err != nil {
		x.engine.logger.WithError(err).WithField("state", state).Warn("Failed to write form capture")
	}
	x.caps.Observe(forms)
	return tables
}

// writeCapabilities stores what this viewport run discovered about the device
func (x *explorer) writeCapabilities() {
	if x.caps.Model == "" {
		x.caps.Model = x.run.Model
	}
	if x.caps.Firmware == "" {
		x.caps.Firmware = x.run.Firmware
	}
	x.caps.UpdatedAt = x.engine.now()
	if _, err := x.session.WriteArtifact("device", "capabilities", x.caps); err != nil {
		x.engine.logger.WithError(err).Warn("Failed to write device capabilities")
	}
}

// refreshSession reopens the console root when a viewport run has gone
// longer than the profile's refresh interval
func (x *explorer) refreshSession(ctx context.Context) error {
	e := x.engine
	if e.now().Sub(x.lastRefresh) < x.profile.RefreshInterval() {
		return nil
	}
	e.logger.WithField("device", x.dev.Address).Info("Refreshing session")
	if err := x.surface.Goto(ctx, x.dev.BaseURL()); err != nil {
		return err
	}
	x.lastRefresh = e.now()
	return e.sleep(ctx, x.timings.RefreshSettle)
}

func (x *explorer) explorePages(ctx context.Context) {
	e := x.engine
	for _, page := range e.config.Pages {
		if x.expired(ctx) {
			x.partial(fmt.Sprintf("%v before page %s", errBudgetExhausted, page.Path))
			return
		}
		if page.Feature != "" && !x.profile.Supports(page.Feature) {
			pr := interfaces.PageResult{
				Path:       page.Path,
				Title:      page.Description,
				URL:        x.dev.PageURL(page.Path),
				Status:     interfaces.PageSkipped,
				SkipReason: fmt.Sprintf("model %q does not support %s", x.profile.Model, page.Feature),
			}
			x.result.Pages = append(x.result.Pages, pr)
			continue
		}
		if err := x.refreshSession(ctx); err != nil {
			if web.IsFatal(err) {
				x.abort(err)
				return
			}
			e.logger.WithError(err).Warn("Session refresh failed")
		}

		pr, err := x.explorePage(ctx, page)
		x.result.Pages = append(x.result.Pages, *pr)
		for _, r := range e.reporters {
			r.OnPageExplored(x.run.Name, x.vp.Name, pr)
		}
		if err != nil {
			if x.expired(ctx) || errors.Is(err, errBudgetExhausted) {
				x.partial(fmt.Sprintf("%v during page %s", errBudgetExhausted, page.Path))
			} else {
				x.abort(fmt.Errorf("page %s: %w", page.Path, err))
			}
			return
		}
		if x.attempts >= e.config.MinAttempts && e.config.MaxFailureRate > 0 &&
			float64(x.failures)/float64(x.attempts) > e.config.MaxFailureRate {
			x.abort(fmt.Errorf("%w: %d of %d attempts failed", ErrFailureRate, x.failures, x.attempts))
			return
		}
	}
}

// explorePage runs a page, re-authenticating and resuming at navigation
// when the session expires mid-page
func (x *explorer) explorePage(ctx context.Context, page PageSpec) (*interfaces.PageResult, error) {
	e := x.engine
	pr := &interfaces.PageResult{
		Path:          page.Path,
		Title:         page.Description,
		URL:           x.dev.PageURL(page.Path),
		Status:        interfaces.PageCompleted,
		ProbingDenied: !e.allow.PageAllowed(page.Path),
		StartedAt:     e.now(),
	}
	defer func() { pr.FinishedAt = e.now() }()

	for {
		err := x.pass(ctx, page, pr)
		if !errors.Is(err, errSessionExpired) {
			if err != nil && pr.Status == interfaces.PageCompleted {
				pr.Status = interfaces.PagePartial
			}
			if err != nil && pr.Failure == "" {
				pr.Failure = err.Error()
			}
			return pr, err
		}

		if pr.Reauthenticated >= e.config.MaxReauth {
			pr.Status = interfaces.PageFailed
			pr.Failure = fmt.Sprintf("session expired %d times", pr.Reauthenticated+1)
			x.failures++
			return pr, nil
		}
		pr.Reauthenticated++
		e.logger.WithFields(logrus.Fields{
			"device": x.dev.Address,
			"page":   page.Path,
		}).Warn("Session expired, re-authenticating")
		if err := x.authenticate(ctx, false); err != nil {
			pr.Status = interfaces.PageFailed
			pr.Failure = fmt.Sprintf("re-authentication failed: %v", err)
			return pr, err
		}
	}
}

func (x *explorer) sessionExpired(ctx context.Context) (bool, error) {
	expired, err := x.login.SessionExpired(ctx, x.surface)
	if err != nil && !web.IsFatal(err) {
		x.engine.logger.WithError(err).Debug("Session check failed")
		return false, nil
	}
	return expired, err
}

// navigate opens url, retrying once on a recoverable failure
func (x *explorer) navigate(ctx context.Context, url string) error {
	e := x.engine
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = x.surface.Goto(ctx, url); err == nil {
			err = x.surface.WaitForLoad(ctx)
		}
		if err == nil || web.IsFatal(err) || ctx.Err() != nil {
			break
		}
		if serr := e.sleep(ctx, x.timings.NavigationSettle); serr != nil {
			return serr
		}
	}
	if err != nil {
		return err
	}
	return e.sleep(ctx, x.timings.NavigationSettle)
}

// pass is one navigate-to-recovered sweep over a page. Test cases already
// observed in an earlier pass are not repeated.
func (x *explorer) pass(ctx context.Context, page PageSpec, pr *interfaces.PageResult) error {
	e := x.engine
	state := "config_" + snapshot.SafeName(page.Path)

	x.transition(StateNavigating)
	start := e.now()
	if err := x.navigate(ctx, pr.URL); err != nil {
		if web.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		if expired, serr := x.sessionExpired(ctx); serr != nil {
			return serr
		} else if expired {
			return errSessionExpired
		}
		if pr.Reauthenticated > 0 {
			return fmt.Errorf("%w: %v", ErrNavigationFailed, err)
		}
		pr.Status = interfaces.PageFailed
		pr.Failure = fmt.Sprintf("navigation failed: %v", err)
		x.attempts++
		x.failures++
		return nil
	}
	if expired, err := x.sessionExpired(ctx); err != nil {
		return err
	} else if expired {
		return errSessionExpired
	}

	x.transition(StateMonitoring)
	snaps, err := x.monitor.Collect(ctx, x.surface, x.timings.pageWatch(state))
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		pr.Snapshots = append(pr.Snapshots, snap.Refs)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if expired, err := x.sessionExpired(ctx); err != nil {
		return err
	} else if expired {
		return errSessionExpired
	}
	x.caps.RecordLoadTime(page.Path, e.now().Sub(start))

	if page.ExpandSelector != "" {
		if err := x.expandPanels(ctx, page.ExpandSelector); err != nil {
			return err
		}
	}
	x.pageCaptures(ctx, state)

	x.transition(StateExtracting)
	rules, err := x.extractor.Extract(ctx, x.surface)
	pr.Rules = rules
	if err != nil {
		return err
	}
	if _, err := x.session.WriteArtifact(state, "validation_rules", rules); err != nil {
		e.logger.WithError(err).Warn("Failed to write validation rules")
	}
	if rules.Failed() {
		pr.Status = interfaces.PagePartial
		pr.Failure = "rule extraction incomplete: " + strings.Join(failedSteps(rules), ", ")
	}

	// extraction probing leaves focus and event side effects behind
	if err := x.executor.Recover(ctx, x.surface, pr.URL); err != nil {
		if web.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		e.logger.WithError(err).WithField("page", page.Path).Warn("Baseline reload after extraction failed")
	}
	x.attempts++

	if pr.ProbingDenied {
		pr.SkipReason = "adversarial input disabled for this page"
		x.transition(StateRecovered)
		return nil
	}

	x.transition(StateSynthesizing)
	pr.TestCases = strategies.SynthesizePage(page.Path, rules, e.allow)
	if _, err := x.session.WriteArtifact(state, "test_cases", pr.TestCases); err != nil {
		e.logger.WithError(err).Warn("Failed to write test cases")
	}

	done := make(map[string]bool, len(pr.Observations))
	for _, obs := range pr.Observations {
		done[obs.TestCase.ID()] = true
	}
	defer x.flushObservations(state, pr)

	for _, tc := range pr.TestCases {
		if done[tc.ID()] {
			continue
		}
		if x.expired(ctx) {
			pr.Status = interfaces.PagePartial
			pr.Failure = fmt.Sprintf("%v after %d of %d test cases", errBudgetExhausted, len(pr.Observations), len(pr.TestCases))
			return errBudgetExhausted
		}

		x.transition(StateExecuting)
		obs, err := x.executor.Run(ctx, x.surface, page.Path, pr.URL, tc)
		if err != nil {
			if obs != nil {
				pr.Observations = append(pr.Observations, *obs)
			}
			return err
		}
		if expired, err := x.sessionExpired(ctx); err != nil {
			return err
		} else if expired {
			// observed on a dead session, run it again after re-authentication
			return errSessionExpired
		}

		x.attempts++
		if obs.Outcome == interfaces.OutcomeExecutionFailed || !obs.Recovered {
			x.failures++
			pr.Status = interfaces.PagePartial
		}
		pr.Observations = append(pr.Observations, *obs)
		for _, r := range e.reporters {
			r.OnObservation(x.run.Name, x.vp.Name, obs)
		}
		if !obs.Recovered {
			if err := x.restoreBaseline(ctx, page, pr); err != nil {
				if errors.Is(err, errRecoveryFailed) {
					return nil
				}
				return err
			}
		}
		x.transition(StateRecovered)
	}
	return nil
}

// restoreBaseline reopens the page after the executor failed to recover it.
// When that fails too the rest of the page's test cases are dropped.
func (x *explorer) restoreBaseline(ctx context.Context, page PageSpec, pr *interfaces.PageResult) error {
	e := x.engine
	err := x.navigate(ctx, pr.URL)
	if err == nil {
		if expired, serr := x.sessionExpired(ctx); serr != nil {
			return serr
		} else if expired {
			return errSessionExpired
		}
		e.logger.WithFields(logrus.Fields{
			"device": x.dev.Address,
			"page":   page.Path,
		}).Info("Baseline restored after failed recovery")
		return nil
	}
	if web.IsFatal(err) || ctx.Err() != nil {
		return err
	}

	remaining := len(pr.TestCases) - len(pr.Observations)
	pr.Status = interfaces.PagePartial
	pr.Failure = fmt.Sprintf("recovery failed, remaining %d test cases not run: %v", remaining, err)
	x.failures++
	e.logger.WithError(err).WithFields(logrus.Fields{
		"device":    x.dev.Address,
		"page":      page.Path,
		"remaining": remaining,
	}).Warn("Page abandoned after failed recovery")
	return errRecoveryFailed
}

func (x *explorer) flushObservations(state string, pr *interfaces.PageResult) {
	if _, err := x.session.WriteArtifact(state, "error_observations", pr.Observations); err != nil {
		x.engine.logger.WithError(err).Warn("Failed to write error observations")
	}
}

// expandPanels opens collapsed panels one at a time, stopping when a click
// no longer reduces the number of collapsed triggers
func (x *explorer) expandPanels(ctx context.Context, selector string) error {
	e := x.engine
	collapsed := web.CSS(selector + `:not([aria-expanded="true"])`)
	remaining, err := web.Count(ctx, x.surface, collapsed)
	if err != nil {
		if web.IsFatal(err) {
			return err
		}
		e.logger.WithError(err).Warn("Panel expansion failed")
		return nil
	}

	expanded := 0
	for remaining > 0 {
		if err := x.surface.Click(ctx, collapsed); err != nil {
			if web.IsFatal(err) {
				return err
			}
			e.logger.WithError(err).Debug("Panel trigger click failed")
			break
		}
		expanded++
		if err := e.sleep(ctx, x.timings.PanelSettle); err != nil {
			return err
		}
		next, err := web.Count(ctx, x.surface, collapsed)
		if err != nil {
			return err
		}
		if next >= remaining {
			break
		}
		remaining = next
	}
	if expanded == 0 {
		return nil
	}
	e.logger.WithFields(logrus.Fields{"device": x.dev.Address, "panels": expanded}).Info("Expanded collapsed panels")
	return e.sleep(ctx, x.timings.PanelsSettle)
}

func failedSteps(rules *interfaces.ValidationRuleSet) []string {
	steps := make([]string, 0, len(rules.Failures))
	for step := range rules.Failures {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	return steps
}
