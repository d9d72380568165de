/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine_test.go
Description: Orchestrator tests against a scripted device console: full exploration,
capability gating, protected pages, re-authentication, budget exhaustion, surface loss
and the failure-rate abort.
*/

package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/core"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/kleascm/kronos-explorer/pkg/web/webtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	address    = "10.0.0.5"
	baseURL    = "https://10.0.0.5/"
	authURL    = baseURL + "authenticate"
	ptpURL     = baseURL + "ptp"
	generalURL = baseURL + "general"
	networkURL = baseURL + "network"
)

const loginPage = `<html><head><title>Login</title></head><body>
<form>
  <input type="text" name="username">
  <input type="password" name="sts_password" placeholder="Password">
  <span class="error" hidden></span>
  <button id="login_submit" type="submit">Login</button>
</form>
</body></html>`

const dashboardPage = `<html><head><title>Status</title></head><body>
<nav>
  <button id="menu_toggle" class="navbar-toggle" data-toggle="collapse">Menu</button>
  <a id="desktop_configure" title="Configuration locked" href="#">Configure</a>
  <div id="navbar-collapse" hidden><a id="menu_configure" href="#">Configure</a></div>
</nav>
<table>
  <thead><tr><th>Device Information</th><th></th></tr></thead>
  <tbody>
    <tr><td>Model</td><td>%s</td></tr>
    <tr><td>Firmware Version</td><td>2.4.1</td></tr>
  </tbody>
</table>
<form id="unlock">
  <input type="password" name="cfg_password">
  <button id="unlock_submit" type="submit">Unlock</button>
</form>
</body></html>`

const ptpPage = `<html><head><title>PTP</title></head><body>
<form>
  <a id="port1_toggle" href="#port1_collapse" aria-expanded="false">Port 1</a>
  <div id="port1_collapse" hidden><input type="number" name="ptp_domain" min="0" max="127" value="0"></div>
  <a id="port2_toggle" href="#port2_collapse" aria-expanded="false">Port 2</a>
  <div id="port2_collapse" hidden><input type="number" name="ptp_priority" min="0" max="255" value="128"></div>
  <button id="button_save" type="submit">Save</button>
  <button id="button_cancel" type="button">Cancel</button>
</form>
</body></html>`

const generalPage = `<html><head><title>General</title></head><body>
<form>
  <input type="text" id="identifier" name="identifier" required maxlength="20" value="KRONOS-1">
  <span class="error" id="identifier-error" hidden></span>
  <input type="text" name="location" maxlength="32" value="Rack 4">
  <input type="text" name="contact" pattern="[a-z]+@[a-z.]+" value="ops@example.com">
  <button id="button_save" type="submit">Save</button>
  <button id="button_cancel" type="button">Cancel</button>
</form>
</body></html>`

const networkPage = `<html><head><title>Network</title></head><body>
<form>
  <input type="text" name="ip_address" required maxlength="15" value="10.0.0.5">
  <input type="text" name="eth0_gateway" value="10.0.0.1">
  <button id="button_save" type="submit">Save</button>
  <button id="button_cancel" type="button">Cancel</button>
</form>
</body></html>`

var creds = auth.Credentials{Username: "admin", StatusPassword: "novatech", ConfigPassword: "novatech"}

// device scripts one browser session against the console
type device struct {
	s        *webtest.Surface
	loggedIn bool
	// expireOn logs the session out on the first navigation to that URL
	expireOn string
	// loseOn drops the browser on the first navigation to that URL
	loseOn string
	// failAfterCancel makes that many navigations fail once Cancel is
	// clicked with the identifier emptied
	failAfterCancel int
	failing         int
}

func newDevice(model string) *device {
	d := &device{}
	d.s = webtest.New(map[string]string{
		authURL:    loginPage,
		baseURL:    fmt.Sprintf(dashboardPage, model),
		ptpURL:     ptpPage,
		generalURL: generalPage,
		networkURL: networkPage,
	})
	d.s.Redirect = func(url string) string {
		if d.failing > 0 {
			d.failing--
			return baseURL + "unreachable"
		}
		if url == d.expireOn {
			d.expireOn = ""
			d.loggedIn = false
		}
		if url == d.loseOn {
			d.s.Lost = true
		}
		if !d.loggedIn && url != authURL {
			return authURL
		}
		return url
	}
	d.s.On("click", "#login_submit", func(s *webtest.Surface, _ *goquery.Selection) {
		if s.Value(`[name="sts_password"]`) == creds.StatusPassword && s.Value(`[name="username"]`) == creds.Username {
			d.loggedIn = true
			_ = s.Goto(context.Background(), baseURL)
			return
		}
		s.SetText(".error", "Invalid username or password")
		s.Show(".error")
	})
	d.s.On("click", "#menu_toggle", func(s *webtest.Surface, _ *goquery.Selection) {
		s.Show("#navbar-collapse")
	})
	d.s.On("click", `a[href*="_collapse"]`, func(s *webtest.Surface, target *goquery.Selection) {
		target.SetAttr("aria-expanded", "true")
		href, _ := target.Attr("href")
		s.Show(href)
	})
	d.s.On("click", "#button_cancel", func(s *webtest.Surface, _ *goquery.Selection) {
		if d.failAfterCancel > 0 && s.Value(`[name="identifier"]`) == "" {
			d.failing = d.failAfterCancel
			d.failAfterCancel = 0
		}
	})
	d.s.On("blur", `[name="identifier"]`, func(s *webtest.Surface, _ *goquery.Selection) {
		if s.Value(`[name="identifier"]`) == "" {
			s.SetText("#identifier-error", "Identifier is required")
			s.Show("#identifier-error")
		}
	})
	return d
}

// lab hands out one scripted device per opened surface
type lab struct {
	mu      sync.Mutex
	model   string
	setup   func(*device)
	devices []*device
}

func (l *lab) open(ctx context.Context, vp core.Viewport) (web.Surface, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := newDevice(l.model)
	if l.setup != nil {
		l.setup(d)
	}
	l.devices = append(l.devices, d)
	return d.s, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

type documenter struct {
	calls int
	runs  []*interfaces.DeviceRun
}

func (d *documenter) Document(run *interfaces.DeviceRun) ([]string, error) {
	d.calls++
	d.runs = append(d.runs, run)
	return []string{"report.html", "report.md"}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func pages(paths ...string) []core.PageSpec {
	var out []core.PageSpec
	for _, page := range core.DefaultPages() {
		for _, p := range paths {
			if page.Path == p {
				out = append(out, page)
			}
		}
	}
	return out
}

type harness struct {
	engine   *core.Engine
	recorder *core.RecordingReporter
	docs     *documenter
	root     string
}

func newHarness(t *testing.T, cfg core.Config) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		recorder: core.NewRecordingReporter(),
		docs:     &documenter{},
		root:     root,
	}
	c := newClock()
	h.engine = core.NewEngine(cfg, nil, nil, snapshot.NewStore(root, nil, quietLogger()), quietLogger()).WithClock(c.now, c.sleep)
	h.engine.AddReporter(h.recorder)
	h.engine.SetDocumenter(h.docs)
	return h
}

func testConfig(paths ...string) core.Config {
	cfg := core.DefaultConfig()
	cfg.Credentials = creds
	cfg.Pages = pages(paths...)
	return cfg
}

func findPage(t *testing.T, vr interfaces.ViewportRun, path string) interfaces.PageResult {
	t.Helper()
	for _, p := range vr.Pages {
		if p.Path == path {
			return p
		}
	}
	t.Fatalf("page %s not in viewport %s", path, vr.Viewport)
	return interfaces.PageResult{}
}

func TestExploreDeviceFullRun(t *testing.T) {
	h := newHarness(t, testConfig("ptp", "general", "network"))
	l := &lab{model: "KRONOS-3R-HVLV-TCXO-A2F"}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	assert.Equal(t, interfaces.RunCompleted, run.Status, run.Error)
	assert.Equal(t, "KRONOS-3R-HVLV-TCXO-A2F", run.Model)
	assert.Equal(t, "2.4.1", run.Firmware)
	assert.Equal(t, 1.5, run.Multiplier)
	assert.NotEmpty(t, run.RunID)
	require.Len(t, run.Viewports, 2)
	assert.Equal(t, "667x375", run.Viewports[0].Viewport)
	assert.Equal(t, "1024x768", run.Viewports[1].Viewport)

	for _, vr := range run.Viewports {
		assert.Equal(t, interfaces.RunCompleted, vr.Status)
		require.Len(t, vr.AuthProbes, 2)
		for _, probe := range vr.AuthProbes {
			assert.True(t, probe.ErrorVisible)
			assert.Equal(t, "Invalid username or password", probe.ErrorMessage)
		}
		require.Len(t, vr.Pages, 3)
		assert.Positive(t, vr.Snapshots)

		ptp := findPage(t, vr, "ptp")
		assert.NotEqual(t, interfaces.PageSkipped, ptp.Status)
		assert.NotEmpty(t, ptp.Snapshots)
		assert.Empty(t, ptp.TestCases, "ptp fields are outside the allow-list")

		general := findPage(t, vr, "general")
		assert.Equal(t, interfaces.PageCompleted, general.Status, general.Failure)
		assert.False(t, general.ProbingDenied)
		require.NotNil(t, general.Rules)
		require.NotEmpty(t, general.TestCases)
		require.Len(t, general.Observations, len(general.TestCases))
		for _, obs := range general.Observations {
			assert.True(t, obs.Recovered)
			assert.NotEqual(t, interfaces.OutcomeExecutionFailed, obs.Outcome)
		}

		network := findPage(t, vr, "network")
		assert.True(t, network.ProbingDenied)
		assert.NotEmpty(t, network.SkipReason)
		assert.Empty(t, network.TestCases)
		assert.Empty(t, network.Observations)
		assert.NotNil(t, network.Rules)
	}

	require.Len(t, l.devices, 2)
	assert.Contains(t, l.devices[0].s.Events, "click:menu_toggle", "mobile unlock goes through the menu")
	assert.NotContains(t, l.devices[1].s.Events, "click:menu_toggle")
	for _, d := range l.devices {
		assert.Contains(t, d.s.Events, "click:port1_toggle")
		assert.Contains(t, d.s.Events, "click:port2_toggle")
		assert.Contains(t, d.s.Gotos, networkURL)
	}

	dir := filepath.Join(h.root, address, run.RunID, "1024x768")
	for _, name := range []string{
		"device_capabilities.json",
		"auth_errors_results.json",
		"preauth_login_forms.json",
		"dashboard_tables.json",
		"config_general_forms.json",
		"config_general_validation_rules.json",
		"config_general_test_cases.json",
		"config_general_error_observations.json",
		"config_network_validation_rules.json",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	_, err = os.Stat(filepath.Join(dir, "config_network_test_cases.json"))
	assert.True(t, os.IsNotExist(err), "no test cases for a protected page")

	raw, err := os.ReadFile(filepath.Join(dir, "device_capabilities.json"))
	require.NoError(t, err)
	var caps snapshot.Capabilities
	require.NoError(t, json.Unmarshal(raw, &caps))
	assert.Equal(t, address, caps.Device)
	assert.Equal(t, "KRONOS-3R-HVLV-TCXO-A2F", caps.Model)
	assert.Equal(t, "2.4.1", caps.Firmware)
	assert.Equal(t, []string{"eth0"}, caps.Interfaces)
	assert.False(t, caps.PTPSupported)
	for _, path := range []string{"ptp", "general", "network"} {
		assert.Positive(t, caps.PageLoadTimes[path], "settle time for %s", path)
	}

	assert.Equal(t, 1, h.docs.calls)
	assert.Equal(t, []string{"report.html", "report.md"}, run.Reports)
	require.Len(t, h.recorder.Runs, 1)
	assert.Len(t, h.recorder.AuthProbes, 4)
	assert.Len(t, h.recorder.Pages, 6)

	states := h.recorder.States("1024x768")
	require.NotEmpty(t, states)
	assert.Equal(t, core.StateAuthenticating, states[0])
	assert.Contains(t, states, core.StateExecuting)
	assert.Contains(t, states, core.StateRecovered)
	assert.Equal(t, []core.State{core.StateDocumenting, core.StateDone}, h.recorder.States(""))
}

func TestExploreDeviceSkipsUnsupportedFeature(t *testing.T) {
	h := newHarness(t, testConfig("ptp", "general"))
	l := &lab{model: "KRONOS-2R-HVXX-A2F"}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunCompleted, run.Status)
	assert.Equal(t, 1.0, run.Multiplier)

	for _, vr := range run.Viewports {
		ptp := findPage(t, vr, "ptp")
		assert.Equal(t, interfaces.PageSkipped, ptp.Status)
		assert.Contains(t, ptp.SkipReason, "ptp")
	}
	for _, d := range l.devices {
		assert.NotContains(t, d.s.Gotos, ptpURL)
	}
}

func TestExploreDeviceConfiguredModelWins(t *testing.T) {
	h := newHarness(t, testConfig("ptp"))
	l := &lab{model: "KRONOS-3R-HVLV-TCXO-A2F"}

	run, err := h.engine.ExploreDevice(context.Background(),
		core.Device{Address: address, Model: "KRONOS-2P-HV-2"}, l.open)
	require.NoError(t, err)
	assert.Equal(t, "KRONOS-2P-HV-2", run.Model)
	assert.Equal(t, interfaces.PageSkipped, run.Viewports[0].Pages[0].Status)
}

func TestExploreDeviceReauthenticatesOnExpiry(t *testing.T) {
	h := newHarness(t, testConfig("general"))
	l := &lab{
		model: "KRONOS-2R-HVXX-A2F",
		setup: func(d *device) { d.expireOn = generalURL },
	}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunCompleted, run.Status, run.Error)

	for _, vr := range run.Viewports {
		general := findPage(t, vr, "general")
		assert.Equal(t, 1, general.Reauthenticated)
		assert.Equal(t, interfaces.PageCompleted, general.Status, general.Failure)
		require.Len(t, general.Observations, len(general.TestCases))

		seen := map[string]bool{}
		for _, obs := range general.Observations {
			assert.False(t, seen[obs.TestCase.ID()], "test case %s repeated", obs.TestCase.ID())
			seen[obs.TestCase.ID()] = true
		}
	}
}

func TestExploreDeviceRestoresBaselineAfterFailedRecovery(t *testing.T) {
	h := newHarness(t, testConfig("general"))
	l := &lab{
		model: "KRONOS-2R-HVXX-A2F",
		setup: func(d *device) { d.failAfterCancel = 1 },
	}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	for _, vr := range run.Viewports {
		general := findPage(t, vr, "general")
		require.Len(t, general.Observations, len(general.TestCases))

		unrecovered := 0
		for _, obs := range general.Observations {
			if !obs.Recovered {
				unrecovered++
				assert.Equal(t, "identifier", obs.TestCase.FieldID)
				assert.Contains(t, obs.RecoveryError, "recovery navigation")
			}
			if obs.TestCase.FieldID == "identifier" {
				assert.Equal(t, "KRONOS-1", obs.BaselineValue, "%s started from a dirty page", obs.TestCase.ID())
			}
		}
		assert.Equal(t, 1, unrecovered)
		assert.Equal(t, interfaces.PagePartial, general.Status)
	}
}

func TestExploreDeviceStopsPageWhenRecoveryKeepsFailing(t *testing.T) {
	h := newHarness(t, testConfig("general"))
	l := &lab{
		model: "KRONOS-2R-HVXX-A2F",
		setup: func(d *device) { d.failAfterCancel = 3 },
	}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	for _, vr := range run.Viewports {
		general := findPage(t, vr, "general")
		require.NotEmpty(t, general.Observations)
		require.Less(t, len(general.Observations), len(general.TestCases))

		last := general.Observations[len(general.Observations)-1]
		assert.False(t, last.Recovered)
		for _, obs := range general.Observations[:len(general.Observations)-1] {
			assert.True(t, obs.Recovered)
		}

		remaining := len(general.TestCases) - len(general.Observations)
		assert.Equal(t, interfaces.PagePartial, general.Status)
		assert.True(t, strings.HasPrefix(general.Failure,
			fmt.Sprintf("recovery failed, remaining %d test cases not run", remaining)), general.Failure)
	}
}

func TestExploreDeviceBudgetExhausted(t *testing.T) {
	cfg := testConfig("general")
	cfg.Budget = 30 * time.Second
	h := newHarness(t, cfg)
	l := &lab{model: "KRONOS-2R-HVXX-A2F"}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	assert.Equal(t, interfaces.RunPartial, run.Status)
	assert.Contains(t, run.Error, "budget")
	require.Len(t, run.Viewports, 1, "no viewport starts after the budget is spent")
	assert.Equal(t, interfaces.RunPartial, run.Viewports[0].Status)
	assert.Empty(t, run.Viewports[0].Pages)
	assert.Equal(t, 1, h.docs.calls, "partial runs are still documented")
}

func TestExploreDeviceAbortsOnLostSurface(t *testing.T) {
	h := newHarness(t, testConfig("general"))
	l := &lab{
		model: "KRONOS-2R-HVXX-A2F",
		setup: func(d *device) { d.loseOn = generalURL },
	}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	assert.Equal(t, interfaces.RunAborted, run.Status)
	assert.Contains(t, run.Error, "general")
	require.Len(t, run.Viewports, 1)
	assert.Equal(t, interfaces.RunAborted, run.Viewports[0].Status)
	assert.Len(t, l.devices, 1)
	assert.Equal(t, 1, h.docs.calls)
	assert.Equal(t, []core.State{core.StateDocumenting, core.StateAborted}, h.recorder.States(""))
}

func TestExploreDeviceFailureRateAbort(t *testing.T) {
	cfg := testConfig()
	for i := 1; i <= 8; i++ {
		cfg.Pages = append(cfg.Pages, core.PageSpec{Path: fmt.Sprintf("missing%d", i)})
	}
	h := newHarness(t, cfg)
	l := &lab{model: "KRONOS-2R-HVXX-A2F"}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, l.open)
	require.NoError(t, err)

	assert.Equal(t, interfaces.RunAborted, run.Status)
	assert.Contains(t, run.Error, core.ErrFailureRate.Error())
	vr := run.Viewports[0]
	require.Len(t, vr.Pages, cfg.MinAttempts)
	for _, p := range vr.Pages {
		assert.Equal(t, interfaces.PageFailed, p.Status)
		assert.True(t, strings.HasPrefix(p.Failure, "navigation failed"))
	}
}

func TestExploreDeviceOpenFailure(t *testing.T) {
	h := newHarness(t, testConfig("general"))
	open := func(ctx context.Context, vp core.Viewport) (web.Surface, error) {
		return nil, errors.New("browser not installed")
	}

	run, err := h.engine.ExploreDevice(context.Background(), core.Device{Address: address}, open)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RunAborted, run.Status)
	assert.Contains(t, run.Error, "browser not installed")
	assert.Equal(t, 1, h.docs.calls)
}

func TestExploreDeviceInvocationErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig("general"))
	l := &lab{}

	_, err := h.engine.ExploreDevice(ctx, core.Device{}, l.open)
	assert.Error(t, err)

	_, err = h.engine.ExploreDevice(ctx, core.Device{Address: address}, nil)
	assert.Error(t, err)

	noStore := core.NewEngine(testConfig("general"), nil, nil, nil, quietLogger())
	_, err = noStore.ExploreDevice(ctx, core.Device{Address: address}, l.open)
	assert.Error(t, err)

	assert.Zero(t, h.docs.calls)
	assert.Empty(t, l.devices)
}

func TestTimingsScale(t *testing.T) {
	base := core.DefaultTimings()
	scaled := base.Scale(2)
	assert.Equal(t, 2*base.PageWait, scaled.PageWait)
	assert.Equal(t, 2*base.NavigationSettle, scaled.NavigationSettle)
	assert.Equal(t, 2*base.Login.SubmitSettle, scaled.Login.SubmitSettle)
	assert.Equal(t, base, base.Scale(1))
}

func TestDeviceURLs(t *testing.T) {
	dev := core.Device{Address: address}
	assert.Equal(t, baseURL, dev.BaseURL())
	assert.Equal(t, generalURL, dev.PageURL("/general"))
	assert.Equal(t, address, dev.Label())

	dev.Scheme, dev.Name = "http", "lab-rack-4"
	assert.Equal(t, "http://10.0.0.5/", dev.BaseURL())
	assert.Equal(t, "lab-rack-4", dev.Label())
}
