/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: probe.go
Description: Authentication probe. Submits one wrong-identity and one wrong-secret
credential against a fresh login surface and classifies the response using two signals:
a visible error region or banner, and continued presence on the authentication surface.
*/

package auth

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

// Credentials are the device login secrets
type Credentials struct {
	Username       string `mapstructure:"username" yaml:"username"`
	StatusPassword string `mapstructure:"status_password" yaml:"status_password"`
	ConfigPassword string `mapstructure:"config_password" yaml:"config_password"`
}

// DefaultAuthMarker is the URL fragment of the login surface
const DefaultAuthMarker = "authenticate"

// Locator strategies shared by the probe and the login flow
var (
	IdentityStrategies = []web.Strategy{
		{Name: "username", Locator: web.CSS(`[name="username"]`)},
		{Name: "username_id", Locator: web.CSS("#username")},
		{Name: "sts_username", Locator: web.CSS(`[name="sts_username"]`)},
	}
	SecretStrategies = []web.Strategy{
		{Name: "sts_password", Locator: web.CSS(`[name="sts_password"]`)},
		{Name: "sts_password_id", Locator: web.CSS("#sts_password")},
		{Name: "placeholder", Locator: web.CSS(`input[placeholder="Password"]`)},
		{Name: "password_type", Locator: web.CSS(`input[type="password"]`)},
	}
	SubmitStrategies = []web.Strategy{
		{Name: "submit", Locator: web.CSS(`button[type="submit"]`)},
		{Name: "submit_input", Locator: web.CSS(`input[type="submit"]`)},
	}
)

var nonBlank = regexp.MustCompile(`\S`)

var errorRegionStrategies = []web.Strategy{
	{Name: "error", Locator: web.CSS(".error"), VisibleOnly: true, Pattern: nonBlank},
	{Name: "alert_danger", Locator: web.CSS(".alert-danger"), VisibleOnly: true, Pattern: nonBlank},
	{Name: "role_alert", Locator: web.CSS("[role='alert']"), VisibleOnly: true, Pattern: nonBlank},
	{Name: "auth_error", Locator: web.CSS(".auth-error"), VisibleOnly: true, Pattern: nonBlank},
	{Name: "login_error", Locator: web.CSS(".login-error"), VisibleOnly: true, Pattern: nonBlank},
}

// text containers, innermost kinds first so div wrappers match last
var bannerContainers = []string{"span", "p", "label", "strong", "h1, h2, h3, h4", "div"}

var bannerStrategies = func() []web.Strategy {
	patterns := []struct{ name, re string }{
		{"invalid", `(?i)invalid`},
		{"auth_failed", `(?is)authentication.*failed`},
		{"login_failed", `(?is)login.*failed`},
		{"access_denied", `(?is)access.*denied`},
		{"incorrect", `(?i)incorrect`},
	}
	var out []web.Strategy
	for _, p := range patterns {
		re := regexp.MustCompile(p.re)
		for _, css := range bannerContainers {
			out = append(out, web.Strategy{
				Name:        "banner:" + p.name,
				Locator:     web.CSS(css),
				VisibleOnly: true,
				Pattern:     re,
			})
		}
	}
	return out
}()

// ProbeConfig holds the probe's wrong values and settle intervals
type ProbeConfig struct {
	WrongIdentity string
	WrongSecret   string
	AuthMarker    string
	// LoadSettle is the wait after loading the login surface
	LoadSettle time.Duration
	// SubmitSettle is the wait after submitting credentials
	SubmitSettle time.Duration
	HintLength   int
}

// DefaultProbeConfig returns the standard probe settings
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		WrongIdentity: "wronguser",
		WrongSecret:   "wrongpass",
		AuthMarker:    DefaultAuthMarker,
		LoadSettle:    2 * time.Second,
		SubmitSettle:  3 * time.Second,
		HintLength:    30,
	}
}

// Scale stretches the settle intervals by a capability multiplier
func (c ProbeConfig) Scale(multiplier float64) ProbeConfig {
	if multiplier > 0 {
		c.LoadSettle = time.Duration(float64(c.LoadSettle) * multiplier)
		c.SubmitSettle = time.Duration(float64(c.SubmitSettle) * multiplier)
	}
	return c
}

// Prober runs the wrong-credential probes
type Prober struct {
	config  ProbeConfig
	creds   Credentials
	session *snapshot.Session
	logger  *logrus.Logger
	sleep   web.Sleeper
	now     func() time.Time
}

// NewProber creates a prober. session may be nil.
func NewProber(config ProbeConfig, creds Credentials, session *snapshot.Session, logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Prober{config: config, creds: creds, session: session, logger: logger, sleep: web.Wait, now: time.Now}
}

// WithSleeper replaces the settle wait, for tests
func (p *Prober) WithSleeper(sleep web.Sleeper) *Prober {
	p.sleep = sleep
	return p
}

// Probe returns one result per probed credential: wrong identity only when
// an identity field exists, wrong secret always. A failed probe is recorded
// on its result; only a lost surface is returned as an error.
func (p *Prober) Probe(ctx context.Context, s web.Surface, endpoint string) ([]interfaces.AuthProbeResult, error) {
	if err := p.load(ctx, s, endpoint); err != nil {
		if web.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		return []interfaces.AuthProbeResult{{
			CredentialKind: interfaces.CredentialSecret,
			Timestamp:      p.now(),
			ProbeError:     err.Error(),
		}}, nil
	}

	identity, err := web.FirstMatch(ctx, s, IdentityStrategies)
	if err != nil {
		return nil, err
	}

	kinds := []interfaces.CredentialKind{interfaces.CredentialSecret}
	if identity.Found {
		kinds = []interfaces.CredentialKind{interfaces.CredentialIdentity, interfaces.CredentialSecret}
	}

	var results []interfaces.AuthProbeResult
	for i, kind := range kinds {
		if i > 0 {
			if err := p.load(ctx, s, endpoint); err != nil {
				if web.IsFatal(err) || ctx.Err() != nil {
					return results, err
				}
				results = append(results, interfaces.AuthProbeResult{CredentialKind: kind, Timestamp: p.now(), ProbeError: err.Error()})
				continue
			}
		}
		res, err := p.probeOne(ctx, s, kind)
		if err != nil {
			if web.IsFatal(err) || ctx.Err() != nil {
				return results, err
			}
			res.ProbeError = err.Error()
		}
		p.logger.WithFields(logrus.Fields{
			"credential":    kind,
			"error_visible": res.ErrorVisible,
			"still_on_auth": res.StillOnAuthSurface,
			"message":       res.ErrorMessage,
		}).Info("Authentication probe complete")
		results = append(results, *res)
	}

	if p.session != nil {
		p.session.RecordAuthProbes(ctx, results)
	}
	return results, nil
}

func (p *Prober) load(ctx context.Context, s web.Surface, endpoint string) error {
	if err := s.Goto(ctx, endpoint); err != nil {
		return fmt.Errorf("load login surface: %w", err)
	}
	return p.sleep(ctx, p.config.LoadSettle)
}

func fillFirst(ctx context.Context, s web.Surface, strategies []web.Strategy, value string) error {
	m, err := web.FirstMatch(ctx, s, strategies)
	if err != nil {
		return err
	}
	if !m.Found {
		return fmt.Errorf("%s: %w", strategies[0].Locator, web.ErrNotFound)
	}
	if err := s.Fill(ctx, m.Locator, value); err != nil && !errors.Is(err, web.ErrInputRejected) {
		return err
	}
	return nil
}

func (p *Prober) probeOne(ctx context.Context, s web.Surface, kind interfaces.CredentialKind) (*interfaces.AuthProbeResult, error) {
	res := &interfaces.AuthProbeResult{CredentialKind: kind, Timestamp: p.now()}
	s.ConsoleMessages()

	switch kind {
	case interfaces.CredentialIdentity:
		if err := fillFirst(ctx, s, IdentityStrategies, p.config.WrongIdentity); err != nil {
			return res, err
		}
		if err := fillFirst(ctx, s, SecretStrategies, p.creds.StatusPassword); err != nil {
			return res, err
		}
	default:
		if err := fillFirst(ctx, s, SecretStrategies, p.config.WrongSecret); err != nil {
			return res, err
		}
	}

	state := "auth_error_" + string(kind)
	p.evidence(ctx, s, state, "Before submitting wrong "+string(kind), res)

	before, err := s.URL(ctx)
	if err != nil {
		return res, err
	}
	submit, err := web.FirstMatch(ctx, s, SubmitStrategies)
	if err != nil {
		return res, err
	}
	if !submit.Found {
		return res, fmt.Errorf("submit control: %w", web.ErrNotFound)
	}
	if err := s.Click(ctx, submit.Locator); err != nil {
		return res, err
	}
	if err := p.sleep(ctx, p.config.SubmitSettle); err != nil {
		return res, err
	}
	res.ConsoleMessages = s.ConsoleMessages()

	p.evidence(ctx, s, state, "After submitting wrong "+string(kind), res)
	if err := p.classify(ctx, s, before, res); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Prober) evidence(ctx context.Context, s web.Surface, state, description string, res *interfaces.AuthProbeResult) {
	if p.session == nil {
		return
	}
	snap, err := p.session.Capture(ctx, s, state, description, nil)
	if err != nil {
		p.logger.WithError(err).WithField("state", state).Warn("Failed to capture authentication state")
		return
	}
	res.SnapshotRefs = append(res.SnapshotRefs, snap.Refs)
}

// classify applies both signals: an explicit error region or banner, and
// continued presence on the authentication surface
func (p *Prober) classify(ctx context.Context, s web.Surface, urlBefore string, res *interfaces.AuthProbeResult) error {
	region, err := web.FirstMatch(ctx, s, errorRegionStrategies)
	if err != nil {
		return err
	}
	banner, err := web.FirstMatch(ctx, s, bannerStrategies)
	if err != nil {
		return err
	}
	res.BannerVisible = banner.Found

	switch {
	case region.Found:
		res.ErrorMessage = strings.TrimSpace(region.Element.Text)
	case banner.Found:
		res.ErrorMessage = strings.TrimSpace(banner.Element.Text)
	}
	if res.ErrorMessage != "" {
		res.ErrorLocatorHint = web.LocatorHint(res.ErrorMessage, p.config.HintLength)
	}

	if res.URLAfterSubmit, err = s.URL(ctx); err != nil {
		return err
	}
	still := strings.Contains(strings.ToLower(res.URLAfterSubmit), p.config.AuthMarker)
	if !still && res.URLAfterSubmit == urlBefore {
		secret, err := web.FirstMatch(ctx, s, visibleOnly(SecretStrategies))
		if err != nil {
			return err
		}
		still = secret.Found
	}
	res.StillOnAuthSurface = still
	res.ErrorVisible = region.Found || banner.Found || still
	return nil
}

func visibleOnly(strategies []web.Strategy) []web.Strategy {
	out := make([]web.Strategy, len(strategies))
	for i, st := range strategies {
		st.VisibleOnly = true
		out[i] = st
	}
	return out
}
