/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: login.go
Description: Two-level device login. The status password opens the read-only console;
the configuration unlock behind the "Configure" control enables editing. Mobile
viewports reach that control through the collapsed navigation menu. Only the
orchestrator re-establishes sessions, always through this type.
*/

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/sirupsen/logrus"
)

// ErrAuthenticationFailed is returned when the device keeps showing the login surface
var ErrAuthenticationFailed = errors.New("authentication failed")

var (
	hamburgerStrategies = []web.Strategy{
		{Name: "navbar_toggle", Locator: web.CSS(`button.navbar-toggle[data-toggle="collapse"]`), VisibleOnly: true},
	}
	mobileConfigureStrategies = []web.Strategy{
		{Name: "menu_configure", Locator: web.CSS("#navbar-collapse a").WithText("Configure")},
	}
	desktopConfigureStrategies = []web.Strategy{
		{Name: "locked_configure", Locator: web.CSS(`a[title*="locked"]`).WithText("Configure")},
		{Name: "configure_link", Locator: web.CSS("a").WithText("Configure"), VisibleOnly: true},
	}
	unlockStrategies = []web.Strategy{
		{Name: "cfg_password", Locator: web.CSS(`input[name="cfg_password"]`)},
	}
)

// LoginConfig holds the login flow's settle intervals
type LoginConfig struct {
	AuthMarker   string
	LoadSettle   time.Duration
	SubmitSettle time.Duration
	MenuSettle   time.Duration
	UnlockSettle time.Duration
}

// DefaultLoginConfig returns the settle intervals the device firmware needs
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		AuthMarker:   DefaultAuthMarker,
		LoadSettle:   2 * time.Second,
		SubmitSettle: 12 * time.Second,
		MenuSettle:   500 * time.Millisecond,
		UnlockSettle: time.Second,
	}
}

// Scale stretches every interval by a capability multiplier
func (c LoginConfig) Scale(multiplier float64) LoginConfig {
	if multiplier <= 0 {
		return c
	}
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * multiplier) }
	c.LoadSettle = scale(c.LoadSettle)
	c.SubmitSettle = scale(c.SubmitSettle)
	c.MenuSettle = scale(c.MenuSettle)
	c.UnlockSettle = scale(c.UnlockSettle)
	return c
}

// Login establishes both authentication levels on a surface
type Login struct {
	config LoginConfig
	creds  Credentials
	logger *logrus.Logger
	sleep  web.Sleeper
}

// NewLogin creates a login flow
func NewLogin(config LoginConfig, creds Credentials, logger *logrus.Logger) *Login {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Login{config: config, creds: creds, logger: logger, sleep: web.Wait}
}

// WithSleeper replaces the settle wait, for tests
func (l *Login) WithSleeper(sleep web.Sleeper) *Login {
	l.sleep = sleep
	return l
}

// SessionExpired reports whether the surface shows the login surface or the
// session-expiry modal
func (l *Login) SessionExpired(ctx context.Context, s web.Surface) (bool, error) {
	url, err := s.URL(ctx)
	if err != nil {
		return false, err
	}
	if strings.Contains(strings.ToLower(url), l.config.AuthMarker) {
		return true, nil
	}
	return web.IsVisible(ctx, s, web.CSS(snapshot.SessionExpiredSelector))
}

// Authenticate runs the status login then the configuration unlock
func (l *Login) Authenticate(ctx context.Context, s web.Surface, baseURL string, mobile bool) error {
	if err := l.open(ctx, s, baseURL); err != nil {
		return err
	}

	secret, err := web.FirstMatch(ctx, s, visibleOnly(SecretStrategies))
	if err != nil {
		return err
	}
	if secret.Found {
		if l.creds.Username != "" {
			if identity, err := web.FirstMatch(ctx, s, IdentityStrategies); err != nil {
				return err
			} else if identity.Found {
				if err := s.Fill(ctx, identity.Locator, l.creds.Username); err != nil {
					return fmt.Errorf("fill username: %w", err)
				}
			}
		}
		if err := s.Fill(ctx, secret.Locator, l.creds.StatusPassword); err != nil {
			return fmt.Errorf("fill status password: %w", err)
		}
		if err := l.submit(ctx, s); err != nil {
			return fmt.Errorf("status login: %w", err)
		}
		l.logger.WithField("url", baseURL).Info("Status login submitted")
	}

	if err := l.open(ctx, s, baseURL); err != nil {
		return err
	}
	if expired, err := l.SessionExpired(ctx, s); err != nil {
		return err
	} else if expired {
		return fmt.Errorf("status login: %w", ErrAuthenticationFailed)
	}

	if err := l.unlock(ctx, s, mobile); err != nil {
		return err
	}

	if expired, err := l.SessionExpired(ctx, s); err != nil {
		return err
	} else if expired {
		return fmt.Errorf("configuration unlock: %w", ErrAuthenticationFailed)
	}
	l.logger.WithFields(logrus.Fields{"url": baseURL, "mobile": mobile}).Info("Authentication complete")
	return nil
}

func (l *Login) open(ctx context.Context, s web.Surface, url string) error {
	if err := s.Goto(ctx, url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return l.sleep(ctx, l.config.LoadSettle)
}

func (l *Login) submit(ctx context.Context, s web.Surface) error {
	m, err := web.FirstMatch(ctx, s, SubmitStrategies)
	if err != nil {
		return err
	}
	if !m.Found {
		return fmt.Errorf("submit control: %w", web.ErrNotFound)
	}
	if err := s.Click(ctx, m.Locator); err != nil {
		return err
	}
	return l.sleep(ctx, l.config.SubmitSettle)
}

// unlock opens the configuration level. A missing Configure control means
// the console is already unlocked.
func (l *Login) unlock(ctx context.Context, s web.Surface, mobile bool) error {
	strategies := desktopConfigureStrategies
	if mobile {
		menu, err := web.FirstMatch(ctx, s, hamburgerStrategies)
		if err != nil {
			return err
		}
		if menu.Found {
			if err := s.Click(ctx, menu.Locator); err != nil {
				return fmt.Errorf("open navigation menu: %w", err)
			}
			if err := l.sleep(ctx, l.config.MenuSettle); err != nil {
				return err
			}
		}
		strategies = mobileConfigureStrategies
	}

	configure, err := web.FirstMatch(ctx, s, strategies)
	if err != nil {
		return err
	}
	if !configure.Found {
		l.logger.WithField("mobile", mobile).Warn("Configure control not found, assuming unlocked")
		return nil
	}
	if err := s.Click(ctx, configure.Locator); err != nil {
		return fmt.Errorf("click configure: %w", err)
	}
	if err := l.sleep(ctx, l.config.UnlockSettle); err != nil {
		return err
	}

	field, err := web.FirstMatch(ctx, s, unlockStrategies)
	if err != nil {
		return err
	}
	if !field.Found {
		return fmt.Errorf("configuration password field: %w", web.ErrNotFound)
	}
	if err := s.Fill(ctx, field.Locator, l.creds.ConfigPassword); err != nil {
		return fmt.Errorf("fill configuration password: %w", err)
	}
	if err := l.submit(ctx, s); err != nil {
		return fmt.Errorf("configuration unlock: %w", err)
	}
	return nil
}
