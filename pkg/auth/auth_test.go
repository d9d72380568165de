/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: auth_test.go
Description: Tests for the authentication probe and the two-level login against a
scripted device surface.
*/

package auth_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/web/webtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	baseURL = "https://10.0.0.7/"
	authURL = baseURL + "authenticate"
)

const loginPage = `<html><head><title>Login</title></head><body>
<form>
  <input type="text" name="username">
  <input type="password" name="sts_password" placeholder="Password">
  <span class="error" hidden></span>
  <button id="login_submit" type="submit">Login</button>
</form>
</body></html>`

const statusPage = `<html><head><title>Status</title></head><body>
<nav>
  <button id="menu_toggle" class="navbar-toggle" data-toggle="collapse">Menu</button>
  <a id="desktop_configure" title="Configuration locked" href="#">Configure</a>
  <div id="navbar-collapse" hidden><a id="menu_configure" href="#">Configure</a></div>
</nav>
<form id="unlock">
  <input type="password" name="cfg_password">
  <button id="unlock_submit" type="submit">Unlock</button>
</form>
</body></html>`

var creds = auth.Credentials{Username: "admin", StatusPassword: "novatech", ConfigPassword: "novatech"}

type device struct {
	s         *webtest.Surface
	loggedIn  bool
	unlocked  bool
	showError bool
}

func newDevice(t *testing.T, login string, showError bool) *device {
	t.Helper()
	d := &device{showError: showError}
	d.s = webtest.New(map[string]string{authURL: login, baseURL: statusPage})
	d.s.Redirect = func(url string) string {
		if !d.loggedIn && url != authURL {
			return authURL
		}
		return url
	}
	d.s.On("click", "#login_submit", func(s *webtest.Surface, _ *goquery.Selection) {
		user := s.Value(`[name="username"]`)
		if s.Value(`[name="sts_password"]`) == creds.StatusPassword && (user == "" || user == creds.Username) {
			d.loggedIn = true
			_ = s.Goto(context.Background(), baseURL)
			return
		}
		s.Log("error", "POST /authenticate 401")
		if d.showError {
			s.SetText(".error", "Invalid username or password")
			s.Show(".error")
		}
	})
	d.s.On("click", "#menu_toggle", func(s *webtest.Surface, _ *goquery.Selection) {
		s.Show("#navbar-collapse")
	})
	d.s.On("click", "#unlock_submit", func(s *webtest.Surface, _ *goquery.Selection) {
		if s.Value(`[name="cfg_password"]`) == creds.ConfigPassword {
			d.unlocked = true
		}
	})
	return d
}

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newProber(session *snapshot.Session) *auth.Prober {
	return auth.NewProber(auth.DefaultProbeConfig(), creds, session, quietLogger()).WithSleeper(noWait)
}

func TestProbeWithErrorBanner(t *testing.T) {
	d := newDevice(t, loginPage, true)
	store := snapshot.NewStore(t.TempDir(), nil, quietLogger())
	session, err := store.Session("run", "10.0.0.7", "1024x768")
	require.NoError(t, err)

	results, err := newProber(session).Probe(context.Background(), d.s, baseURL)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, interfaces.CredentialIdentity, results[0].CredentialKind)
	assert.Equal(t, interfaces.CredentialSecret, results[1].CredentialKind)
	for _, r := range results {
		assert.Empty(t, r.ProbeError)
		assert.True(t, r.ErrorVisible)
		assert.True(t, r.BannerVisible)
		assert.True(t, r.StillOnAuthSurface)
		assert.Equal(t, "Invalid username or password", r.ErrorMessage)
		assert.Equal(t, authURL, r.URLAfterSubmit)
		require.Len(t, r.ConsoleMessages, 1)
		assert.Len(t, r.SnapshotRefs, 2)
	}
	assert.False(t, d.loggedIn)
	assert.Equal(t, 4, session.Count())
}

func TestProbeDualSignalWithoutBanner(t *testing.T) {
	d := newDevice(t, loginPage, false)

	results, err := newProber(nil).Probe(context.Background(), d.s, baseURL)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.BannerVisible)
		assert.Empty(t, r.ErrorMessage)
		assert.True(t, r.StillOnAuthSurface)
		assert.True(t, r.ErrorVisible)
	}
}

func TestProbeStillOnSurfaceWithoutURLMarker(t *testing.T) {
	const loginURL = "https://10.0.0.8/login"
	s := webtest.New(map[string]string{loginURL: `<html><body>
<input type="password" name="sts_password"><button type="submit">Go</button>
</body></html>`})

	results, err := newProber(nil).Probe(context.Background(), s, loginURL)
	require.NoError(t, err)
	require.Len(t, results, 1, "no identity field means only the secret probe")
	assert.Equal(t, interfaces.CredentialSecret, results[0].CredentialKind)
	assert.True(t, results[0].StillOnAuthSurface)
	assert.True(t, results[0].ErrorVisible)
}

func TestProbeRecordsLoadFailure(t *testing.T) {
	s := webtest.New(nil)
	results, err := newProber(nil).Probe(context.Background(), s, "https://10.0.0.9/")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].ProbeError)
}

func newLogin(c auth.Credentials) *auth.Login {
	return auth.NewLogin(auth.DefaultLoginConfig(), c, quietLogger()).WithSleeper(noWait)
}

func TestAuthenticateDesktop(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, loginPage, true)

	require.NoError(t, newLogin(creds).Authenticate(ctx, d.s, baseURL, false))
	assert.True(t, d.loggedIn)
	assert.True(t, d.unlocked)
	assert.NotContains(t, d.s.Events, "click:menu_toggle")

	expired, err := newLogin(creds).SessionExpired(ctx, d.s)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestAuthenticateMobileUsesMenu(t *testing.T) {
	d := newDevice(t, loginPage, true)

	require.NoError(t, newLogin(creds).Authenticate(context.Background(), d.s, baseURL, true))
	assert.True(t, d.unlocked)
	assert.Contains(t, d.s.Events, "click:menu_toggle")
	assert.Contains(t, d.s.Events, "click:menu_configure")
}

func TestAuthenticateWrongPassword(t *testing.T) {
	d := newDevice(t, loginPage, true)
	bad := creds
	bad.StatusPassword = "nope"

	err := newLogin(bad).Authenticate(context.Background(), d.s, baseURL, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrAuthenticationFailed))
}

func TestSessionExpiredModal(t *testing.T) {
	ctx := context.Background()
	s := webtest.New(map[string]string{baseURL: `<html><body>
<div id="modal-user-session-expire" class="modal in">Session expired</div>
</body></html>`})
	require.NoError(t, s.Goto(ctx, baseURL))

	expired, err := newLogin(creds).SessionExpired(ctx, s)
	require.NoError(t, err)
	assert.True(t, expired)
}
