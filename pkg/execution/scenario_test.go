/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scenario_test.go
Description: Tests for the error scenario executor: required-field scenario, input
rejection fallback, missing fields, save-control state, recovery and idempotence.
*/

package execution_test

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/analysis"
	"github.com/kleascm/kronos-explorer/pkg/execution"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/kleascm/kronos-explorer/pkg/strategies"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/kleascm/kronos-explorer/pkg/web/webtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const generalURL = "https://10.0.0.5/general"

const generalPage = `<html><head><title>General</title></head><body>
<form>
  <input type="text" id="identifier" name="identifier" required maxlength="20" value="KRONOS-1">
  <span class="error" id="identifier-error" hidden></span>
  <input type="text" name="location" maxlength="32" value="Rack 4">
  <input type="number" name="display_timeout" min="1" max="60" value="30">
  <input type="text" name="contact" pattern="[a-z]+@[a-z.]+" value="ops@example.com">
  <div class="alert-danger" hidden></div>
  <button id="button_save" type="submit">Save</button>
  <button id="button_cancel" type="button">Cancel</button>
</form>
</body></html>`

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// enforcingSurface models a page that validates identifier on blur and
// display_timeout on change
func enforcingSurface(t *testing.T) *webtest.Surface {
	t.Helper()
	s := webtest.New(map[string]string{generalURL: generalPage})
	s.On("blur", `[name="identifier"]`, func(s *webtest.Surface, target *goquery.Selection) {
		if s.Value(`[name="identifier"]`) == "" {
			s.SetText("#identifier-error", "Identifier is required")
			s.Show("#identifier-error")
			s.SetAttr("#button_save", "disabled", "")
			s.Log("error", "validation failed: identifier")
		}
	})
	s.On("change", `[name="display_timeout"]`, func(s *webtest.Surface, target *goquery.Selection) {
		if s.Value(`[name="display_timeout"]`) == "0" {
			s.SetText(".alert-danger", "Value must be at least the minimum of 1")
			s.Show(".alert-danger")
		}
	})
	s.On("click", "#button_cancel", func(s *webtest.Surface, target *goquery.Selection) {
		s.Log("info", "changes discarded")
	})
	require.NoError(t, s.Goto(context.Background(), generalURL))
	return s
}

func newExecutor(session *snapshot.Session) *execution.Executor {
	return execution.NewExecutor(execution.DefaultExecutorConfig(), session, quietLogger()).WithSleeper(noWait)
}

func TestRequiredFieldScenario(t *testing.T) {
	ctx := context.Background()
	s := enforcingSurface(t)

	tc := interfaces.TestCase{
		FieldID:              "identifier",
		Category:             interfaces.CategoryRequiredEmpty,
		InvalidValue:         "",
		ExpectedErrorPattern: strategies.PatternRequired,
	}
	obs, err := newExecutor(nil).Execute(ctx, s, "general", tc)
	require.NoError(t, err)

	assert.True(t, obs.ErrorDetected)
	assert.Regexp(t, regexp.MustCompile(`(?i)required`), obs.ErrorMessage)
	assert.True(t, obs.MatchedExpected)
	assert.Equal(t, "field:sibling", obs.ErrorStrategy)
	assert.Equal(t, `text="Identifier is required"`, obs.ErrorLocatorHint)
	require.NotNil(t, obs.SaveActionDisabled)
	assert.True(t, *obs.SaveActionDisabled)
	assert.Equal(t, "KRONOS-1", obs.BaselineValue)
	assert.Equal(t, interfaces.OutcomeErrorShown, obs.Outcome)
	require.Len(t, obs.ConsoleMessages, 1)
	assert.Equal(t, "error", obs.ConsoleMessages[0].Level)
}

func TestPageGlobalErrorRegion(t *testing.T) {
	s := enforcingSurface(t)
	obs, err := newExecutor(nil).Execute(context.Background(), s, "general", interfaces.TestCase{
		FieldID:              "display_timeout",
		Category:             interfaces.CategoryBelowMinimum,
		InvalidValue:         "0",
		ExpectedErrorPattern: strategies.PatternBelowMin,
	})
	require.NoError(t, err)
	assert.True(t, obs.ErrorDetected)
	assert.Equal(t, "page:alert_danger", obs.ErrorStrategy)
	assert.True(t, obs.MatchedExpected)
	assert.Equal(t, `text="Value must be at least the min"`, obs.ErrorLocatorHint)
}

func TestInputRejectedFallsBackToAssignment(t *testing.T) {
	s := enforcingSurface(t)
	value := strings.Repeat("X", 42)

	obs, err := newExecutor(nil).Execute(context.Background(), s, "general", interfaces.TestCase{
		FieldID:              "location",
		Category:             interfaces.CategoryExceedsMaxLength,
		InvalidValue:         value,
		ExpectedErrorPattern: strategies.PatternTooLong,
	})
	require.NoError(t, err)
	assert.True(t, obs.InputRejected)
	assert.False(t, obs.ErrorDetected)
	assert.Equal(t, value, s.Value(`[name="location"]`))
	require.NotNil(t, obs.SaveActionDisabled)
	assert.False(t, *obs.SaveActionDisabled)
	assert.Equal(t, interfaces.OutcomeInputRejected, obs.Outcome)
}

func TestSilentlyAcceptedValue(t *testing.T) {
	s := enforcingSurface(t)
	obs, err := newExecutor(nil).Execute(context.Background(), s, "general", interfaces.TestCase{
		FieldID:              "contact",
		Category:             interfaces.CategoryPatternViolation,
		InvalidValue:         "Invalid!@#$%^&*()",
		ExpectedErrorPattern: strategies.PatternFormat,
	})
	require.NoError(t, err)
	assert.False(t, obs.ErrorDetected)
	assert.Equal(t, interfaces.OutcomeValidationMissing, obs.Outcome)
}

func TestMissingFieldIsRecordedNotRaised(t *testing.T) {
	s := enforcingSurface(t)
	obs, err := newExecutor(nil).Execute(context.Background(), s, "general", interfaces.TestCase{
		FieldID:  "server2",
		Category: interfaces.CategoryRequiredEmpty,
	})
	require.NoError(t, err)
	assert.False(t, obs.ErrorDetected)
	assert.Equal(t, execution.FieldNotFound, obs.ErrorMessage)
	assert.Equal(t, interfaces.OutcomeFieldNotFound, obs.Outcome)
}

func TestLostSurfacePropagates(t *testing.T) {
	s := enforcingSurface(t)
	s.Lost = true
	_, err := newExecutor(nil).Execute(context.Background(), s, "general", interfaces.TestCase{FieldID: "identifier"})
	require.Error(t, err)
	assert.True(t, web.IsFatal(err))
}

func TestRecoverCancelsThenReloads(t *testing.T) {
	ctx := context.Background()
	s := enforcingSurface(t)
	require.NoError(t, s.Fill(ctx, web.CSS(`[name="identifier"]`), "dirty"))

	require.NoError(t, newExecutor(nil).Recover(ctx, s, generalURL))
	assert.Contains(t, s.Events, "click:button_cancel")
	assert.Equal(t, []string{generalURL, generalURL}, s.Gotos)
	assert.Equal(t, "KRONOS-1", s.Value(`[name="identifier"]`))
}

func TestRecoverReloadsWithoutCancelControl(t *testing.T) {
	ctx := context.Background()
	s := webtest.New(map[string]string{"u": `<html><body><input name="identifier" value="a"></body></html>`})
	require.NoError(t, s.Goto(ctx, "u"))
	require.NoError(t, s.Fill(ctx, web.CSS(`[name="identifier"]`), "b"))

	require.NoError(t, newExecutor(nil).Recover(ctx, s, "u"))
	assert.Equal(t, "a", s.Value(`[name="identifier"]`))
}

func TestRecoverReportsNavigationFailure(t *testing.T) {
	s := enforcingSurface(t)
	err := newExecutor(nil).Recover(context.Background(), s, "https://10.0.0.5/missing")
	assert.Error(t, err)
}

// Every synthesized case, once executed and recovered, leaves its field at
// the baseline value
func TestExecuteRecoverIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := enforcingSurface(t)

	fs, err := analysis.ReadFieldSet(generalPage)
	require.NoError(t, err)
	cases := strategies.Synthesize(&interfaces.ValidationRuleSet{DeclarativeConstraints: fs.Constraints()}, strategies.DefaultAllowList())
	require.NotEmpty(t, cases)

	store := snapshot.NewStore(t.TempDir(), nil, quietLogger())
	session, err := store.Session("run-1", "10.0.0.5", "1024x768")
	require.NoError(t, err)
	exec := newExecutor(session)

	for _, tc := range cases {
		css := `[name="` + tc.FieldID + `"]`
		baseline := s.Value(css)

		obs, err := exec.Run(ctx, s, "general", generalURL, tc)
		require.NoError(t, err, tc.ID())
		assert.True(t, obs.Recovered, tc.ID())
		assert.Equal(t, baseline, obs.BaselineValue, tc.ID())
		assert.Equal(t, baseline, s.Value(css), tc.ID())
		require.Len(t, obs.SnapshotRefs, 1, tc.ID())
		_, statErr := os.Stat(obs.SnapshotRefs[0].Visual)
		assert.NoError(t, statErr)
	}
	assert.Equal(t, len(cases), session.Count())
}
