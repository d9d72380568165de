/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: extractor_test.go
Description: Tests for validation rule extraction: declarative constraints, scripted
validators, error templates, event-triggered rules, dynamic rule diffs with surface
restoration, multi-step detection and fault isolation.
*/

package analysis_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/analysis"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/kleascm/kronos-explorer/pkg/web/webtest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const generalPage = `<html><head><title>General</title>
<script>
function validateIdentifier(v) {
  if (!v) { showError("Identifier is required"); }
  if (v.length > 20) { showError('Identifier must be at most 20 characters'); }
  var label = "Identifier";
  var ok = "error";
}
</script></head><body>
<form id="general">
  <input type="text" name="identifier" required maxlength="20" title="Device identifier" value="KRONOS">
  <input type="text" name="location" minlength="0" maxlength="524288" value="">
  <input type="text" name="contact" pattern="[a-z]+@[a-z]+" value="ops@site">
  <input type="number" name="display_timeout" min="1" max="60" value="30">
  <select name="baud"><option value="9600">9600</option><option value="19200" selected>19200</option></select>
  <input type="hidden" name="token" required value="x">
  <input type="checkbox" name="enable_dst">
  <input type="text" name="dst_name" value="">
  <span class="error" id="identifier-error" hidden></span>
  <button id="button_save" type="submit">Save</button>
</form>
</body></html>`

const pageURL = "https://10.0.0.2/general"

func noWait(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newExtractor() *analysis.Extractor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return analysis.NewExtractor(analysis.DefaultExtractorConfig(), logger).WithSleeper(noWait)
}

func loadGeneral(t *testing.T) *webtest.Surface {
	t.Helper()
	s := webtest.New(map[string]string{pageURL: generalPage})
	s.On("change", `[name="enable_dst"]`, func(s *webtest.Surface, target *goquery.Selection) {
		if _, checked := target.Attr("checked"); checked {
			s.SetAttr(`[name="dst_name"]`, "required", "")
		} else {
			s.RemoveAttr(`[name="dst_name"]`, "required")
		}
	})
	s.On("blur", `[name="location"]`, func(s *webtest.Surface, target *goquery.Selection) {
		s.SetText("#identifier-error", "Location is invalid")
		s.Show("#identifier-error")
	})
	s.Functions = []web.ScriptFunction{
		{Name: "validateIdentifier", Source: "function validateIdentifier(v) { return v.length <= 20; }"},
		{Name: "checkRange", Source: "function checkRange() {}"},
		{Name: "render", Source: "function render() {}"},
	}
	require.NoError(t, s.Goto(context.Background(), pageURL))
	return s
}

func findConstraint(cs []interfaces.FieldConstraint, field string, kind interfaces.ConstraintKind) *interfaces.FieldConstraint {
	for i := range cs {
		if cs[i].FieldID == field && cs[i].Kind == kind {
			return &cs[i]
		}
	}
	return nil
}

func TestDeclarativeConstraints(t *testing.T) {
	fs, err := analysis.ReadFieldSet(generalPage)
	require.NoError(t, err)
	cs := fs.Constraints()

	req := findConstraint(cs, "identifier", interfaces.KindRequired)
	require.NotNil(t, req)
	assert.Equal(t, "Device identifier", req.DeclaredTitle)

	ml := findConstraint(cs, "identifier", interfaces.KindMaxLength)
	require.NotNil(t, ml)
	assert.Equal(t, "20", ml.BoundValue)

	assert.NotNil(t, findConstraint(cs, "contact", interfaces.KindPattern))

	rng := findConstraint(cs, "display_timeout", interfaces.KindNumericRange)
	require.NotNil(t, rng)
	require.NotNil(t, rng.Min)
	require.NotNil(t, rng.Max)
	assert.Equal(t, 1.0, *rng.Min)
	assert.Equal(t, 60.0, *rng.Max)
	assert.Equal(t, "number", rng.InputType)

	enum := findConstraint(cs, "baud", interfaces.KindEnumerated)
	require.NotNil(t, enum)
	assert.Equal(t, []string{"9600", "19200"}, enum.Options)

	for _, c := range cs {
		assert.NotEqual(t, "location", c.FieldID, "unset minlength/maxlength are not constraints")
		assert.NotEqual(t, "token", c.FieldID, "hidden inputs are skipped")
		assert.NotEqual(t, "dst_name", c.FieldID)
	}
}

func TestMineTemplates(t *testing.T) {
	got := analysis.MineTemplates([]string{
		`alert("Identifier is required"); var x = 'Value must be numeric'; var y = "error";`,
		`notify("Identifier is required"); var z = "Connection failed while saving";`,
	})
	assert.Equal(t, []string{
		"Connection failed while saving",
		"Identifier is required",
		"Value must be numeric",
	}, got)
}

func TestExtractFullRuleSet(t *testing.T) {
	ctx := context.Background()
	s := loadGeneral(t)

	rs, err := newExtractor().Extract(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, rs.Failures)
	assert.False(t, rs.Failed())

	assert.Contains(t, rs.Fields, "identifier")
	assert.NotContains(t, rs.Fields, "location")

	require.Len(t, rs.ScriptedValidators, 2)
	assert.Equal(t, "checkRange", rs.ScriptedValidators[0].Name)
	assert.Equal(t, "validateIdentifier", rs.ScriptedValidators[1].Name)

	assert.Equal(t, []string{
		"Identifier is required",
		"Identifier must be at most 20 characters",
	}, rs.ErrorMessageTemplates)

	require.Len(t, rs.EventTriggeredRules, 1)
	assert.Equal(t, interfaces.EventRule{
		FieldID:          "location",
		Event:            "blur",
		ObservedMessages: []string{"Location is invalid"},
	}, rs.EventTriggeredRules[0])

	require.NotNil(t, rs.MultiStep)
	assert.False(t, rs.MultiStep.Detected)
}

func TestDynamicRuleDiffRestoresSurface(t *testing.T) {
	ctx := context.Background()
	s := loadGeneral(t)
	before, err := s.Content(ctx)
	require.NoError(t, err)
	beforeFields, err := analysis.ReadFieldSet(before)
	require.NoError(t, err)

	rs, err := newExtractor().Extract(ctx, s)
	require.NoError(t, err)

	require.Len(t, rs.DynamicRuleDiffs, 1)
	diff := rs.DynamicRuleDiffs[0]
	assert.Equal(t, "dst_name", diff.FieldID)
	assert.Equal(t, "enable_dst", diff.TriggeringControl)
	assert.Equal(t, "check", diff.Action)
	assert.Equal(t, interfaces.AttributeChange{From: "false", To: "true"}, diff.ChangedAttributes["required"])

	after, err := s.Content(ctx)
	require.NoError(t, err)
	afterFields, err := analysis.ReadFieldSet(after)
	require.NoError(t, err)
	assert.Empty(t, analysis.DiffFieldSets(beforeFields, afterFields))

	assert.Equal(t, "", s.Value(`[name="dst_name"]`))
	assert.Equal(t, "19200", s.Value(`[name="baud"]`))
	assert.Equal(t, "KRONOS", s.Value(`[name="identifier"]`))
	els, err := s.Query(ctx, web.CSS(`[name="enable_dst"]`))
	require.NoError(t, err)
	assert.False(t, els[0].Checked)
}

func TestRadioGroupRestored(t *testing.T) {
	ctx := context.Background()
	s := webtest.New(map[string]string{"u": `<html><body>
<input type="radio" name="mode" value="auto" checked>
<input type="radio" name="mode" value="manual">
<input type="text" name="offset" value="0">
</body></html>`})
	s.On("change", `[name="mode"]`, func(s *webtest.Surface, target *goquery.Selection) {
		_, checked := s.Doc().Find(`[name="mode"][value="manual"]`).Attr("checked")
		if checked {
			s.SetAttr(`[name="offset"]`, "required", "")
		} else {
			s.RemoveAttr(`[name="offset"]`, "required")
		}
	})
	require.NoError(t, s.Goto(ctx, "u"))

	rs, err := newExtractor().Extract(ctx, s)
	require.NoError(t, err)
	require.Len(t, rs.DynamicRuleDiffs, 1)
	assert.Equal(t, "offset", rs.DynamicRuleDiffs[0].FieldID)
	assert.Equal(t, "mode", rs.DynamicRuleDiffs[0].TriggeringControl)

	els, err := s.Query(ctx, web.CSS(`[name="mode"]`))
	require.NoError(t, err)
	assert.True(t, els[0].Checked)
	assert.False(t, els[1].Checked)
}

func TestMultiStepDetection(t *testing.T) {
	ctx := context.Background()
	s := webtest.New(map[string]string{"u": `<html><body>
<div class="step">1</div><div class="step" hidden>2</div>
<button type="button">Next</button>
</body></html>`})
	require.NoError(t, s.Goto(ctx, "u"))

	rs, err := newExtractor().Extract(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, rs.MultiStep)
	assert.True(t, rs.MultiStep.Detected)
	assert.Equal(t, []interfaces.SelectorCount{{Selector: ".step", Count: 2, Visible: 1}}, rs.MultiStep.StepIndicators)
	require.Len(t, rs.MultiStep.NavigationControls, 1)
	assert.Equal(t, `button:has-text("Next")`, rs.MultiStep.NavigationControls[0].Selector)
}

type brokenScripts struct {
	*webtest.Surface
}

func (b brokenScripts) GlobalFunctions(ctx context.Context, q web.FunctionQuery) ([]web.ScriptFunction, error) {
	return nil, errors.New("evaluation blocked by page")
}

func TestExtractIsolatesStepFailures(t *testing.T) {
	ctx := context.Background()
	s := loadGeneral(t)

	rs, err := newExtractor().Extract(ctx, brokenScripts{s})
	require.NoError(t, err)
	assert.True(t, rs.Failed())
	assert.Contains(t, rs.Failures, analysis.StepScripted)
	assert.NotEmpty(t, rs.DeclarativeConstraints)
	assert.NotEmpty(t, rs.ErrorMessageTemplates)
}

func TestExtractPropagatesLostSurface(t *testing.T) {
	s := loadGeneral(t)
	s.Lost = true

	_, err := newExtractor().Extract(context.Background(), s)
	require.Error(t, err)
	assert.True(t, web.IsFatal(err))
}
