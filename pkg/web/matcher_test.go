/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: matcher_test.go
Description: Tests for ordered locator strategies, field lookup fallbacks, locator
helpers and script result mapping.
*/

package web_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/kleascm/kronos-explorer/pkg/web/webtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formPage = `<html><head><title>General</title></head><body>
<form>
  <input name="identifier" id="ident" value="KRONOS-1">
  <input id="location" value="Lab">
  <input id="odd.id" value="x">
  <span class="error" hidden>hidden error</span>
  <span class="error">Identifier is required</span>
  <button id="button_save" disabled>Save</button>
  <button type="button" class="btn-default">Cancel</button>
</form>
</body></html>`

func loadForm(t *testing.T) *webtest.Surface {
	t.Helper()
	s := webtest.New(map[string]string{"https://10.0.0.1/general": formPage})
	require.NoError(t, s.Goto(context.Background(), "https://10.0.0.1/general"))
	return s
}

func TestFirstMatchOrder(t *testing.T) {
	ctx := context.Background()
	s := loadForm(t)

	m, err := web.FirstMatch(ctx, s, []web.Strategy{
		{Name: "missing", Locator: web.CSS(".validation-error")},
		{Name: "visible_error", Locator: web.CSS(".error"), VisibleOnly: true},
	})
	require.NoError(t, err)
	require.True(t, m.Found)
	assert.Equal(t, "visible_error", m.Strategy)
	assert.Equal(t, 1, m.Locator.Nth)
	assert.Equal(t, "Identifier is required", m.Element.Text)
}

func TestFirstMatchPattern(t *testing.T) {
	ctx := context.Background()
	s := loadForm(t)

	m, err := web.FirstMatch(ctx, s, []web.Strategy{
		{Name: "pattern", Locator: web.CSS(".error"), Pattern: regexp.MustCompile(`(?i)required`)},
	})
	require.NoError(t, err)
	assert.True(t, m.Found)

	m, err = web.FirstMatch(ctx, s, []web.Strategy{
		{Name: "pattern", Locator: web.CSS(".error"), Pattern: regexp.MustCompile(`(?i)denied`)},
	})
	require.NoError(t, err)
	assert.False(t, m.Found)
}

func TestFirstMatchSurfaceLost(t *testing.T) {
	s := loadForm(t)
	s.Lost = true

	_, err := web.FirstMatch(context.Background(), s, []web.Strategy{{Name: "any", Locator: web.CSS("input")}})
	assert.True(t, web.IsFatal(err))
}

func TestFieldStrategies(t *testing.T) {
	ctx := context.Background()
	s := loadForm(t)

	cases := map[string]string{
		"identifier": "name",
		"location":   "id",
		"odd.id":     "id_attr",
	}
	for field, strategy := range cases {
		t.Run(field, func(t *testing.T) {
			m, err := web.FirstMatch(ctx, s, web.FieldStrategies(field))
			require.NoError(t, err)
			require.True(t, m.Found)
			assert.Equal(t, strategy, m.Strategy)
		})
	}

	m, err := web.FirstMatch(ctx, s, web.FieldStrategies("nope"))
	require.NoError(t, err)
	assert.False(t, m.Found)
}

func TestSurfaceHelpers(t *testing.T) {
	ctx := context.Background()
	s := loadForm(t)

	n, err := web.Count(ctx, s, web.CSS("button"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	enabled, err := web.IsEnabled(ctx, s, web.CSS("#button_save"))
	require.NoError(t, err)
	assert.False(t, enabled)

	v, err := web.InputValue(ctx, s, web.CSS("[name=\"identifier\"]"))
	require.NoError(t, err)
	assert.Equal(t, "KRONOS-1", v)

	text, err := web.TextContent(ctx, s, web.CSS("button").WithText("cancel"))
	require.NoError(t, err)
	assert.Equal(t, "Cancel", text)

	texts, err := web.VisibleTexts(ctx, s, web.CSS(".error"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Identifier is required"}, texts)

	_, err = web.First(ctx, s, web.CSS("#nothing"))
	assert.True(t, errors.Is(err, web.ErrNotFound))
}

func TestLocatorHint(t *testing.T) {
	assert.Equal(t, `text="short"`, web.LocatorHint("  short ", 30))
	assert.Equal(t, `text="Identifier must not exceed 20"`, web.LocatorHint("Identifier must not exceed 20 characters", 30))
}

func TestLocatorString(t *testing.T) {
	loc := web.CSS("button").WithText("Save").At(2)
	assert.Equal(t, `button:has-text("Save") >> nth=2`, loc.String())
	assert.Equal(t, "#button_save", web.IDSelector("button_save"))
	assert.Equal(t, `[id="a.b"]`, web.IDSelector("a.b"))
}
