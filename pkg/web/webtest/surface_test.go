/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: surface_test.go
Description: Tests for the in-memory surface used across the engine tests.
*/

package webtest

import (
	"context"
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/kleascm/kronos-explorer/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><title>Display</title></head><body>
<input name="display_timeout" type="number" min="1" max="60" value="30">
<input name="identifier" maxlength="5" value="abc">
<input type="radio" name="mode" value="a" checked>
<input type="radio" name="mode" value="b">
<select name="baud"><option value="9600">9600</option><option value="19200" selected>19200</option></select>
<div style="display: none"><span class="msg">inner</span></div>
</body></html>`

func load(t *testing.T) *Surface {
	t.Helper()
	s := New(map[string]string{"u": page})
	require.NoError(t, s.Goto(context.Background(), "u"))
	return s
}

func TestFillInputFiltering(t *testing.T) {
	ctx := context.Background()
	s := load(t)

	err := s.Fill(ctx, web.CSS(`[name="display_timeout"]`), "abc")
	assert.True(t, errors.Is(err, web.ErrInputRejected))
	assert.Equal(t, "", s.Value(`[name="display_timeout"]`))

	err = s.Fill(ctx, web.CSS(`[name="identifier"]`), "abcdefgh")
	assert.True(t, errors.Is(err, web.ErrInputRejected))
	assert.Equal(t, "abcde", s.Value(`[name="identifier"]`))

	require.NoError(t, s.SetValue(ctx, web.CSS(`[name="identifier"]`), "abcdefgh"))
	assert.Equal(t, "abcdefgh", s.Value(`[name="identifier"]`))
}

func TestRadioAndSelect(t *testing.T) {
	ctx := context.Background()
	s := load(t)

	require.NoError(t, s.SetChecked(ctx, web.CSS(`[name="mode"]`).At(1), true))
	els, err := s.Query(ctx, web.CSS(`[name="mode"]`))
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.False(t, els[0].Checked)
	assert.True(t, els[1].Checked)

	assert.Equal(t, "19200", s.Value(`[name="baud"]`))
	require.NoError(t, s.SelectOption(ctx, web.CSS(`[name="baud"]`), "9600"))
	assert.Equal(t, "9600", s.Value(`[name="baud"]`))
	assert.Error(t, s.SelectOption(ctx, web.CSS(`[name="baud"]`), "1"))
}

func TestHandlersAndReload(t *testing.T) {
	ctx := context.Background()
	s := load(t)
	s.On("blur", `[name="identifier"]`, func(s *Surface, target *goquery.Selection) {
		s.Log("error", "blurred "+target.AttrOr("value", ""))
	})

	require.NoError(t, s.SetValue(ctx, web.CSS(`[name="identifier"]`), "zz"))
	require.NoError(t, s.DispatchEvent(ctx, web.CSS(`[name="identifier"]`), "blur"))
	logs := s.ConsoleMessages()
	require.Len(t, logs, 1)
	assert.Equal(t, "blurred zz", logs[0].Text)
	assert.Empty(t, s.ConsoleMessages())

	require.NoError(t, s.Reload(ctx))
	assert.Equal(t, "abc", s.Value(`[name="identifier"]`))
	assert.Equal(t, []string{"u", "u"}, s.Gotos)
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	s := load(t)

	visible, err := web.IsVisible(ctx, s, web.CSS(".msg"))
	require.NoError(t, err)
	assert.False(t, visible)

	s.Show("div")
	visible, err = web.IsVisible(ctx, s, web.CSS(".msg"))
	require.NoError(t, err)
	assert.True(t, visible)

	s.Lost = true
	_, err = s.Query(ctx, web.CSS(".msg"))
	assert.True(t, web.IsFatal(err))
}
