/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: indicators.go
Description: Page-state indicator detection. Reads the loading mask, satellite loading
text, modal and session-expiry signals from a surface, and collects the loading text
block stored alongside each snapshot.
*/

package snapshot

import (
	"context"
	"regexp"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/web"
)

// Indicator selectors used by the device console
const (
	LoadingMaskSelector    = ".loading-mask, .page-loading-mask"
	ModalSelector          = ".modal.in"
	SessionExpiredSelector = "#modal-user-session-expire.in"
	loadingTextCandidates  = "div, span, p, h1, h2, h3, h4, label, strong"
	overlaySelector        = "[class*='loading']"
	toastSelector          = ".toast, .alert, [role='status']"
)

var loadingTextPattern = regexp.MustCompile(`(?is)Loading.*satellite.*data`)

// DetectIndicators reads the coarse page-state flags from the surface
func DetectIndicators(ctx context.Context, s web.Surface) (interfaces.IndicatorFlags, error) {
	var flags interfaces.IndicatorFlags
	var err error

	if flags.LoadingMask, err = web.IsVisible(ctx, s, web.CSS(LoadingMaskSelector)); err != nil {
		return flags, err
	}
	m, err := web.FirstMatch(ctx, s, []web.Strategy{{
		Name:        "loading_text",
		Locator:     web.CSS(loadingTextCandidates),
		VisibleOnly: true,
		Pattern:     loadingTextPattern,
	}})
	if err != nil {
		return flags, err
	}
	flags.LoadingText = m.Found
	if flags.ModalVisible, err = web.IsVisible(ctx, s, web.CSS(ModalSelector)); err != nil {
		return flags, err
	}
	if flags.SessionExpired, err = web.IsVisible(ctx, s, web.CSS(SessionExpiredSelector)); err != nil {
		return flags, err
	}
	return flags, nil
}

// CaptureLoadingText collects loading, button and toast text. Failures are
// recorded in the Error field rather than returned.
func CaptureLoadingText(ctx context.Context, s web.Surface) interfaces.LoadingText {
	var lt interfaces.LoadingText

	masks, err := web.VisibleTexts(ctx, s, web.CSS(LoadingMaskSelector))
	if err != nil {
		lt.Error = err.Error()
		return lt
	}
	if len(masks) > 0 {
		lt.MaskText = masks[0]
	}

	overlays, err := web.VisibleTexts(ctx, s, web.CSS(overlaySelector))
	if err != nil {
		lt.Error = err.Error()
		return lt
	}
	lt.OverlayText = strings.Join(overlays, " | ")

	buttons, err := s.Query(ctx, web.CSS("button"))
	if err != nil {
		lt.Error = err.Error()
		return lt
	}
	for _, b := range buttons {
		if !b.Visible {
			continue
		}
		lt.Buttons = append(lt.Buttons, interfaces.ButtonState{Text: strings.TrimSpace(b.Text), Disabled: !b.Enabled})
	}

	if lt.Toasts, err = web.VisibleTexts(ctx, s, web.CSS(toastSelector)); err != nil {
		lt.Error = err.Error()
	}
	return lt
}
